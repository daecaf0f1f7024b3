// Package nip40 implements expiration-tag handling: events carrying
// an "expiration" tag are accepted but never persisted or delivered
// once that timestamp has passed.
package nip40

import (
	"time"

	"github.com/paul/glienicke/pkg/event"
)

// IsExpired reports whether evt's expiration tag names a timestamp
// that has already passed.
func IsExpired(evt *event.Event) bool {
	ts, ok := evt.Expiration()
	if !ok {
		return false
	}
	return time.Now().Unix() > ts
}

// ShouldRejectEvent reports whether evt should be accepted-but-not-
// persisted because it is already expired (spec §4.3 step 5).
func ShouldRejectEvent(evt *event.Event) bool {
	return IsExpired(evt)
}

// ShouldFilterEvent reports whether evt should be suppressed from
// query results because it has expired (spec §6, §8 invariant 5).
func ShouldFilterEvent(evt *event.Event) bool {
	return IsExpired(evt)
}
