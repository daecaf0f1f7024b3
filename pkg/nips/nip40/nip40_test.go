package nip40_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/nips/nip40"
)

func TestIsExpired(t *testing.T) {
	past := strconv.FormatInt(time.Now().Unix()-10, 10)
	future := strconv.FormatInt(time.Now().Unix()+1000, 10)

	expired := &event.Event{Tags: [][]string{{"expiration", past}}}
	if !nip40.IsExpired(expired) {
		t.Errorf("expected past expiration to be expired")
	}

	notExpired := &event.Event{Tags: [][]string{{"expiration", future}}}
	if nip40.IsExpired(notExpired) {
		t.Errorf("expected future expiration to not be expired")
	}

	noTag := &event.Event{}
	if nip40.IsExpired(noTag) {
		t.Errorf("expected no-expiration event to not be expired")
	}

	unparsable := &event.Event{Tags: [][]string{{"expiration", "not-a-number"}}}
	if nip40.IsExpired(unparsable) {
		t.Errorf("expected unparsable expiration to not be treated as expired")
	}
}
