// Package ratelimit provides the per-IP and global token-bucket
// throttles that guard connection accept and EVENT/REQ/COUNT handling
// ahead of the acceptance pipeline. It is an operational safety net,
// not part of the protocol's correctness surface.
package ratelimit

import (
	"math"
	"time"

	"github.com/juju/ratelimit"
)

// Limiter wraps a token bucket. Safe for concurrent use: the
// underlying juju/ratelimit.Bucket guards its own state.
type Limiter struct {
	bucket *ratelimit.Bucket
}

// New creates a limiter that refills at ratePerSecond tokens per
// second, up to capacity tokens. A non-positive rate never refills:
// the bucket starts with capacity tokens and gains no more.
func New(ratePerSecond float64, capacity int64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if ratePerSecond <= 0 {
		return &Limiter{bucket: ratelimit.NewBucket(time.Duration(math.MaxInt64), capacity)}
	}
	return &Limiter{bucket: ratelimit.NewBucketWithRate(ratePerSecond, capacity)}
}

// NewWithInterval creates a limiter that adds count tokens, up to
// count capacity, once per interval.
func NewWithInterval(count int64, interval time.Duration) *Limiter {
	return &Limiter{bucket: ratelimit.NewBucket(interval, count)}
}

// Allow reports whether a single request may proceed now, consuming a
// token if so.
func (l *Limiter) Allow() bool {
	return l.bucket.TakeAvailable(1) > 0
}

// AllowN reports whether n requests may proceed now, consuming n
// tokens if so.
func (l *Limiter) AllowN(n int64) bool {
	return l.bucket.TakeAvailable(n) >= n
}

// Wait blocks until a token is available.
func (l *Limiter) Wait() {
	l.bucket.Wait(1)
}

// WaitN blocks until n tokens are available.
func (l *Limiter) WaitN(n int64) {
	l.bucket.Wait(n)
}
