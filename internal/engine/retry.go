package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// Clock abstracts wall-clock time so tests can run backoff and TTL deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the real clock.
var SystemClock Clock = realClock{}

// Backoff yields the delay before each retry: base doubling per attempt, capped at
// MaxDelay, plus a uniform random jitter in [0, delay).
type Backoff struct {
	policy  RetryPolicy
	attempt int
	jitter  func(n int64) int64
}

// NewBackoff starts a delay sequence for one backend.
func NewBackoff(p RetryPolicy) *Backoff {
	return &Backoff{policy: p, jitter: rand.Int64N}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.policy.BaseDelay
	for i := 0; i < b.attempt && (b.policy.MaxDelay <= 0 || d < b.policy.MaxDelay); i++ {
		d *= 2
	}
	if b.policy.MaxDelay > 0 && d > b.policy.MaxDelay {
		d = b.policy.MaxDelay
	}
	b.attempt++
	if d <= 0 {
		return 0
	}
	return d + time.Duration(b.jitter(int64(d)))
}

// Wait blocks for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
