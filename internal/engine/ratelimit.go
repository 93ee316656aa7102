package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter paces outbound backend calls and caps how many run at once.
// It is shared by every request of an Orchestrator.
type Limiter struct {
	pace *rate.Limiter       // nil = unpaced
	sem  *semaphore.Weighted // nil = unbounded
}

// NewLimiter builds a limiter allowing one call per interval (burst extra) and at most
// maxInFlight outstanding permits. Zero values disable the respective constraint.
func NewLimiter(interval time.Duration, burst, maxInFlight int) *Limiter {
	l := &Limiter{}
	if interval > 0 {
		if burst < 1 {
			burst = 1
		}
		l.pace = rate.NewLimiter(rate.Every(interval), burst)
	}
	if maxInFlight > 0 {
		l.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return l
}

// Permit is a scoped grant from Limiter. Release is idempotent.
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the permit. Safe to call more than once and on a nil permit.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Acquire blocks until both the concurrency slot and the pacing token are available.
// It returns ctx.Err() promptly when ctx is done. Callers must defer Release.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	p := &Permit{}
	if l.sem != nil {
		p.release = func() { l.sem.Release(1) }
	}
	if l.pace != nil {
		if err := l.pace.Wait(ctx); err != nil {
			p.Release()
			if ctx.Err() == nil {
				// rate refuses waits that would overrun the deadline
				return nil, context.DeadlineExceeded
			}
			return nil, ctx.Err()
		}
	}
	return p, nil
}
