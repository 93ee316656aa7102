package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock advances virtual time instantly on After, or parks forever when blocking.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	block   bool
	waiting chan struct{} // signalled on every After call when blocking
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), waiting: make(chan struct{}, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if c.block {
		select {
		case c.waiting <- struct{}{}:
		default:
		}
		return make(chan time.Time)
	}
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// countingBackend records calls and answers with fn.
type countingBackend struct {
	calls atomic.Int32
	fn    func(ctx context.Context, id VideoID, lang string, call int) (Outcome, error)
}

func (b *countingBackend) Extract(ctx context.Context, id VideoID, lang string) (Outcome, error) {
	n := int(b.calls.Add(1))
	return b.fn(ctx, id, lang, n)
}

func (b *countingBackend) Calls() int { return int(b.calls.Load()) }

func succeeding(text string) *countingBackend {
	return &countingBackend{fn: func(_ context.Context, id VideoID, lang string, _ int) (Outcome, error) {
		return Succeeded(id, "", lang, []Entry{{Text: text, Start: 0, Duration: 1}}), nil
	}}
}

func terminal(reason string) *countingBackend {
	return &countingBackend{fn: func(_ context.Context, id VideoID, lang string, _ int) (Outcome, error) {
		return Terminal(id, "", lang, reason), nil
	}}
}

func retryable(reason string) *countingBackend {
	return &countingBackend{fn: func(_ context.Context, id VideoID, lang string, _ int) (Outcome, error) {
		return Retryable(id, "", lang, reason), nil
	}}
}

// testConfig returns an unpaced config ordered by names.
func testConfig(names ...string) Config {
	cfg := DefaultConfig()
	cfg.BackendOrder = names
	cfg.RateInterval = 0
	cfg.MaxInFlight = 0
	cfg.DefaultRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	return cfg
}

type namedBackend struct {
	name string
	b    Backend
	paid bool
}

func registryOf(backends ...namedBackend) (*Registry, []string) {
	entries := make([]Registered, len(backends))
	names := make([]string, len(backends))
	for i, nb := range backends {
		entries[i] = Registered{Descriptor: Descriptor{Name: nb.name, Paid: nb.paid}, Backend: nb.b}
		names[i] = nb.name
	}
	reg, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return reg, names
}

const testVideo = "dQw4w9WgXcQ"
