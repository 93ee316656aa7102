package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := NewBackoff(RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	b.jitter = func(int64) int64 { return 0 }

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	for range 200 {
		b.attempt = 0
		d := b.Next()
		if d < 100*time.Millisecond || d >= 200*time.Millisecond {
			t.Fatalf("delay %v outside [100ms, 200ms)", d)
		}
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	b := NewBackoff(RetryPolicy{MaxAttempts: 3})
	if d := b.Next(); d != 0 {
		t.Errorf("zero base delay = %v, want 0", d)
	}
}

func TestWait(t *testing.T) {
	t.Run("elapses", func(t *testing.T) {
		clock := newFakeClock()
		if err := Wait(context.Background(), clock, time.Second); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if w := clock.Waits(); len(w) != 1 || w[0] != time.Second {
			t.Errorf("waits = %v", w)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		clock := newFakeClock()
		clock.block = true
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-clock.waiting
			cancel()
		}()
		if err := Wait(ctx, clock, time.Hour); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("already cancelled skips the clock", func(t *testing.T) {
		clock := newFakeClock()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := Wait(ctx, clock, time.Second); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if len(clock.Waits()) != 0 {
			t.Error("clock consulted after cancellation")
		}
	})
}
