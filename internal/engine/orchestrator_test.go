package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, clock *fakeClock, mutate func(*Config), backends ...namedBackend) *Orchestrator {
	t.Helper()
	reg, names := registryOf(backends...)
	cfg := testConfig(names...)
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg, reg, WithClock(clock))
	require.NoError(t, err)
	return o
}

func TestGet_InvalidIdentifierCallsNoBackend(t *testing.T) {
	a := succeeding("hi")
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	for _, in := range []string{"https://example.com/watch?v=nope", "not-a-video"} {
		out, err := o.Get(context.Background(), in, "")
		require.ErrorIs(t, err, ErrInvalidIdentifier, in)
		assert.False(t, out.Success, in)
	}
	assert.Equal(t, 0, a.Calls())
	assert.EqualValues(t, 2, o.Metrics().Invalid.Load())
}

func TestGet_FallsBackInOrder(t *testing.T) {
	a, b, c := terminal("captions disabled"), terminal("no tracks"), succeeding("hello")
	o := newTestOrchestrator(t, newFakeClock(), nil,
		namedBackend{name: "a", b: a}, namedBackend{name: "b", b: b}, namedBackend{name: "c", b: c})

	out, err := o.Get(context.Background(), "https://youtu.be/"+testVideo, "en")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "c", out.Method)
	assert.Equal(t, VideoID(testVideo), out.VideoID)
	assert.Equal(t, "en", out.Language)
	assert.Equal(t, []int{1, 1, 1}, []int{a.Calls(), b.Calls(), c.Calls()})
}

func TestGet_RetryBoundIsExact(t *testing.T) {
	clock := newFakeClock()
	a := retryable("HTTP 503")
	b := terminal("no tracks")
	o := newTestOrchestrator(t, clock, nil, namedBackend{name: "a", b: a}, namedBackend{name: "b", b: b})

	out, err := o.Get(context.Background(), testVideo, "en")
	require.ErrorIs(t, err, ErrAllBackendsExhausted)
	assert.False(t, out.Success)
	assert.Empty(t, out.Method)
	assert.Equal(t, 3, a.Calls())
	assert.Equal(t, 1, b.Calls(), "terminal failures are not retried")
	assert.Len(t, clock.Waits(), 2)

	var exh *ExhaustedError
	require.ErrorAs(t, err, &exh)
	require.Len(t, exh.Failures, 2)
	assert.Equal(t, BackendFailure{Backend: "a", Kind: FailureRetryable, Reason: "HTTP 503"}, exh.Failures[0])
	assert.Equal(t, "b", exh.Failures[1].Backend)
	assert.Contains(t, out.Error, "a: HTTP 503")
	assert.EqualValues(t, 2, o.Metrics().Retries.Load())
}

func TestGet_RetryThenSucceed(t *testing.T) {
	a := &countingBackend{fn: func(_ context.Context, id VideoID, lang string, call int) (Outcome, error) {
		if call < 2 {
			return Retryable(id, "", lang, "timeout"), nil
		}
		return Succeeded(id, "", lang, []Entry{{Text: "ok"}}), nil
	}}
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	out, err := o.Get(context.Background(), testVideo, "en")
	require.NoError(t, err)
	assert.Equal(t, "a", out.Method)
	assert.Equal(t, 2, a.Calls())
}

func TestGet_PerBackendRetryPolicy(t *testing.T) {
	a := retryable("busy")
	o := newTestOrchestrator(t, newFakeClock(), func(c *Config) {
		c.Retry = map[string]RetryPolicy{"a": {MaxAttempts: 1}}
	}, namedBackend{name: "a", b: a})

	_, err := o.Get(context.Background(), testVideo, "en")
	require.ErrorIs(t, err, ErrAllBackendsExhausted)
	assert.Equal(t, 1, a.Calls())
}

func TestGet_CachesSuccessOnly(t *testing.T) {
	a := &countingBackend{fn: func(_ context.Context, id VideoID, lang string, call int) (Outcome, error) {
		if call == 1 {
			return Terminal(id, "", lang, "not yet"), nil
		}
		return Succeeded(id, "", lang, []Entry{{Text: "later"}}), nil
	}}
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})
	ctx := context.Background()

	_, err := o.Get(ctx, testVideo, "en")
	require.ErrorIs(t, err, ErrAllBackendsExhausted)

	first, err := o.Get(ctx, testVideo, "en")
	require.NoError(t, err)
	second, err := o.Get(ctx, testVideo, "en")
	require.NoError(t, err)

	assert.Equal(t, 2, a.Calls(), "failure must not be cached, success must be")
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, first.Method, second.Method)
	assert.EqualValues(t, 1, o.Metrics().CacheHits.Load())
}

func TestGet_CacheKeyedByLanguage(t *testing.T) {
	a := succeeding("x")
	o := newTestOrchestrator(t, newFakeClock(), func(c *Config) { c.LanguageFallback = false }, namedBackend{name: "a", b: a})
	ctx := context.Background()

	_, err := o.Get(ctx, testVideo, "en")
	require.NoError(t, err)
	_, err = o.Get(ctx, testVideo, "de")
	require.NoError(t, err)
	_, err = o.Get(ctx, "https://www.youtube.com/watch?v="+testVideo, "")
	require.NoError(t, err)

	assert.Equal(t, 2, a.Calls(), "default language shares the en entry")
}

func TestGet_CancelDuringBackoff(t *testing.T) {
	clock := newFakeClock()
	clock.block = true
	a, b := retryable("HTTP 429"), succeeding("never")
	o := newTestOrchestrator(t, clock, nil, namedBackend{name: "a", b: a}, namedBackend{name: "b", b: b})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-clock.waiting
		cancel()
	}()

	out, err := o.Get(ctx, testVideo, "en")
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, out.Success)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 0, b.Calls(), "no backend runs after cancellation")
	assert.EqualValues(t, 1, o.Metrics().Cancelled.Load())
}

func TestGet_DeadlineIsTimedOut(t *testing.T) {
	clock := newFakeClock()
	clock.block = true
	a := retryable("HTTP 503")
	o := newTestOrchestrator(t, clock, nil, namedBackend{name: "a", b: a})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Get(ctx, testVideo, "en")
	require.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, errors.Is(err, ErrCancelled))
}

func TestGet_AlreadyCancelledContext(t *testing.T) {
	a := succeeding("x")
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Get(ctx, testVideo, "en")
	require.ErrorIs(t, err, ErrCancelled)
}

func TestGet_UnexpectedErrorStopsChain(t *testing.T) {
	boom := errors.New("boom")
	a := &countingBackend{fn: func(context.Context, VideoID, string, int) (Outcome, error) {
		return Outcome{}, boom
	}}
	b := succeeding("never")
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a}, namedBackend{name: "b", b: b})

	_, err := o.Get(context.Background(), testVideo, "en")
	require.ErrorIs(t, err, boom)
	assert.True(t, IsUnexpected(err))
	assert.Equal(t, 1, a.Calls(), "unexpected errors are not retried")
	assert.Equal(t, 0, b.Calls())
}

func TestGet_PanicBecomesUnexpected(t *testing.T) {
	a := &countingBackend{fn: func(context.Context, VideoID, string, int) (Outcome, error) {
		panic("nil map")
	}}
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	_, err := o.Get(context.Background(), testVideo, "en")
	var ue *UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "a", ue.Backend)
	assert.Contains(t, err.Error(), "nil map")
}

func TestGet_OrdersAndClampsEntries(t *testing.T) {
	a := &countingBackend{fn: func(_ context.Context, id VideoID, lang string, _ int) (Outcome, error) {
		return Succeeded(id, "", lang, []Entry{
			{Text: "second", Start: 2, Duration: 1},
			{Text: "first", Start: -1, Duration: -3},
			{Text: "middle", Start: 1, Duration: 1},
		}), nil
	}}
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	out, err := o.Get(context.Background(), testVideo, "en")
	require.NoError(t, err)
	require.Len(t, out.Entries, 3)
	assert.Equal(t, Entry{Text: "first", Start: 0, Duration: 0}, out.Entries[0])
	assert.Equal(t, "middle", out.Entries[1].Text)
	assert.Equal(t, "second", out.Entries[2].Text)
}

func TestGet_LanguageFallback(t *testing.T) {
	a := &countingBackend{fn: func(_ context.Context, id VideoID, lang string, _ int) (Outcome, error) {
		if lang != "en" {
			return Terminal(id, "", lang, "no "+lang+" captions"), nil
		}
		return Succeeded(id, "", lang, []Entry{{Text: "english"}}), nil
	}}
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	out, err := o.Get(context.Background(), testVideo, "de")
	require.NoError(t, err)
	assert.Equal(t, "en", out.Language)
	assert.Equal(t, 2, a.Calls())
}

func TestGet_LanguageFallbackMergesFailures(t *testing.T) {
	a := terminal("no captions")
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	_, err := o.Get(context.Background(), testVideo, "fr")
	var exh *ExhaustedError
	require.ErrorAs(t, err, &exh)
	assert.Len(t, exh.Failures, 2)
	assert.Equal(t, "fr,en", exh.Language)
}

func TestGet_LanguageFallbackDisabled(t *testing.T) {
	a := terminal("no captions")
	o := newTestOrchestrator(t, newFakeClock(), func(c *Config) { c.LanguageFallback = false }, namedBackend{name: "a", b: a})

	_, err := o.Get(context.Background(), testVideo, "fr")
	require.ErrorIs(t, err, ErrAllBackendsExhausted)
	assert.Equal(t, 1, a.Calls())
}

func TestGet_ConcurrentSameKeyConsistent(t *testing.T) {
	release := make(chan struct{})
	a := &countingBackend{fn: func(_ context.Context, id VideoID, lang string, _ int) (Outcome, error) {
		<-release
		return Succeeded(id, "", lang, []Entry{{Text: "shared"}}), nil
	}}
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})

	const n = 8
	outs := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := o.Get(context.Background(), testVideo, "en")
			assert.NoError(t, err)
			outs[i] = out
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, a.Calls())
	for _, out := range outs {
		assert.Equal(t, outs[0].Entries, out.Entries)
		assert.Equal(t, "a", out.Method)
	}
}

func TestGet_PolicyRefusalSkipsBackend(t *testing.T) {
	paid, free := succeeding("paid"), succeeding("free")
	reg, names := registryOf(namedBackend{name: "paid", b: paid, paid: true}, namedBackend{name: "free", b: free})
	o, err := New(testConfig(names...), reg, WithClock(newFakeClock()), WithPolicy(func(_ context.Context, _ VideoID, d Descriptor) error {
		if d.Paid {
			return errors.New("budget exhausted")
		}
		return nil
	}))
	require.NoError(t, err)

	out, err := o.Get(context.Background(), testVideo, "en")
	require.NoError(t, err)
	assert.Equal(t, "free", out.Method)
	assert.Equal(t, 0, paid.Calls())
}

func TestGet_BreakerSkipsFailingBackend(t *testing.T) {
	a, b := retryable("overloaded"), succeeding("ok")
	o := newTestOrchestrator(t, newFakeClock(), func(c *Config) {
		c.BreakerFailures = 2
		c.BreakerCooldown = time.Hour
	}, namedBackend{name: "a", b: a}, namedBackend{name: "b", b: b})

	for _, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"} {
		out, err := o.Get(context.Background(), id, "en")
		require.NoError(t, err)
		assert.Equal(t, "b", out.Method)
	}
	assert.Equal(t, 6, a.Calls(), "two exhausted runs of three attempts, then the circuit is open")
	assert.Equal(t, 3, b.Calls())
}

func TestGet_BreakerIgnoresTerminalFailures(t *testing.T) {
	a, b := terminal("transcripts disabled for this video"), succeeding("ok")
	o := newTestOrchestrator(t, newFakeClock(), func(c *Config) {
		c.BreakerFailures = 2
		c.BreakerCooldown = time.Hour
	}, namedBackend{name: "a", b: a}, namedBackend{name: "b", b: b})

	for _, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd"} {
		out, err := o.Get(context.Background(), id, "en")
		require.NoError(t, err)
		assert.Equal(t, "b", out.Method)
	}
	assert.Equal(t, 4, a.Calls(), "caption-less videos never open the circuit")
}

func TestNew_RejectsEmptyRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	_, err = New(testConfig("a"), reg)
	assert.ErrorIs(t, err, ErrNoBackends)
}

func TestInvalidate(t *testing.T) {
	a := succeeding("x")
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})
	ctx := context.Background()

	_, err := o.Get(ctx, testVideo, "en")
	require.NoError(t, err)
	require.NoError(t, o.Invalidate(ctx, testVideo, ""))
	_, err = o.Get(ctx, testVideo, "en")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls())

	assert.ErrorIs(t, o.Invalidate(ctx, "bogus", "en"), ErrInvalidIdentifier)
}

func TestClearCache(t *testing.T) {
	a := succeeding("x")
	o := newTestOrchestrator(t, newFakeClock(), nil, namedBackend{name: "a", b: a})
	ctx := context.Background()

	for _, lang := range []string{"en", "de"} {
		_, err := o.Get(ctx, "https://youtu.be/"+testVideo, lang)
		require.NoError(t, err)
	}
	n, err := o.ClearCache(ctx, testVideo, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = o.Get(ctx, testVideo, "de")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Calls(), "cleared entries are fetched again")

	st, ok := o.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 1, st.Entries)
	assert.Contains(t, o.FormatMetrics(), "cache_entries 1\n")
	assert.Contains(t, o.FormatMetrics(), "transcript_calls 3\n")

	_, err = o.ClearCache(ctx, "not-a-video", "")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
