package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// PolicyFunc decides whether a backend may be used for a video (usage policy, budget).
// A non-nil error skips the backend as a terminal failure.
type PolicyFunc func(ctx context.Context, id VideoID, d Descriptor) error

// Orchestrator walks the registry in order until a backend produces a transcript.
type Orchestrator struct {
	cfg      Config
	registry *Registry
	cache    Cache
	limiter  *Limiter
	clock    Clock
	policy   PolicyFunc
	metrics  *Metrics
	flights  singleflight.Group
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option { return func(o *Orchestrator) { o.cache = c } }

// WithLimiter shares a limiter between orchestrators.
func WithLimiter(l *Limiter) Option { return func(o *Orchestrator) { o.limiter = l } }

// WithClock replaces the clock used for backoff waits and elapsed times.
func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithPolicy installs a usage-policy hook consulted before each backend.
func WithPolicy(p PolicyFunc) Option { return func(o *Orchestrator) { o.policy = p } }

// New creates an orchestrator over reg with the given policy.
func New(cfg Config, reg *Registry, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if reg == nil || reg.Len() == 0 {
		return nil, ErrNoBackends
	}
	o := &Orchestrator{
		cfg:      cfg,
		registry: reg.WithBreakers(cfg.BreakerFailures, cfg.BreakerCooldown),
		clock:    SystemClock,
		metrics:  &Metrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = NewTieredCache(cfg.CacheTTL, cfg.CacheMaxEntries, WithCacheClock(o.clock))
	}
	if o.limiter == nil {
		o.limiter = NewLimiter(cfg.RateInterval, cfg.RateBurst, cfg.MaxInFlight)
	}
	return o, nil
}

// Metrics exposes the orchestrator's counters.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Backends lists the configured backends in fallback order.
func (o *Orchestrator) Backends() []Descriptor { return o.registry.Descriptors() }

// Get returns the transcript of video (bare id or URL) in language ("" = default).
//
// The returned Outcome always states success or failure. On failure err is one of:
// ErrInvalidIdentifier, *ExhaustedError, ErrCancelled, ErrTimedOut or *UnexpectedError.
func (o *Orchestrator) Get(ctx context.Context, video, language string) (Outcome, error) {
	o.metrics.Calls.Add(1)
	if language == "" {
		language = o.cfg.DefaultLanguage
	}

	id, err := Normalize(video)
	if err != nil {
		o.metrics.Invalid.Add(1)
		return Outcome{Language: language, Error: err.Error(), Failure: FailureTerminal}, err
	}

	log := slog.With(slog.String("call", uuid.NewString()[:8]), slog.String("id", string(id)))
	log.Info("transcript: start", slog.String("lang", language))

	out, err := o.resolve(ctx, log, id, language)

	var exh *ExhaustedError
	if errors.As(err, &exh) && o.cfg.LanguageFallback && language != o.cfg.DefaultLanguage {
		log.Info("transcript: falling back to default language",
			slog.String("from", language), slog.String("to", o.cfg.DefaultLanguage))
		fbOut, fbErr := o.resolve(ctx, log, id, o.cfg.DefaultLanguage)
		var fbExh *ExhaustedError
		if errors.As(fbErr, &fbExh) {
			merged := &ExhaustedError{
				Language: language + "," + o.cfg.DefaultLanguage,
				Failures: append(append([]BackendFailure(nil), exh.Failures...), fbExh.Failures...),
			}
			fbOut.Error = merged.Error()
			fbErr = merged
		}
		out, err = fbOut, fbErr
	}

	o.record(log, out, err)
	return out, err
}

func (o *Orchestrator) record(log *slog.Logger, out Outcome, err error) {
	var exh *ExhaustedError
	switch {
	case err == nil:
		log.Info("transcript: done",
			slog.String("method", out.Method), slog.String("lang", out.Language),
			slog.Int("entries", len(out.Entries)), slog.Duration("elapsed", out.Elapsed))
	case errors.As(err, &exh):
		o.metrics.Exhausted.Add(1)
		log.Warn("transcript: all backends failed", slog.Any("error", err))
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrTimedOut):
		o.metrics.Cancelled.Add(1)
		log.Info("transcript: aborted", slog.Any("error", err))
	default:
		o.metrics.Unexpected.Add(1)
		log.Error("transcript: unexpected error", slog.Any("error", err))
	}
}

type flightResult struct {
	out Outcome
	err error
}

// resolve collapses concurrent lookups of the same key into one chain walk.
// A follower whose own context is still live re-runs the chain if the leader was cancelled.
func (o *Orchestrator) resolve(ctx context.Context, log *slog.Logger, id VideoID, language string) (Outcome, error) {
	ch := o.flights.DoChan(CacheKey(id, language), func() (any, error) {
		out, err := o.run(ctx, log, id, language)
		return flightResult{out: out, err: err}, nil
	})
	select {
	case <-ctx.Done():
		err := abortErr(ctx.Err())
		return Outcome{VideoID: id, Language: language, Error: err.Error()}, err
	case r := <-ch:
		res := r.Val.(flightResult)
		if isAbort(res.err) && ctx.Err() == nil {
			return o.run(ctx, log, id, language)
		}
		res.out.Entries = cloneEntries(res.out.Entries)
		return res.out, res.err
	}
}

// run is one pass of the state machine: cache check, then each backend in order.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, id VideoID, language string) (Outcome, error) {
	if out, ok := o.cache.Get(ctx, id, language); ok {
		o.metrics.CacheHits.Add(1)
		log.Debug("transcript: cache hit", slog.String("lang", language))
		return out, nil
	}
	o.metrics.Misses.Add(1)

	start := o.clock.Now()
	var failures []BackendFailure
	for _, e := range o.registry.entries {
		name := e.Descriptor.Name
		out, err := o.tryBackend(ctx, log, e, id, language)
		if err != nil {
			return Outcome{VideoID: id, Method: name, Language: language, Error: err.Error()}, err
		}
		if out.Success {
			out.Elapsed = o.clock.Now().Sub(start)
			o.cache.Put(ctx, id, language, out)
			return out, nil
		}
		log.Warn("transcript: backend failed",
			slog.String("backend", name), slog.String("kind", out.Failure.String()), slog.String("reason", out.Error))
		failures = append(failures, BackendFailure{Backend: name, Kind: out.Failure, Reason: out.Error})
	}

	exh := &ExhaustedError{Language: language, Failures: failures}
	return Outcome{
		VideoID:  id,
		Language: language,
		Error:    exh.Error(),
		Failure:  FailureTerminal,
		Elapsed:  o.clock.Now().Sub(start),
	}, exh
}

// tryBackend runs one backend to completion, through its circuit breaker when configured.
func (o *Orchestrator) tryBackend(ctx context.Context, log *slog.Logger, e Registered, id VideoID, language string) (Outcome, error) {
	name := e.Descriptor.Name
	if o.policy != nil {
		if err := o.policy(ctx, id, e.Descriptor); err != nil {
			return Terminal(id, name, language, "policy: "+err.Error()), nil
		}
	}
	if e.breaker == nil {
		return o.withRetry(ctx, log, e, id, language)
	}

	var out Outcome
	_, err := e.breaker.Execute(func() (any, error) {
		var err error
		out, err = o.withRetry(ctx, log, e, id, language)
		if err != nil {
			return nil, err
		}
		// terminal failures are usually about the video, not the backend
		if !out.Success && out.Failure == FailureRetryable {
			return nil, errBackendFailed
		}
		return nil, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Terminal(id, name, language, "circuit open"), nil
	case err != nil && !errors.Is(err, errBackendFailed):
		return Outcome{}, err
	}
	return out, nil
}

// withRetry invokes a backend up to its attempt bound while it reports retryable failures.
func (o *Orchestrator) withRetry(ctx context.Context, log *slog.Logger, e Registered, id VideoID, language string) (Outcome, error) {
	policy := o.cfg.RetryFor(e.Descriptor.Name)
	backoff := NewBackoff(policy)

	var last Outcome
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff.Next()
			o.metrics.Retries.Add(1)
			log.Debug("transcript: retrying",
				slog.String("backend", e.Descriptor.Name), slog.Int("attempt", attempt),
				slog.Duration("wait", wait), slog.String("reason", last.Error))
			if err := Wait(ctx, o.clock, wait); err != nil {
				return Outcome{}, abortErr(err)
			}
		}
		out, err := o.attempt(ctx, e, id, language)
		if err != nil {
			return Outcome{}, err
		}
		if out.Success || out.Failure != FailureRetryable {
			return out, nil
		}
		last = out
	}
	return last, nil
}

// attempt makes one rate-limited call to a backend and normalizes its outcome.
func (o *Orchestrator) attempt(ctx context.Context, e Registered, id VideoID, language string) (Outcome, error) {
	name := e.Descriptor.Name
	permit, err := o.limiter.Acquire(ctx)
	if err != nil {
		return Outcome{}, abortErr(err)
	}
	defer permit.Release()

	counters := o.metrics.backend(name)
	counters.attempts.Add(1)

	out, err := safeExtract(ctx, e.Backend, id, language)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, abortErr(ctx.Err())
		}
		return Outcome{}, &UnexpectedError{Backend: name, Err: err}
	}
	if !out.Success && ctx.Err() != nil {
		return Outcome{}, abortErr(ctx.Err())
	}

	out.VideoID = id
	if out.Method == "" {
		out.Method = name
	}
	if out.Language == "" {
		out.Language = language
	}
	if out.Success {
		out.Error, out.Failure = "", FailureNone
		out.Entries = orderEntries(out.Entries)
		counters.successes.Add(1)
		return out, nil
	}
	if out.Failure == FailureNone {
		out.Failure = FailureTerminal
	}
	if out.Error == "" {
		out.Error = "no transcript"
	}
	counters.failures.Add(1)
	return out, nil
}

// safeExtract converts a backend panic into an error.
func safeExtract(ctx context.Context, b Backend, id VideoID, language string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.Extract(ctx, id, language)
}

// orderEntries returns a copy sorted by start time with negative times clamped to zero.
func orderEntries(in []Entry) []Entry {
	out := cloneEntries(in)
	for i := range out {
		out[i].Start = max(out[i].Start, 0)
		out[i].Duration = max(out[i].Duration, 0)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// abortErr maps a context error onto the cancellation taxonomy.
func abortErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func isAbort(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimedOut)
}

// Invalidate drops the cached transcript of video in language, if the cache supports it.
func (o *Orchestrator) Invalidate(ctx context.Context, video, language string) error {
	id, err := Normalize(video)
	if err != nil {
		return err
	}
	if language == "" {
		language = o.cfg.DefaultLanguage
	}
	if inv, ok := o.cache.(interface {
		Invalidate(context.Context, VideoID, string)
	}); ok {
		inv.Invalidate(ctx, id, language)
	}
	return nil
}

// ClearCache drops cached transcripts. An empty video clears every video and an
// empty language every language; a non-empty video must be a valid identifier.
func (o *Orchestrator) ClearCache(ctx context.Context, video, language string) (int, error) {
	var id VideoID
	if video != "" {
		var err error
		if id, err = Normalize(video); err != nil {
			return 0, err
		}
	}
	cl, ok := o.cache.(interface {
		Clear(context.Context, VideoID, string) (int, error)
	})
	if !ok {
		return 0, ErrBulkClearUnsupported
	}
	return cl.Clear(ctx, id, language)
}

// CacheStats reports cache counters when the cache keeps them.
func (o *Orchestrator) CacheStats() (CacheStats, bool) {
	if st, ok := o.cache.(interface{ Stats() CacheStats }); ok {
		return st.Stats(), true
	}
	return CacheStats{}, false
}

// FormatMetrics renders orchestrator counters plus cache size for the metrics endpoint.
func (o *Orchestrator) FormatMetrics() string {
	text := o.metrics.Format()
	if st, ok := o.CacheStats(); ok {
		text += fmt.Sprintf("cache_entries %d\ncache_store_hits %d\ncache_store_misses %d\n", st.Entries, st.Hits, st.Misses)
	}
	return text
}
