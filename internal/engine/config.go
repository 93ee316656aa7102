package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// RetryPolicy bounds attempts against a single backend.
type RetryPolicy struct {
	MaxAttempts int           `toml:"max_attempts"` // total invocations, including the first
	BaseDelay   time.Duration `toml:"base_delay"`   // doubled after every attempt
	MaxDelay    time.Duration `toml:"max_delay"`    // cap before jitter
}

// Config holds all orchestration policy, injected from main.
// It is read-only once passed to New.
type Config struct {
	BackendOrder     []string               `toml:"backend_order"`
	DefaultRetry     RetryPolicy            `toml:"retry"`
	Retry            map[string]RetryPolicy `toml:"backend_retry"`
	RateInterval     time.Duration          `toml:"rate_interval"` // min gap between outbound calls, 0 = unpaced
	RateBurst        int                    `toml:"rate_burst"`
	MaxInFlight      int                    `toml:"max_in_flight"` // concurrent outbound calls, 0 = unbounded
	DefaultLanguage  string                 `toml:"default_language"`
	LanguageFallback bool                   `toml:"language_fallback"`
	BatchConcurrency int                    `toml:"batch_concurrency"`
	AllowPaid        bool                   `toml:"allow_paid"`

	CacheTTL             time.Duration `toml:"cache_ttl"`
	CacheMaxEntries      int           `toml:"cache_max_entries"`
	CacheCleanupInterval time.Duration `toml:"cache_cleanup_interval"`

	BreakerFailures int           `toml:"breaker_failures"` // 0 disables circuit breaking
	BreakerCooldown time.Duration `toml:"breaker_cooldown"`
}

// DefaultRetryPolicy is suitable for most HTTP backends.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// DefaultConfig returns a config that tries the free caption backends first.
func DefaultConfig() Config {
	return Config{
		BackendOrder:         []string{"youtube_page", "youtube_panel", "youtube_player"},
		DefaultRetry:         DefaultRetryPolicy,
		RateInterval:         200 * time.Millisecond,
		RateBurst:            1,
		MaxInFlight:          4,
		DefaultLanguage:      "en",
		LanguageFallback:     true,
		BatchConcurrency:     5,
		CacheTTL:             24 * time.Hour,
		CacheMaxEntries:      1000,
		CacheCleanupInterval: 5 * time.Minute,
		BreakerCooldown:      time.Minute,
	}
}

// RetryFor returns the retry policy of the named backend.
func (c Config) RetryFor(backend string) RetryPolicy {
	if p, ok := c.Retry[backend]; ok {
		return p
	}
	return c.DefaultRetry
}

// Validate reports configuration values the orchestrator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.BackendOrder) == 0 {
		errs = append(errs, ErrNoBackends)
	}
	seen := make(map[string]bool, len(c.BackendOrder))
	for _, name := range c.BackendOrder {
		if seen[name] {
			errs = append(errs, fmt.Errorf("backend %q listed twice", name))
		}
		seen[name] = true
	}
	if c.DefaultRetry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	for name, p := range c.Retry {
		if p.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("backend_retry.%s.max_attempts must be >= 1", name))
		}
	}
	if c.RateInterval < 0 || c.MaxInFlight < 0 || c.BatchConcurrency < 0 {
		errs = append(errs, errors.New("rate_interval, max_in_flight and batch_concurrency must not be negative"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache_ttl must be positive"))
	}
	if c.DefaultLanguage == "" {
		errs = append(errs, errors.New("default_language is required"))
	}
	return errors.Join(errs...)
}

// LoadConfigFile overlays a TOML file onto base. Keys absent from the file keep base values.
func LoadConfigFile(path string, base Config) (Config, error) {
	cfg := base
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return base, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
