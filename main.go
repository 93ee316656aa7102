// go_transcript is a YouTube transcript MCP server.
//
// Exposes transcript_get, transcript_batch, transcript_backends and the
// transcript_cache_invalidate/clear/info tools. Each request walks an ordered
// chain of caption and speech-to-text backends with retries, pacing and a
// two-tier cache.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/proxypool"
	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/sources"
	"github.com/anatolykoptev/go_transcript/internal/transcriptserver"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env")
	}
	initLogging(env.Str("LOG_LEVEL", "info"), env.Str("LOG_FORMAT", "text"))

	mcpPort := env.Str("MCP_PORT", "8892")
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config invalid", slog.Any("error", err))
		os.Exit(1)
	}

	orch, closeCache, err := initEngine(cfg)
	if err != nil {
		slog.Error("engine init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCache()

	slog.Info("starting go_transcript",
		slog.String("port", mcpPort),
		slog.Any("backends", cfg.BackendOrder),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_transcript",
		Version: version,
	}, nil)

	transcriptserver.RegisterTools(server, orch)
	slog.Info("tools registered", slog.Int("count", 6))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_transcript",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 600 * time.Second,
		Metrics:      orch.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initLogging(level, format string) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// loadConfig layers environment variables over an optional TOML file over defaults.
func loadConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if path := env.Str("CONFIG_FILE", ""); path != "" {
		var err error
		if cfg, err = engine.LoadConfigFile(path, cfg); err != nil {
			return cfg, err
		}
		slog.Info("config file loaded", slog.String("path", path))
	}

	if env.Str("BACKEND_ORDER", "") != "" {
		cfg.BackendOrder = env.List("BACKEND_ORDER", "")
	}
	cfg.DefaultRetry.MaxAttempts = env.Int("RETRY_MAX_ATTEMPTS", cfg.DefaultRetry.MaxAttempts)
	cfg.DefaultRetry.BaseDelay = env.Duration("RETRY_BASE_DELAY", cfg.DefaultRetry.BaseDelay)
	cfg.DefaultRetry.MaxDelay = env.Duration("RETRY_MAX_DELAY", cfg.DefaultRetry.MaxDelay)
	cfg.RateInterval = env.Duration("RATE_INTERVAL", cfg.RateInterval)
	cfg.RateBurst = env.Int("RATE_BURST", cfg.RateBurst)
	cfg.MaxInFlight = env.Int("MAX_IN_FLIGHT", cfg.MaxInFlight)
	cfg.DefaultLanguage = env.Str("DEFAULT_LANGUAGE", cfg.DefaultLanguage)
	cfg.LanguageFallback = envBool("LANGUAGE_FALLBACK", cfg.LanguageFallback)
	cfg.BatchConcurrency = env.Int("BATCH_CONCURRENCY", cfg.BatchConcurrency)
	cfg.AllowPaid = envBool("ALLOW_PAID", cfg.AllowPaid)
	cfg.CacheTTL = env.Duration("CACHE_TTL", cfg.CacheTTL)
	cfg.CacheMaxEntries = env.Int("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.CacheCleanupInterval = env.Duration("CACHE_CLEANUP_INTERVAL", cfg.CacheCleanupInterval)
	cfg.BreakerFailures = env.Int("BREAKER_FAILURES", cfg.BreakerFailures)
	cfg.BreakerCooldown = env.Duration("BREAKER_COOLDOWN", cfg.BreakerCooldown)

	return cfg, cfg.Validate()
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(env.Str(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func initEngine(cfg engine.Config) (*engine.Orchestrator, func(), error) {
	httpClient := &http.Client{
		Timeout: env.Duration("FETCH_TIMEOUT", 30*time.Second),
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	}

	deps := sources.Deps{
		HTTPClient:        httpClient,
		YouTubeBaseURL:    env.Str("YOUTUBE_BASE_URL", ""),
		OpenAIKey:         env.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     env.Str("OPENAI_API_BASE", ""),
		WhisperModel:      env.Str("WHISPER_MODEL", "whisper-1"),
		DeepgramKey:       env.Str("DEEPGRAM_API_KEY", ""),
		AssemblyAIKey:     env.Str("ASSEMBLYAI_API_KEY", ""),
		AssemblyAIPoll:    env.Duration("ASSEMBLYAI_POLL_INTERVAL", 3*time.Second),
		DeepgramBaseURL:   env.Str("DEEPGRAM_API_BASE", ""),
		AssemblyAIBaseURL: env.Str("ASSEMBLYAI_API_BASE", ""),
	}
	if tmpl := env.Str("AUDIO_URL_TEMPLATE", ""); tmpl != "" {
		deps.Audio = sources.URLTemplateAudio{Template: tmpl, Client: httpClient}
	}

	opts := []stealth.ClientOption{stealth.WithTimeout(env.Int("BROWSER_TIMEOUT", 15))}
	if apiKey := env.Str("WEBSHARE_API_KEY", ""); apiKey != "" {
		pool, err := proxypool.NewWebshare(apiKey)
		if err != nil {
			slog.Warn("proxy pool init failed, running without proxy", slog.Any("error", err))
		} else {
			opts = append(opts, stealth.WithProxyPool(pool))
			slog.Info("proxy pool initialized", slog.Int("proxies", pool.Len()))
		}
	}
	bc, err := engine.NewBrowserClient(opts...)
	if err != nil {
		slog.Warn("browser client init failed, watch page uses net/http", slog.Any("error", err))
	} else {
		deps.Browser = engine.BrowserFetcher{Client: bc}
		slog.Info("stealth browser client initialized")
	}

	reg, err := engine.Assemble(cfg.BackendOrder, sources.Catalog(deps))
	if err != nil {
		return nil, nil, err
	}
	if !cfg.AllowPaid {
		reg = reg.Filter(engine.FreeOnly)
	}

	store := openStore()
	cache := engine.NewTieredCache(cfg.CacheTTL, cfg.CacheMaxEntries, engine.WithStore(store))
	cache.StartCleanup(cfg.CacheCleanupInterval)

	orch, err := engine.New(cfg, reg, engine.WithCache(cache))
	if err != nil {
		cache.Close()
		return nil, nil, err
	}
	return orch, func() { cache.Close() }, nil
}

// openStore picks the L2 cache store: Redis, then SQLite, then Postgres; none means L1 only.
func openStore() engine.Store {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if url := env.Str("REDIS_URL", ""); url != "" {
		s, err := engine.NewRedisStore(ctx, url)
		if err != nil {
			slog.Warn("redis store unavailable, L1 only", slog.Any("error", err))
			return nil
		}
		slog.Info("cache L2: redis")
		return s
	}
	if path := env.Str("CACHE_SQLITE_PATH", ""); path != "" {
		s, err := engine.OpenSQLiteStore(path)
		if err != nil {
			slog.Warn("sqlite store unavailable, L1 only", slog.Any("error", err))
			return nil
		}
		slog.Info("cache L2: sqlite", slog.String("path", path))
		return s
	}
	if url := env.Str("DATABASE_URL", ""); url != "" {
		s, err := engine.ConnectPostgresStore(ctx, url)
		if err != nil {
			slog.Warn("postgres store unavailable, L1 only", slog.Any("error", err))
			return nil
		}
		slog.Info("cache L2: postgres")
		return s
	}
	return nil
}
