package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/proporacle/internal/alerts"
	"github.com/rewired-gh/proporacle/internal/arbiter"
	"github.com/rewired-gh/proporacle/internal/config"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/mentions"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/momentum"
	"github.com/rewired-gh/proporacle/internal/research"
	"github.com/rewired-gh/proporacle/internal/roster"
	"github.com/rewired-gh/proporacle/internal/statsource"
	"github.com/rewired-gh/proporacle/internal/storage"
	"github.com/rewired-gh/proporacle/internal/synthesis"
	"github.com/rewired-gh/proporacle/internal/telegram"
	"github.com/rewired-gh/proporacle/internal/ttlcache"
)

// app holds every wired component for one process.
type app struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	store     *storage.Storage
	cache     ttlcache.Store
	engine    *momentum.Engine
	synthesis *synthesis.Engine
	research  *research.Service
	runner    *alerts.Runner
	telegram  *telegram.Client
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	m := metrics.New()

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var cache ttlcache.Store
	switch cfg.Cache.Backend {
	case "redis":
		cache = ttlcache.NewRedisStore(ttlcache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Timeout:  cfg.Cache.RedisTimeout,
		})
	case "memory":
		cache = ttlcache.NewMemoryStore()
	default:
		cache = store
	}
	logger.Debug("Cache backend: %s", cfg.Cache.Backend)

	stats := statsource.NewClient(cfg.Stats.BaseURL, statsource.ClientConfig{
		APIKey:             cfg.Stats.APIKey,
		Timeout:            cfg.Stats.Timeout,
		LogTimeout:         cfg.Stats.LogTimeout,
		MaxRetries:         cfg.Stats.MaxRetries,
		RetryDelayBase:     cfg.Stats.RetryDelayBase,
		RateLimitRPS:       cfg.Stats.RateLimitRPS,
		RateLimitBurst:     cfg.Stats.RateLimitBurst,
		BreakerFailures:    cfg.Stats.BreakerFailures,
		BreakerOpenTimeout: cfg.Stats.BreakerOpenTimeout,
	})
	players := roster.New(stats, roster.Config{TTL: cfg.Stats.RosterTTL}, m)

	engine := momentum.NewEngine(stats, players, momentum.Config{
		LogPages:     cfg.Edge.LogPages,
		PerPage:      cfg.Edge.PerPage,
		TopN:         cfg.Edge.TopN,
		MinSample:    cfg.Edge.MinSample,
		RecentWindow: cfg.Edge.RecentWindow,
		Season:       cfg.Edge.Season,
	}, m)

	var arb arbiter.Arbiter
	if cfg.Arbiter.APIKey != "" {
		arb = arbiter.NewClient(arbiter.Config{
			BaseURL:            cfg.Arbiter.BaseURL,
			APIKey:             cfg.Arbiter.APIKey,
			Model:              cfg.Arbiter.Model,
			BreakerFailures:    cfg.Arbiter.BreakerFailures,
			BreakerOpenTimeout: cfg.Arbiter.BreakerOpenTimeout,
		})
	} else {
		logger.Info("Arbiter API key not set, reports use the heuristic fallback")
	}
	synth := synthesis.NewEngine(ttlcache.Prefixed{Store: cache, Prefix: "report:"}, arb, synthesis.Config{
		TTL:                cfg.Synthesis.ReportTTL,
		ArbitrationTimeout: cfg.Arbiter.Timeout,
		MaxTokens:          cfg.Arbiter.MaxTokens,
	}, m)

	agg := mentions.NewAggregator([]mentions.Provider{
		mentions.NewReddit(cfg.Mentions.RedditURL, cfg.Mentions.UserAgent),
		mentions.NewESPN(cfg.Mentions.ESPNURL),
	}, cfg.Mentions.Timeout, cfg.Mentions.MaxResults, m)

	a := &app{
		cfg:       cfg,
		metrics:   m,
		store:     store,
		cache:     cache,
		engine:    engine,
		synthesis: synth,
		research:  research.NewService(agg, engine, synth),
	}

	var notifier alerts.Notifier
	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifier = a.telegram
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	a.runner = alerts.NewRunner(engine, alerts.NewDeduplicator(cache, m), notifier, store, alerts.Config{
		MinDeltaPoints: cfg.Alerts.MinDeltaPoints,
		MinDeltaPRA:    cfg.Alerts.MinDeltaPRA,
		MinDeltaOther:  cfg.Alerts.MinDeltaOther,
		Cooldown:       cfg.Alerts.Cooldown,
		TopN:           cfg.Alerts.TopN,
		MinMinutes:     cfg.Alerts.MinMinutes,
		Season:         cfg.Edge.Season,
		BatchSize:      cfg.Alerts.BatchSize,
	}, m)

	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

// scheduledAlertRun is the recurring alert task.
func (a *app) scheduledAlertRun(ctx context.Context) error {
	measure, err := models.ParseMeasure(a.cfg.Alerts.Stat)
	if err != nil {
		return err
	}
	summary, err := a.runner.Run(ctx, alerts.RunRequest{
		Measure:   measure,
		Direction: models.ParseDirection(a.cfg.Alerts.Direction),
	})
	if summary != nil {
		logger.Info("Alert run %s: %d sent, %d skipped, %d candidates (partial: %v, dedup degraded: %v)",
			summary.RunID, len(summary.Sent), len(summary.Skipped), summary.TotalCandidates, summary.Partial, summary.DedupDegraded)
	}
	return err
}

type purger interface {
	PurgeExpired() (int64, error)
}

type memoryPurger interface {
	Purge() int
}

// purgeExpired drops expired rows from whichever local store holds cache entries.
func (a *app) purgeExpired(ctx context.Context) error {
	switch c := a.cache.(type) {
	case purger:
		n, err := c.PurgeExpired()
		if err != nil {
			return err
		}
		logger.Debug("Purged %d expired cache rows", n)
	case memoryPurger:
		logger.Debug("Purged %d expired cache entries", c.Purge())
	}
	return nil
}

// feedPreview serves the Telegram /feed command with the default scan.
func (a *app) feedPreview(ctx context.Context) (*models.EdgeFeed, error) {
	return a.engine.ComputeEdgeFeed(ctx, models.MeasurePoints, a.cfg.Edge.MinMinutes, a.cfg.Edge.Season)
}
