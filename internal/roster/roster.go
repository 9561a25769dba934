// Package roster caches the active-player roster used to scope the edge feed.
package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/statsource"
	"github.com/rewired-gh/proporacle/internal/ttlcache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultPageSize = 30

	rosterKey = "active"
)

// Cache holds the last roster fetched from the stat source.
// Concurrent refreshes collapse into one upstream call; failures are never cached.
type Cache struct {
	source   statsource.Source
	ttl      time.Duration
	pageSize int
	entries  *ttlcache.Cache[string, []models.Subject]
	group    singleflight.Group
	metrics  *metrics.Metrics
}

// Config tunes the roster cache.
type Config struct {
	TTL      time.Duration
	PageSize int
	Now      func() time.Time
}

// New creates a roster cache over the given source.
func New(source statsource.Source, cfg Config, m *metrics.Metrics) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		source:   source,
		ttl:      cfg.TTL,
		pageSize: cfg.PageSize,
		entries:  ttlcache.NewWithClock[string, []models.Subject](cfg.Now),
		metrics:  metrics.OrNew(m),
	}
}

// Get returns the cached roster while fresh, otherwise refreshes it.
func (c *Cache) Get(ctx context.Context) ([]models.Subject, error) {
	if subjects, ok := c.entries.Get(rosterKey); ok {
		c.metrics.CacheHits.WithLabelValues("roster").Inc()
		return subjects, nil
	}
	c.metrics.CacheMisses.WithLabelValues("roster").Inc()
	return c.refresh(ctx)
}

// GetOrStale behaves like Get but falls back to an expired roster when the refresh fails.
// A failure with nothing cached is still returned.
func (c *Cache) GetOrStale(ctx context.Context) ([]models.Subject, error) {
	subjects, err := c.Get(ctx)
	if err == nil {
		return subjects, nil
	}
	if stale, present, _ := c.entries.Peek(rosterKey); present {
		logger.Warn("Roster refresh failed, serving stale roster of %d players: %v", len(stale), err)
		return stale, nil
	}
	return nil, err
}

// Invalidate drops the cached roster.
func (c *Cache) Invalidate() {
	c.entries.Evict(rosterKey)
}

func (c *Cache) refresh(ctx context.Context) ([]models.Subject, error) {
	v, err, shared := c.group.Do(rosterKey, func() (interface{}, error) {
		subjects, err := c.source.ListActiveRoster(ctx, c.pageSize)
		if err != nil {
			c.metrics.UpstreamFailures.WithLabelValues("stats", "roster").Inc()
			return nil, fmt.Errorf("failed to refresh roster: %w", err)
		}
		c.entries.Put(rosterKey, subjects, c.ttl)
		logger.Info("Roster refreshed: %d active players", len(subjects))
		return subjects, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("Roster refresh shared with a concurrent caller")
	}
	return v.([]models.Subject), nil
}
