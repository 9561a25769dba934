// Package alerts turns edge feeds into deduplicated outbound notifications.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/ttlcache"
)

const cooldownSentinel = "1"

// CooldownKey is the store key marking a recently alerted player.
func CooldownKey(measure models.Measure, direction models.Direction, subjectID int64) string {
	return fmt.Sprintf("alert:cd:%s:%s:%d", measure, direction, subjectID)
}

// FilterResult splits candidates into those to notify and those still cooling down.
type FilterResult struct {
	ToAlert    []models.EdgeEntry
	Suppressed []models.EdgeEntry
	Degraded   bool
}

// Deduplicator suppresses repeat alerts through a TTL store.
// Without a reachable store it suppresses nothing.
type Deduplicator struct {
	store   ttlcache.Store
	metrics *metrics.Metrics
}

// NewDeduplicator creates a deduplicator. store may be nil.
func NewDeduplicator(store ttlcache.Store, m *metrics.Metrics) *Deduplicator {
	return &Deduplicator{store: store, metrics: metrics.OrNew(m)}
}

// Configured reports whether a cooldown store is attached.
func (d *Deduplicator) Configured() bool {
	return d != nil && d.store != nil
}

// FilterCandidates keeps candidates without a live cooldown key. A non-positive cooldown disables suppression.
func (d *Deduplicator) FilterCandidates(ctx context.Context, candidates []models.EdgeEntry, measure models.Measure, direction models.Direction, cooldown time.Duration) FilterResult {
	res := FilterResult{ToAlert: []models.EdgeEntry{}, Suppressed: []models.EdgeEntry{}}
	if !d.Configured() || cooldown <= 0 {
		res.ToAlert = append(res.ToAlert, candidates...)
		return res
	}

	for i, c := range candidates {
		_, found, err := d.store.Get(ctx, CooldownKey(measure, direction, c.SubjectID))
		if err != nil {
			logger.Warn("Cooldown store unavailable, sending without dedup: %v", err)
			d.metrics.CacheErrors.WithLabelValues("cooldown").Inc()
			res.Degraded = true
			res.ToAlert = append(res.ToAlert, candidates[i:]...)
			return res
		}
		if found {
			res.Suppressed = append(res.Suppressed, c)
			continue
		}
		res.ToAlert = append(res.ToAlert, c)
	}
	return res
}

// MarkAlerted starts the cooldown for entries that were just notified.
func (d *Deduplicator) MarkAlerted(ctx context.Context, entries []models.EdgeEntry, measure models.Measure, direction models.Direction, cooldown time.Duration) error {
	if !d.Configured() || cooldown <= 0 {
		return nil
	}
	var errs []error
	for _, e := range entries {
		if err := d.store.Put(ctx, CooldownKey(measure, direction, e.SubjectID), []byte(cooldownSentinel), cooldown); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		d.metrics.CacheErrors.WithLabelValues("cooldown").Add(float64(len(errs)))
		return fmt.Errorf("failed to mark %d of %d cooldowns: %w", len(errs), len(entries), errors.Join(errs...))
	}
	return nil
}
