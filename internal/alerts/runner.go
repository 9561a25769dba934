package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
)

// ErrNoNotifier is returned when a run has nowhere to send alerts.
var ErrNoNotifier = errors.New("no alert notifier configured")

const defaultBatchSize = 10

// DefaultMinDelta is the edge threshold used when a run does not set one.
func DefaultMinDelta(measure models.Measure) float64 {
	switch measure {
	case models.MeasurePoints:
		return 2.0
	case models.MeasurePRA:
		return 3.5
	default:
		return 1.5
	}
}

// FeedComputer produces the ranked edge feed.
type FeedComputer interface {
	ComputeEdgeFeed(ctx context.Context, measure models.Measure, minMinutes float64, season int) (*models.EdgeFeed, error)
}

// Notifier delivers one batch of alerts.
type Notifier interface {
	SendEdgeAlerts(batch models.AlertBatch) error
}

// History records sent alerts.
type History interface {
	AddAlert(alert *models.AlertRecord) error
}

// Config holds run defaults.
type Config struct {
	MinDeltaPoints float64
	MinDeltaPRA    float64
	MinDeltaOther  float64
	Cooldown       time.Duration
	TopN           int
	MinMinutes     float64
	Season         int
	BatchSize      int
}

// RunRequest selects what a run looks for. Zero fields take the configured defaults.
type RunRequest struct {
	Measure    models.Measure
	Direction  models.Direction
	MinMinutes float64
	MinDelta   float64
	TopN       int
	Season     int
}

// SentAlert is one notified player in a run summary.
type SentAlert struct {
	Name  string  `json:"name"`
	Delta float64 `json:"delta"`
}

// Summary reports what a run did.
type Summary struct {
	RunID           string           `json:"run_id"`
	Sent            []SentAlert      `json:"sent"`
	Skipped         []string         `json:"skipped"`
	TotalCandidates int              `json:"total_candidates"`
	Measure         models.Measure   `json:"stat"`
	Direction       models.Direction `json:"direction"`
	MinDelta        float64          `json:"min_delta"`
	MinMinutes      float64          `json:"min_minutes"`
	Season          int              `json:"season"`
	CooldownMinutes int              `json:"cooldown_minutes"`
	DedupConfigured bool             `json:"kv_configured"`
	DedupDegraded   bool             `json:"dedup_degraded"`
	Partial         bool             `json:"partial"`
}

// Runner executes alert runs.
type Runner struct {
	feed     FeedComputer
	dedup    *Deduplicator
	notifier Notifier
	history  History
	cfg      Config
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRunner creates a runner. dedup and history may be nil.
func NewRunner(feed FeedComputer, dedup *Deduplicator, notifier Notifier, history History, cfg Config, m *metrics.Metrics) *Runner {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 180 * time.Minute
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.MinMinutes <= 0 {
		cfg.MinMinutes = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if dedup == nil {
		dedup = NewDeduplicator(nil, m)
	}
	return &Runner{
		feed:     feed,
		dedup:    dedup,
		notifier: notifier,
		history:  history,
		cfg:      cfg,
		metrics:  metrics.OrNew(m),
		now:      time.Now,
	}
}

func (r *Runner) minDelta(measure models.Measure) float64 {
	var v float64
	switch measure {
	case models.MeasurePoints:
		v = r.cfg.MinDeltaPoints
	case models.MeasurePRA:
		v = r.cfg.MinDeltaPRA
	default:
		v = r.cfg.MinDeltaOther
	}
	if v <= 0 {
		v = DefaultMinDelta(measure)
	}
	return v
}

func (r *Runner) withDefaults(req RunRequest) RunRequest {
	if req.Measure == "" {
		req.Measure = models.MeasurePoints
	}
	if req.Direction == "" {
		req.Direction = models.DirectionBoth
	}
	if req.MinMinutes <= 0 {
		req.MinMinutes = r.cfg.MinMinutes
	}
	if req.MinDelta <= 0 {
		req.MinDelta = r.minDelta(req.Measure)
	}
	if req.TopN <= 0 {
		req.TopN = r.cfg.TopN
	}
	if req.Season <= 0 {
		req.Season = r.cfg.Season
	}
	return req
}

// Run computes the feed, picks entries past the threshold, drops those on cooldown and
// sends the rest in batches. Cooldowns are set only for batches that were delivered.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	if r.notifier == nil {
		return nil, ErrNoNotifier
	}
	req = r.withDefaults(req)
	runID := uuid.New().String()

	feed, err := r.feed.ComputeEdgeFeed(ctx, req.Measure, req.MinMinutes, req.Season)
	if err != nil {
		return nil, fmt.Errorf("alert run %s: %w", runID, err)
	}

	var candidates []models.EdgeEntry
	for _, e := range feed.Entries {
		if req.Direction.Matches(e.Delta, req.MinDelta) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) > req.TopN {
		candidates = candidates[:req.TopN]
	}

	filtered := r.dedup.FilterCandidates(ctx, candidates, req.Measure, req.Direction, r.cfg.Cooldown)

	summary := &Summary{
		RunID:           runID,
		Sent:            []SentAlert{},
		Skipped:         []string{},
		TotalCandidates: len(candidates),
		Measure:         req.Measure,
		Direction:       req.Direction,
		MinDelta:        req.MinDelta,
		MinMinutes:      req.MinMinutes,
		Season:          req.Season,
		CooldownMinutes: int(r.cfg.Cooldown / time.Minute),
		DedupConfigured: r.dedup.Configured(),
		DedupDegraded:   filtered.Degraded,
		Partial:         feed.Partial,
	}
	for _, s := range filtered.Suppressed {
		summary.Skipped = append(summary.Skipped, s.Name)
	}
	if n := len(filtered.Suppressed); n > 0 {
		r.metrics.AlertsSuppressed.WithLabelValues(string(req.Measure), string(req.Direction)).Add(float64(n))
	}

	for start := 0; start < len(filtered.ToAlert); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(filtered.ToAlert))
		batch := filtered.ToAlert[start:end]

		err := r.notifier.SendEdgeAlerts(models.AlertBatch{
			Entries:    batch,
			Measure:    req.Measure,
			Direction:  req.Direction,
			MinMinutes: req.MinMinutes,
			Season:     req.Season,
		})
		if err != nil {
			return summary, fmt.Errorf("alert run %s: failed to send batch %d: %w", runID, start/r.cfg.BatchSize+1, err)
		}

		if err := r.dedup.MarkAlerted(ctx, batch, req.Measure, req.Direction, r.cfg.Cooldown); err != nil {
			logger.Warn("Alert run %s: %v", runID, err)
		}
		r.record(runID, batch, req)
		for _, e := range batch {
			summary.Sent = append(summary.Sent, SentAlert{Name: e.Name, Delta: e.Delta})
		}
		r.metrics.AlertsSent.WithLabelValues(string(req.Measure), string(req.Direction)).Add(float64(len(batch)))
	}

	logger.Info("Alert run %s (%s %s ≥%.1f): %d candidates, %d sent, %d skipped",
		runID, req.Measure, req.Direction, req.MinDelta, len(candidates), len(summary.Sent), len(summary.Skipped))
	return summary, nil
}

func (r *Runner) record(runID string, batch []models.EdgeEntry, req RunRequest) {
	if r.history == nil {
		return
	}
	now := r.now()
	for _, e := range batch {
		rec := &models.AlertRecord{
			ID:        uuid.New().String(),
			RunID:     runID,
			SubjectID: e.SubjectID,
			Name:      e.Name,
			Measure:   req.Measure,
			Direction: req.Direction,
			Delta:     e.Delta,
			SentAt:    now,
		}
		if err := r.history.AddAlert(rec); err != nil {
			logger.Warn("Failed to record alert for %s: %v", e.Name, err)
		}
	}
}
