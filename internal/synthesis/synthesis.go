// Package synthesis blends a stat context and a sentiment score into a cached, confidence-scored report.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rewired-gh/proporacle/internal/arbiter"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/ttlcache"
	"golang.org/x/sync/singleflight"
)

// ReportRequest carries everything a report is built from.
type ReportRequest struct {
	SubjectName string
	Measure     models.Measure
	Mentions    []models.Mention
	Sentiment   *models.SentimentScore
	StatContext *models.StatContext
}

// Config tunes report generation.
type Config struct {
	TTL                time.Duration
	ArbitrationTimeout time.Duration
	MaxTokens          int
}

// Engine generates reports and keeps them in a TTL store.
// A nil store disables caching. A nil arbiter always uses the fallback heuristic.
type Engine struct {
	store   ttlcache.Store
	arbiter arbiter.Arbiter
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group
}

// NewEngine creates a synthesis engine.
func NewEngine(store ttlcache.Store, arb arbiter.Arbiter, cfg Config, m *metrics.Metrics) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.ArbitrationTimeout <= 0 {
		cfg.ArbitrationTimeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Engine{
		store:   store,
		arbiter: arb,
		cfg:     cfg,
		metrics: metrics.OrNew(m),
		now:     time.Now,
	}
}

// CacheKey is the report cache key for a player and measure.
func CacheKey(subjectName string, measure models.Measure) string {
	return strings.ToLower(strings.TrimSpace(subjectName)) + ":" + string(measure)
}

// GenerateReport returns the cached report while it is valid, otherwise builds and stores a new one.
// It never fails: arbitration problems fall back to the heuristic and cache problems skip caching.
func (e *Engine) GenerateReport(ctx context.Context, req ReportRequest) (models.Report, bool) {
	key := CacheKey(req.SubjectName, req.Measure)
	if r, ok := e.lookup(ctx, key); ok {
		return r, true
	}

	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		r := e.synthesize(ctx, req)
		return e.save(ctx, key, r), nil
	})
	return v.(models.Report), false
}

// Cached returns a still-valid cached report without generating one.
func (e *Engine) Cached(ctx context.Context, subjectName string, measure models.Measure) (models.Report, bool) {
	return e.lookup(ctx, CacheKey(subjectName, measure))
}

// Invalidate drops the cached report so the next request regenerates it.
func (e *Engine) Invalidate(ctx context.Context, subjectName string, measure models.Measure) {
	if e.store == nil {
		return
	}
	if err := e.store.Evict(ctx, CacheKey(subjectName, measure)); err != nil {
		logger.Warn("Failed to evict cached report %s: %v", CacheKey(subjectName, measure), err)
		e.metrics.CacheErrors.WithLabelValues("report").Inc()
	}
}

func (e *Engine) lookup(ctx context.Context, key string) (models.Report, bool) {
	if e.store == nil {
		return models.Report{}, false
	}
	data, ok, err := e.store.Get(ctx, key)
	if err != nil {
		logger.Warn("Report cache read failed for %s, generating fresh: %v", key, err)
		e.metrics.CacheErrors.WithLabelValues("report").Inc()
		return models.Report{}, false
	}
	if !ok {
		e.metrics.CacheMisses.WithLabelValues("report").Inc()
		return models.Report{}, false
	}
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		logger.Warn("Discarding undecodable cached report %s: %v", key, err)
		e.metrics.CacheErrors.WithLabelValues("report").Inc()
		return models.Report{}, false
	}
	if !r.ExpiresAt.After(e.now()) {
		e.metrics.CacheMisses.WithLabelValues("report").Inc()
		return models.Report{}, false
	}
	e.metrics.CacheHits.WithLabelValues("report").Inc()
	return r, true
}

// save stores r and returns it as decoded from the stored bytes, so later cache reads match exactly.
func (e *Engine) save(ctx context.Context, key string, r models.Report) models.Report {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Error("Failed to encode report %s: %v", key, err)
		return r
	}
	var stored models.Report
	if err := json.Unmarshal(data, &stored); err != nil {
		stored = r
	}
	if e.store == nil {
		return stored
	}
	if err := e.store.Put(ctx, key, data, e.cfg.TTL); err != nil {
		logger.Warn("Report cache write failed for %s: %v", key, err)
		e.metrics.CacheErrors.WithLabelValues("report").Inc()
	}
	return stored
}

func (e *Engine) synthesize(ctx context.Context, req ReportRequest) models.Report {
	now := e.now().UTC()
	report := models.Report{
		SubjectName: req.SubjectName,
		Measure:     req.Measure,
		GeneratedAt: now,
		ExpiresAt:   now.Add(e.cfg.TTL),
		StatContext: req.StatContext,
		Sentiment:   req.Sentiment,
	}

	a, err := e.arbitrate(ctx, req)
	if err == nil {
		report.Prediction = a.Prediction
		report.Confidence = a.Confidence
		report.Reasoning = a.Reasoning
		report.KeyFactors = a.KeyFactors
		report.SentimentWeight = a.SentimentWeight
		report.StatWeight = a.StatWeight
		e.metrics.ReportsGenerated.WithLabelValues("arbiter").Inc()
		return report
	}
	if !errors.Is(err, errNoArbiter) {
		logger.Warn("Arbitration failed for %s %s, using fallback: %v", req.SubjectName, req.Measure, err)
	}

	f := Fallback(req)
	report.Prediction = f.Prediction
	report.Confidence = f.Confidence
	report.Reasoning = f.Reasoning
	report.KeyFactors = f.KeyFactors
	report.SentimentWeight = f.SentimentWeight
	report.StatWeight = f.StatWeight
	report.UsedFallback = true
	e.metrics.ReportsGenerated.WithLabelValues("fallback").Inc()
	return report
}

var errNoArbiter = errors.New("no arbiter configured")

func (e *Engine) arbitrate(ctx context.Context, req ReportRequest) (Verdict, error) {
	if e.arbiter == nil {
		return Verdict{}, errNoArbiter
	}
	actx, cancel := context.WithTimeout(ctx, e.cfg.ArbitrationTimeout)
	defer cancel()

	text, err := e.arbiter.Complete(actx, BuildPrompt(req), e.cfg.MaxTokens)
	if err != nil {
		e.metrics.UpstreamFailures.WithLabelValues("arbiter", "complete").Inc()
		return Verdict{}, err
	}
	return ParseVerdict(text)
}

// Verdict is the decision part of a report.
type Verdict struct {
	Prediction      models.Prediction
	Confidence      float64
	Reasoning       string
	KeyFactors      []string
	SentimentWeight string
	StatWeight      string
}

type verdictPayload struct {
	Prediction      string   `json:"prediction"`
	Confidence      *float64 `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	KeyFactors      []string `json:"key_factors"`
	SentimentWeight string   `json:"sentiment_weight"`
	StatWeight      string   `json:"stat_weight"`
}

// ParseVerdict extracts the outermost JSON object from free text.
// Confidence arrives on a 0-100 scale and defaults to 50.
func ParseVerdict(text string) (Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Verdict{}, errors.New("no JSON object in arbitration response")
	}
	var p verdictPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse arbitration response: %w", err)
	}

	conf := 50.0
	if p.Confidence != nil {
		conf = *p.Confidence
	}
	if p.KeyFactors == nil {
		p.KeyFactors = []string{}
	}
	return Verdict{
		Prediction:      models.ParsePrediction(p.Prediction),
		Confidence:      math.Max(0, math.Min(1, conf/100)),
		Reasoning:       p.Reasoning,
		KeyFactors:      p.KeyFactors,
		SentimentWeight: p.SentimentWeight,
		StatWeight:      p.StatWeight,
	}, nil
}
