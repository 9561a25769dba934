// Package research assembles a per-player report from mentions, sentiment and recent stats.
package research

import (
	"context"
	"strings"
	"sync"

	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/sentiment"
	"github.com/rewired-gh/proporacle/internal/synthesis"
)

// MentionFetcher returns recent mentions for a player. Failures are absorbed by the implementation.
type MentionFetcher interface {
	Fetch(ctx context.Context, subjectName string) []models.Mention
}

// StatFetcher returns a player's stat context or nil when unavailable.
type StatFetcher interface {
	FetchStatContext(ctx context.Context, name string, measure models.Measure) (*models.StatContext, error)
}

// Result is what a research request returns.
type Result struct {
	Report      models.Report          `json:"report"`
	StatContext *models.StatContext    `json:"stat_context"`
	Sentiment   *models.SentimentScore `json:"sentiment,omitempty"`
	Cached      bool                   `json:"cached"`
}

// Service wires the fetchers to the synthesis engine.
type Service struct {
	mentions MentionFetcher
	stats    StatFetcher
	engine   *synthesis.Engine
}

// NewService creates a research service.
func NewService(mentions MentionFetcher, stats StatFetcher, engine *synthesis.Engine) *Service {
	return &Service{mentions: mentions, stats: stats, engine: engine}
}

// Research returns the cached report for the player when valid, unless refresh is set.
// It never fails; missing inputs lower the report's confidence instead.
func (s *Service) Research(ctx context.Context, name string, measure models.Measure, refresh bool) Result {
	name = strings.TrimSpace(name)
	if refresh {
		s.engine.Invalidate(ctx, name, measure)
	} else if r, ok := s.engine.Cached(ctx, name, measure); ok {
		return Result{Report: r, StatContext: r.StatContext, Sentiment: r.Sentiment, Cached: true}
	}

	var (
		mentions []models.Mention
		sc       *models.StatContext
		wg       sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		mentions = s.mentions.Fetch(ctx, name)
	}()
	go func() {
		defer wg.Done()
		var err error
		sc, err = s.stats.FetchStatContext(ctx, name, measure)
		if err != nil {
			logger.Warn("Stat context for %s failed: %v", name, err)
			sc = nil
		}
	}()
	wg.Wait()

	score := sentiment.Analyze(mentions)
	report, cached := s.engine.GenerateReport(ctx, synthesis.ReportRequest{
		SubjectName: name,
		Measure:     measure,
		Mentions:    mentions,
		Sentiment:   &score,
		StatContext: sc,
	})
	logger.Info("Research %s %s: %s at %.2f (fallback=%v, mentions=%d)",
		name, measure, report.Prediction, report.Confidence, report.UsedFallback, len(mentions))
	return Result{Report: report, StatContext: report.StatContext, Sentiment: report.Sentiment, Cached: cached}
}
