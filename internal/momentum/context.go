package momentum

import (
	"context"
	"fmt"
	"strings"

	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/statsource"
	"golang.org/x/sync/errgroup"
)

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ResolveSubject picks the search hit whose full name matches exactly, else the first hit.
// It returns nil when the search finds nobody.
func (e *Engine) ResolveSubject(ctx context.Context, name string) (*models.Subject, error) {
	hits, err := e.source.SearchSubjects(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", name, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	want := normalizeName(name)
	for i := range hits {
		if normalizeName(hits[i].FullName()) == want {
			return &hits[i], nil
		}
	}
	return &hits[0], nil
}

// FetchStatContext summarizes a player's recent games against a baseline.
// It returns nil without error when the player is unknown, the logs are
// unreachable, or fewer than the minimum qualifying games exist.
func (e *Engine) FetchStatContext(ctx context.Context, name string, measure models.Measure) (*models.StatContext, error) {
	subject, err := e.ResolveSubject(ctx, name)
	if err != nil {
		logger.Warn("Stat context for %s unavailable: %v", name, err)
		e.metrics.UpstreamFailures.WithLabelValues("stats", "search").Inc()
		return nil, nil
	}
	if subject == nil {
		logger.Info("No player found for %q", name)
		return nil, nil
	}

	var (
		baseline    *models.Baseline
		baselineErr error
		logs        []models.GameObservation
		logsErr     error
	)
	var g errgroup.Group
	g.Go(func() error {
		baseline, baselineErr = e.source.FetchSeasonBaseline(ctx, subject.ID, e.cfg.Season)
		return nil
	})
	g.Go(func() error {
		logs, logsErr = e.source.FetchGameLogs(ctx, statsource.LogQuery{
			SubjectIDs: []int64{subject.ID},
			Season:     e.cfg.Season,
			Page:       1,
			PerPage:    e.cfg.ContextPerPage,
		})
		return nil
	})
	_ = g.Wait()

	if logsErr != nil {
		logger.Warn("Game logs for %s unavailable: %v", subject.FullName(), logsErr)
		e.metrics.UpstreamFailures.WithLabelValues("stats", "game_logs").Inc()
		return nil, nil
	}
	if baselineErr != nil {
		logger.Warn("Season baseline for %s unavailable, deriving from logs: %v", subject.FullName(), baselineErr)
		e.metrics.UpstreamFailures.WithLabelValues("stats", "season_averages").Inc()
	}

	var qualifying []models.GameObservation
	for _, g := range logs {
		if g.SubjectID == subject.ID && g.Minutes >= e.cfg.ContextMinMinutes {
			qualifying = append(qualifying, g)
		}
	}
	sortRecentFirst(qualifying)
	all := make([]float64, len(qualifying))
	for i, g := range qualifying {
		all[i] = measure.Value(g)
	}
	values := all
	if len(values) > e.cfg.ContextWindow {
		values = values[:e.cfg.ContextWindow]
	}
	if len(values) < e.cfg.MinSample {
		logger.Info("Insufficient data for %s: %d qualifying games", subject.FullName(), len(values))
		return nil, nil
	}
	return buildStatContext(values, all, baseline, measure), nil
}

// buildStatContext reduces the most-recent-first window against the dedicated baseline when it
// carries a positive value for the measure, otherwise against the mean of every qualifying
// value in the fetch, of which window is a prefix.
func buildStatContext(window, all []float64, baseline *models.Baseline, measure models.Measure) *models.StatContext {
	values := window
	line := Mean(all)
	source := models.BaselineFromGameLogs
	gamesPlayed := len(all)
	if baseline != nil {
		if v := measure.BaselineValue(*baseline); v > 0 {
			line = v
			source = models.BaselineFromSeasonAverages
			if baseline.GamesPlayed > 0 {
				gamesPlayed = baseline.GamesPlayed
			}
		}
	}

	recent5 := values
	if len(recent5) > 5 {
		recent5 = recent5[:5]
	}
	rounded := make([]float64, len(values))
	for i, v := range values {
		rounded[i] = Round1(v)
	}

	return &models.StatContext{
		Line:           Round1(line),
		RecentMean5:    Round1(Mean(recent5)),
		RecentMean10:   Round1(Mean(values)),
		StdDev:         Round1(PopulationStdDev(values)),
		OverHitRate:    Round2(HitRate(values, line)),
		Streak:         Streak(values, line),
		RecentValues:   rounded,
		GamesQualified: len(values),
		GamesPlayed:    gamesPlayed,
		BaselineSource: source,
	}
}
