// Package momentum reduces raw game logs into roster-wide edge feeds and per-player stat contexts.
package momentum

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/statsource"
	"golang.org/x/sync/errgroup"
)

// ErrRosterUnavailable is the only hard failure of a scan.
var ErrRosterUnavailable = errors.New("roster unavailable")

// Roster supplies the players a scan covers.
type Roster interface {
	GetOrStale(ctx context.Context) ([]models.Subject, error)
}

// Config tunes the engine.
type Config struct {
	LogPages          int // parallel game-log pages per scan
	PerPage           int
	TopN              int
	MinSample         int // qualifying games needed per player
	RecentWindow      int // games in the recent average
	Season            int // season used for stat contexts
	ContextPerPage    int
	ContextMinMinutes float64
	ContextWindow     int
}

// DefaultConfig returns the scan defaults.
func DefaultConfig() Config {
	return Config{
		LogPages:          2,
		PerPage:           100,
		TopN:              20,
		MinSample:         3,
		RecentWindow:      5,
		ContextPerPage:    15,
		ContextMinMinutes: 10,
		ContextWindow:     10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LogPages <= 0 {
		c.LogPages = d.LogPages
	}
	if c.PerPage <= 0 {
		c.PerPage = d.PerPage
	}
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.MinSample <= 0 {
		c.MinSample = d.MinSample
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.ContextPerPage <= 0 {
		c.ContextPerPage = d.ContextPerPage
	}
	if c.ContextMinMinutes <= 0 {
		c.ContextMinMinutes = d.ContextMinMinutes
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = d.ContextWindow
	}
	return c
}

// Engine computes edge feeds and stat contexts. It holds no per-scan state.
type Engine struct {
	source  statsource.Source
	roster  Roster
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an engine.
func NewEngine(source statsource.Source, roster Roster, cfg Config, m *metrics.Metrics) *Engine {
	return &Engine{
		source:  source,
		roster:  roster,
		cfg:     cfg.withDefaults(),
		metrics: metrics.OrNew(m),
		now:     time.Now,
	}
}

// ComputeEdgeFeed ranks roster players by how far their recent average sits from their season average.
// Failed log pages shrink the sample; a failed first page marks the feed partial.
func (e *Engine) ComputeEdgeFeed(ctx context.Context, measure models.Measure, minMinutes float64, season int) (*models.EdgeFeed, error) {
	start := e.now()
	feed, err := e.computeEdgeFeed(ctx, measure, minMinutes, season)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case feed.Partial:
		result = "partial"
	}
	e.metrics.ScanDuration.WithLabelValues(string(measure), result).Observe(e.now().Sub(start).Seconds())
	if err == nil {
		e.metrics.ScanEntries.Set(float64(len(feed.Entries)))
	}
	return feed, err
}

func (e *Engine) computeEdgeFeed(ctx context.Context, measure models.Measure, minMinutes float64, season int) (*models.EdgeFeed, error) {
	players, err := e.roster.GetOrStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}

	feed := &models.EdgeFeed{
		Entries:     []models.EdgeEntry{},
		Measure:     measure,
		Season:      season,
		MinMinutes:  minMinutes,
		GeneratedAt: e.now(),
	}
	feed.Stats.RosterSize = len(players)
	if len(players) == 0 {
		logger.Warn("Edge scan for %s: roster is empty", measure)
		return feed, nil
	}

	byID := make(map[int64]models.Subject, len(players))
	ids := make([]int64, 0, len(players))
	for _, p := range players {
		if _, dup := byID[p.ID]; dup {
			continue
		}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	pages := e.fetchPages(ctx, ids, season)
	var observations []models.GameObservation
	for i, page := range pages {
		if page.err != nil {
			feed.FailedPages = append(feed.FailedPages, i+1)
			if i == 0 {
				feed.Partial = true
			}
			logger.Warn("Edge scan for %s: log page %d failed: %v", measure, i+1, page.err)
			e.metrics.UpstreamFailures.WithLabelValues("stats", "game_logs").Inc()
			continue
		}
		observations = append(observations, page.obs...)
	}
	feed.Stats.ObservationsFetched = len(observations)

	groups := make(map[int64][]models.GameObservation)
	for _, g := range observations {
		if g.Minutes < minMinutes {
			continue
		}
		if _, ok := byID[g.SubjectID]; !ok {
			continue
		}
		feed.Stats.ObservationsQualifying++
		groups[g.SubjectID] = append(groups[g.SubjectID], g)
	}
	feed.Stats.SubjectsGrouped = len(groups)

	entries := make([]models.EdgeEntry, 0, len(groups))
	for id, games := range groups {
		if len(games) < e.cfg.MinSample {
			continue
		}
		entries = append(entries, e.buildEntry(byID[id], games, measure))
	}
	feed.Stats.CandidatesBeforeSort = len(entries)

	rankEntries(entries)
	if len(entries) > e.cfg.TopN {
		entries = entries[:e.cfg.TopN]
	}
	feed.Entries = entries

	logger.Info("Edge scan for %s season %d: %d players, %d observations, %d qualifying, %d ranked",
		measure, season, len(players), feed.Stats.ObservationsFetched, feed.Stats.ObservationsQualifying, len(entries))
	return feed, nil
}

type pageResult struct {
	obs []models.GameObservation
	err error
}

// fetchPages fetches every log page in parallel. A failed page is recorded, never fatal.
func (e *Engine) fetchPages(ctx context.Context, ids []int64, season int) []pageResult {
	results := make([]pageResult, e.cfg.LogPages)
	var g errgroup.Group
	for i := range results {
		page := i + 1
		g.Go(func() error {
			obs, err := e.source.FetchGameLogs(ctx, statsource.LogQuery{
				SubjectIDs: ids,
				Season:     season,
				Page:       page,
				PerPage:    e.cfg.PerPage,
			})
			results[page-1] = pageResult{obs: obs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) buildEntry(subject models.Subject, games []models.GameObservation, measure models.Measure) models.EdgeEntry {
	sortRecentFirst(games)

	values := make([]float64, len(games))
	for i, g := range games {
		values[i] = measure.Value(g)
	}
	recent := values
	if len(recent) > e.cfg.RecentWindow {
		recent = recent[:e.cfg.RecentWindow]
	}

	seasonAvg := Round1(Mean(values))
	recentAvg := Round1(Mean(recent))
	last := make([]float64, len(recent))
	for i, v := range recent {
		last[i] = Round1(v)
	}

	return models.EdgeEntry{
		SubjectID:   subject.ID,
		Name:        subject.FullName(),
		Team:        subject.Team,
		TeamAbbrev:  subject.TeamAbbrev,
		SeasonAvg:   seasonAvg,
		RecentAvg:   recentAvg,
		Delta:       Round1(recentAvg - seasonAvg),
		Last5:       last,
		GamesPlayed: len(games),
	}
}

// sortRecentFirst orders by date descending, game ID descending on the same date.
func sortRecentFirst(games []models.GameObservation) {
	sort.SliceStable(games, func(i, j int) bool {
		if !games[i].Date.Equal(games[j].Date) {
			return games[i].Date.After(games[j].Date)
		}
		return games[i].GameID > games[j].GameID
	})
}

func rankEntries(entries []models.EdgeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := math.Abs(entries[i].Delta), math.Abs(entries[j].Delta)
		if a != b {
			return a > b
		}
		if entries[i].GamesPlayed != entries[j].GamesPlayed {
			return entries[i].GamesPlayed > entries[j].GamesPlayed
		}
		return entries[i].SubjectID < entries[j].SubjectID
	})
}
