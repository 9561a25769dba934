package momentum

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rewired-gh/proporacle/internal/models"
)

func contextSource() *fakeSource {
	return &fakeSource{
		hits: []models.Subject{
			{ID: 8, FirstName: "Jalen", LastName: "Williams"},
			{ID: 7, FirstName: "Jalen", LastName: "Brunson"},
		},
		logs: concat(
			games(7, 30, 30, 28, 25, 22, 20, 18),
			games(7, 4, 60), // garbage time, below the context minimum
		),
	}
}

func TestFetchStatContext_DedicatedBaseline(t *testing.T) {
	src := contextSource()
	src.baseline = &models.Baseline{SubjectID: 7, GamesPlayed: 40, Points: 22}
	e := NewEngine(src, &fakeRoster{}, Config{Season: 2024}, nil)

	sc, err := e.FetchStatContext(context.Background(), "  jalen   BRUNSON ", models.MeasurePoints)
	if err != nil || sc == nil {
		t.Fatalf("FetchStatContext = (%v, %v)", sc, err)
	}
	want := &models.StatContext{
		Line:           22,
		RecentMean5:    25,
		RecentMean10:   23.8,
		StdDev:         4.3,
		OverHitRate:    0.5,
		Streak:         3,
		RecentValues:   []float64{30, 28, 25, 22, 20, 18},
		GamesQualified: 6,
		GamesPlayed:    40,
		BaselineSource: models.BaselineFromSeasonAverages,
	}
	if !reflect.DeepEqual(sc, want) {
		t.Errorf("got %+v\nwant %+v", sc, want)
	}
}

func TestFetchStatContext_DerivedBaseline(t *testing.T) {
	src := contextSource()
	src.baselineErr = errors.New("plan does not include season averages")
	e := NewEngine(src, &fakeRoster{}, Config{Season: 2024}, nil)

	sc, err := e.FetchStatContext(context.Background(), "Jalen Brunson", models.MeasurePoints)
	if err != nil || sc == nil {
		t.Fatalf("FetchStatContext = (%v, %v)", sc, err)
	}
	if sc.BaselineSource != models.BaselineFromGameLogs || sc.Line != 23.8 || sc.GamesPlayed != 6 {
		t.Errorf("unexpected derived context %+v", sc)
	}
}

func TestFetchStatContext_DerivedBaselineUsesWholeFetch(t *testing.T) {
	src := contextSource()
	src.logs = games(7, 30, 30, 28, 26, 24, 22, 20, 18, 16, 14, 12, 10, 8)
	e := NewEngine(src, &fakeRoster{}, Config{Season: 2024}, nil)

	sc, err := e.FetchStatContext(context.Background(), "Jalen Brunson", models.MeasurePoints)
	if err != nil || sc == nil {
		t.Fatalf("FetchStatContext = (%v, %v)", sc, err)
	}
	if sc.Line != 19 || sc.GamesPlayed != 12 || sc.BaselineSource != models.BaselineFromGameLogs {
		t.Errorf("line should average all 12 qualifying games: %+v", sc)
	}
	if sc.GamesQualified != 10 || sc.RecentMean10 != 21 || len(sc.RecentValues) != 10 {
		t.Errorf("window should hold the 10 most recent games: %+v", sc)
	}
	if sc.OverHitRate != 0.6 {
		t.Errorf("OverHitRate = %v, want 0.6", sc.OverHitRate)
	}
}

func TestFetchStatContext_NilOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeSource)
	}{
		{"unknown player", func(f *fakeSource) { f.hits = nil }},
		{"search failure", func(f *fakeSource) { f.searchErr = errors.New("down") }},
		{"log failure", func(f *fakeSource) { f.logs, f.logsErr = nil, errors.New("down") }},
		{"too few qualifying", func(f *fakeSource) { f.logs = games(7, 30, 20, 21) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := contextSource()
			tt.mutate(src)
			sc, err := NewEngine(src, &fakeRoster{}, Config{}, nil).
				FetchStatContext(context.Background(), "Jalen Brunson", models.MeasurePoints)
			if err != nil || sc != nil {
				t.Errorf("FetchStatContext = (%v, %v), want (nil, nil)", sc, err)
			}
		})
	}
}

func TestResolveSubject_FallsBackToFirstHit(t *testing.T) {
	e := NewEngine(contextSource(), &fakeRoster{}, Config{}, nil)
	s, err := e.ResolveSubject(context.Background(), "Jalen Smith")
	if err != nil || s == nil || s.ID != 8 {
		t.Errorf("ResolveSubject = (%v, %v), want first hit", s, err)
	}
}

func TestFetchStatContext_TruncatesToWindow(t *testing.T) {
	src := contextSource()
	src.logs = games(7, 30, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15)
	sc, err := NewEngine(src, &fakeRoster{}, Config{}, nil).
		FetchStatContext(context.Background(), "Jalen Brunson", models.MeasurePoints)
	if err != nil || sc == nil {
		t.Fatalf("FetchStatContext = (%v, %v)", sc, err)
	}
	if sc.GamesQualified != 10 || sc.RecentValues[0] != 1 || sc.RecentValues[9] != 10 {
		t.Errorf("unexpected window %+v", sc)
	}
}
