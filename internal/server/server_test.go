package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/proporacle/internal/alerts"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/momentum"
	"github.com/rewired-gh/proporacle/internal/research"
)

type fakeFeed struct {
	err     error
	measure models.Measure
	minMins float64
	season  int
}

func (f *fakeFeed) ComputeEdgeFeed(_ context.Context, measure models.Measure, minMinutes float64, season int) (*models.EdgeFeed, error) {
	f.measure, f.minMins, f.season = measure, minMinutes, season
	if f.err != nil {
		return nil, f.err
	}
	return &models.EdgeFeed{
		Entries:     []models.EdgeEntry{{Name: "Jalen Brunson", Delta: 4.6}},
		Measure:     measure,
		Season:      season,
		MinMinutes:  minMinutes,
		GeneratedAt: time.Date(2024, 11, 1, 18, 0, 0, 0, time.UTC),
	}, nil
}

type fakeResearcher struct {
	name    string
	measure models.Measure
	refresh bool
}

func (f *fakeResearcher) Research(_ context.Context, name string, measure models.Measure, refresh bool) research.Result {
	f.name, f.measure, f.refresh = name, measure, refresh
	return research.Result{
		Report: models.Report{SubjectName: name, Measure: measure, Prediction: models.PredictionOver, Confidence: 0.7},
		Cached: !refresh,
	}
}

type fakeRunner struct {
	req     alerts.RunRequest
	summary *alerts.Summary
	err     error
}

func (f *fakeRunner) Run(_ context.Context, req alerts.RunRequest) (*alerts.Summary, error) {
	f.req = req
	return f.summary, f.err
}

type fakeHistory struct {
	records []models.AlertRecord
	limit   int
	err     error
}

func (f *fakeHistory) GetRecentAlerts(k int) ([]models.AlertRecord, error) {
	f.limit = k
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > k {
		return f.records[:k], nil
	}
	return f.records, nil
}

func (f *fakeHistory) ClearAlerts() error {
	if f.err != nil {
		return f.err
	}
	f.records = nil
	return nil
}

func newTestServer(feed *fakeFeed, res *fakeResearcher, runner AlertRunner) *Server {
	return New(Config{DefaultSeason: 2025, DefaultMinMinutes: 20}, feed, res, runner, nil, nil)
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeFeed{}, &fakeResearcher{}, nil)
	rec, body := do(t, s, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestEdge(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		feedErr     error
		wantStatus  int
		wantMeasure models.Measure
		wantMinMins float64
		wantSeason  int
	}{
		{"defaults", "/api/edge", nil, http.StatusOK, models.MeasurePoints, 20, 2025},
		{"explicit params", "/api/edge?stat=pra&min_minutes=28&season=2024", nil, http.StatusOK, models.MeasurePRA, 28, 2024},
		{"long stat name", "/api/edge?stat=rebounds", nil, http.StatusOK, models.MeasureRebounds, 20, 2025},
		{"unknown stat", "/api/edge?stat=blk", nil, http.StatusBadRequest, "", 0, 0},
		{"bad minutes", "/api/edge?min_minutes=lots", nil, http.StatusBadRequest, "", 0, 0},
		{"negative minutes", "/api/edge?min_minutes=-1", nil, http.StatusBadRequest, "", 0, 0},
		{"NaN minutes", "/api/edge?min_minutes=NaN", nil, http.StatusBadRequest, "", 0, 0},
		{"infinite minutes", "/api/edge?min_minutes=%2BInf", nil, http.StatusBadRequest, "", 0, 0},
		{"bad season", "/api/edge?season=twenty", nil, http.StatusBadRequest, "", 0, 0},
		{"roster down", "/api/edge", fmt.Errorf("scan: %w", momentum.ErrRosterUnavailable), http.StatusServiceUnavailable, "", 0, 0},
		{"upstream error", "/api/edge", errors.New("boom"), http.StatusBadGateway, "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := &fakeFeed{err: tt.feedErr}
			s := newTestServer(feed, &fakeResearcher{}, nil)
			rec, body := do(t, s, http.MethodGet, tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusOK {
				if body["error"] == nil {
					t.Error("error responses should carry an error field")
				}
				return
			}
			if feed.measure != tt.wantMeasure || feed.minMins != tt.wantMinMins || feed.season != tt.wantSeason {
				t.Errorf("feed called with %s/%v/%d", feed.measure, feed.minMins, feed.season)
			}
			if body["generated_at"] == nil || body["data"] == nil {
				t.Errorf("feed body missing fields: %v", body)
			}
		})
	}
}

func TestResearch(t *testing.T) {
	res := &fakeResearcher{}
	s := newTestServer(&fakeFeed{}, res, nil)

	rec, body := do(t, s, http.MethodGet, "/api/research/Jalen%20Brunson?prop=points&refresh=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%v)", rec.Code, body)
	}
	if res.name != "Jalen Brunson" || res.measure != models.MeasurePoints || !res.refresh {
		t.Errorf("research called with %q/%s/%v", res.name, res.measure, res.refresh)
	}
	if body["cached"] != false || body["report"] == nil {
		t.Errorf("unexpected body %v", body)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/research/Jalen%20Brunson?prop=steals")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown prop status = %d, want 400", rec.Code)
	}

	do(t, s, http.MethodGet, "/api/research/LeBron%20James")
	if res.measure != models.MeasurePoints || res.refresh {
		t.Errorf("defaults not applied: %s/%v", res.measure, res.refresh)
	}
}

func TestAlertRun(t *testing.T) {
	summary := &alerts.Summary{RunID: "run-1", Sent: []alerts.SentAlert{{Name: "Jalen Brunson", Delta: 4.6}}, Skipped: []string{}}

	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{summary: summary}
		s := newTestServer(&fakeFeed{}, &fakeResearcher{}, runner)
		rec, body := do(t, s, http.MethodPost, "/api/alerts/run?stat=pra&direction=over&min_minutes=25&min_delta=4&top_n=3&season=2024")
		if rec.Code != http.StatusOK || body["run_id"] != "run-1" {
			t.Fatalf("status = %d body %v", rec.Code, body)
		}
		want := alerts.RunRequest{Measure: models.MeasurePRA, Direction: models.DirectionOver, MinMinutes: 25, MinDelta: 4, TopN: 3, Season: 2024}
		if runner.req != want {
			t.Errorf("RunRequest = %+v, want %+v", runner.req, want)
		}
	})

	t.Run("get not allowed", func(t *testing.T) {
		s := newTestServer(&fakeFeed{}, &fakeResearcher{}, &fakeRunner{summary: summary})
		rec, _ := do(t, s, http.MethodGet, "/api/alerts/run")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("no runner", func(t *testing.T) {
		s := newTestServer(&fakeFeed{}, &fakeResearcher{}, nil)
		rec, _ := do(t, s, http.MethodPost, "/api/alerts/run")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("no notifier", func(t *testing.T) {
		s := newTestServer(&fakeFeed{}, &fakeResearcher{}, &fakeRunner{err: alerts.ErrNoNotifier})
		rec, _ := do(t, s, http.MethodPost, "/api/alerts/run")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("partial delivery", func(t *testing.T) {
		s := newTestServer(&fakeFeed{}, &fakeResearcher{}, &fakeRunner{summary: summary, err: errors.New("batch 2 failed")})
		rec, body := do(t, s, http.MethodPost, "/api/alerts/run")
		if rec.Code != http.StatusBadGateway || body["summary"] == nil || body["error"] == nil {
			t.Errorf("status = %d body %v", rec.Code, body)
		}
	})

	t.Run("bad param", func(t *testing.T) {
		s := newTestServer(&fakeFeed{}, &fakeResearcher{}, &fakeRunner{summary: summary})
		rec, _ := do(t, s, http.MethodPost, "/api/alerts/run?top_n=many")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("non-finite thresholds", func(t *testing.T) {
		for _, target := range []string{
			"/api/alerts/run?min_delta=NaN",
			"/api/alerts/run?min_minutes=Inf",
			"/api/alerts/run?min_delta=-Inf",
		} {
			runner := &fakeRunner{summary: summary}
			s := newTestServer(&fakeFeed{}, &fakeResearcher{}, runner)
			rec, _ := do(t, s, http.MethodPost, target)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", target, rec.Code)
			}
		}
	})
}

func TestAlertHistory(t *testing.T) {
	hist := &fakeHistory{records: []models.AlertRecord{
		{ID: "a", Name: "Jalen Brunson", Measure: models.MeasurePoints, Delta: 4.6},
		{ID: "b", Name: "Tyrese Maxey", Measure: models.MeasurePoints, Delta: -3.1},
	}}
	s := New(Config{}, &fakeFeed{}, &fakeResearcher{}, nil, hist, nil)

	rec, body := do(t, s, http.MethodGet, "/api/alerts/history?limit=1")
	if rec.Code != http.StatusOK || body["count"] != float64(1) || hist.limit != 1 {
		t.Errorf("history = %d %v (limit %d)", rec.Code, body, hist.limit)
	}
	do(t, s, http.MethodGet, "/api/alerts/history")
	if hist.limit != defaultHistoryLimit {
		t.Errorf("default limit = %d, want %d", hist.limit, defaultHistoryLimit)
	}
	if rec, _ := do(t, s, http.MethodGet, "/api/alerts/history?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}

	rec, _ = do(t, s, http.MethodDelete, "/api/alerts/history")
	if rec.Code != http.StatusNoContent || hist.records != nil {
		t.Errorf("clear = %d, records %v", rec.Code, hist.records)
	}

	hist.err = errors.New("disk I/O error")
	if rec, _ := do(t, s, http.MethodGet, "/api/alerts/history"); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing store status = %d, want 500", rec.Code)
	}

	noHist := newTestServer(&fakeFeed{}, &fakeResearcher{}, nil)
	if rec, _ := do(t, noHist, http.MethodGet, "/api/alerts/history"); rec.Code != http.StatusNotFound {
		t.Errorf("without history status = %d, want 404", rec.Code)
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	s := newTestServer(&fakeFeed{}, &fakeResearcher{}, nil)
	do(t, s, http.MethodGet, "/api/health")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `proporacle_http_requests_total{code="200",method="GET",route="/api/health"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", rec.Body.String())
	}

	rec, body := do(t, s, http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound || body["error"] != "not found" {
		t.Errorf("not found = %d %v", rec.Code, body)
	}
}
