package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/storage"
	"github.com/rewired-gh/proporacle/internal/ttlcache"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, ttlcache.ErrUnavailable
}
func (brokenStore) Put(context.Context, string, []byte, time.Duration) error {
	return ttlcache.ErrUnavailable
}
func (brokenStore) Evict(context.Context, string) error { return ttlcache.ErrUnavailable }

type stubFeed struct {
	feed *models.EdgeFeed
	err  error
}

func (s *stubFeed) ComputeEdgeFeed(context.Context, models.Measure, float64, int) (*models.EdgeFeed, error) {
	return s.feed, s.err
}

type recordingNotifier struct {
	batches []models.AlertBatch
	failOn  int // 1-based batch number that fails, 0 never
}

func (n *recordingNotifier) SendEdgeAlerts(b models.AlertBatch) error {
	if n.failOn > 0 && len(n.batches)+1 == n.failOn {
		n.failOn = 0
		return errors.New("telegram down")
	}
	n.batches = append(n.batches, b)
	return nil
}

func entries(deltas ...float64) []models.EdgeEntry {
	out := make([]models.EdgeEntry, len(deltas))
	for i, d := range deltas {
		out[i] = models.EdgeEntry{SubjectID: int64(i + 1), Name: fmt.Sprintf("Player %d", i+1), Delta: d}
	}
	return out
}

func TestCooldownKey(t *testing.T) {
	if got := CooldownKey(models.MeasurePRA, models.DirectionOver, 237); got != "alert:cd:pra:over:237" {
		t.Errorf("CooldownKey = %q", got)
	}
}

func TestDeduplicator_FilterAndMark(t *testing.T) {
	now := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	store := ttlcache.NewMemoryStoreWithClock(func() time.Time { return now })
	d := NewDeduplicator(store, nil)
	ctx := context.Background()
	cands := entries(5, 4, 3)

	if err := d.MarkAlerted(ctx, cands[:1], models.MeasurePoints, models.DirectionBoth, time.Hour); err != nil {
		t.Fatalf("MarkAlerted: %v", err)
	}
	res := d.FilterCandidates(ctx, cands, models.MeasurePoints, models.DirectionBoth, time.Hour)
	if len(res.ToAlert) != 2 || len(res.Suppressed) != 1 || res.Suppressed[0].SubjectID != 1 || res.Degraded {
		t.Errorf("unexpected result %+v", res)
	}

	// another direction has its own cooldown
	res = d.FilterCandidates(ctx, cands, models.MeasurePoints, models.DirectionOver, time.Hour)
	if len(res.Suppressed) != 0 {
		t.Errorf("direction should be part of the key, got %+v", res)
	}

	now = now.Add(time.Hour)
	res = d.FilterCandidates(ctx, cands, models.MeasurePoints, models.DirectionBoth, time.Hour)
	if len(res.Suppressed) != 0 {
		t.Errorf("cooldown should have expired, got %+v", res)
	}
}

func TestDeduplicator_Degrades(t *testing.T) {
	ctx := context.Background()
	cands := entries(5, 4)

	res := NewDeduplicator(nil, nil).FilterCandidates(ctx, cands, models.MeasurePoints, models.DirectionBoth, time.Hour)
	if len(res.ToAlert) != 2 || res.Degraded {
		t.Errorf("nil store: %+v", res)
	}

	d := NewDeduplicator(brokenStore{}, nil)
	res = d.FilterCandidates(ctx, cands, models.MeasurePoints, models.DirectionBoth, time.Hour)
	if len(res.ToAlert) != 2 || !res.Degraded {
		t.Errorf("broken store: %+v", res)
	}
	if err := d.MarkAlerted(ctx, cands, models.MeasurePoints, models.DirectionBoth, time.Hour); err == nil {
		t.Error("MarkAlerted should report store failures")
	}
}

func newRunner(feed *models.EdgeFeed, store ttlcache.Store, n Notifier, h History) *Runner {
	return NewRunner(&stubFeed{feed: feed}, NewDeduplicator(store, nil), n, h, Config{Season: 2024}, nil)
}

func TestRunner_FiltersSendsAndDedups(t *testing.T) {
	feed := &models.EdgeFeed{Entries: entries(5, -4, 3, 1, -2.5, 1.9)}
	store := ttlcache.NewMemoryStore()
	n := &recordingNotifier{}
	hist, err := storage.New(100, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer hist.Close()
	r := newRunner(feed, store, n, hist)
	ctx := context.Background()

	sum, err := r.Run(ctx, RunRequest{Measure: models.MeasurePoints})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.MinDelta != 2.0 || sum.Direction != models.DirectionBoth || sum.TotalCandidates != 4 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if len(sum.Sent) != 4 || len(n.batches) != 1 || n.batches[0].Season != 2024 {
		t.Errorf("sent=%d batches=%d", len(sum.Sent), len(n.batches))
	}
	if sum.RunID == "" || !sum.DedupConfigured || sum.CooldownMinutes != 180 {
		t.Errorf("unexpected summary metadata %+v", sum)
	}

	recs, err := hist.GetRecentAlerts(10)
	if err != nil || len(recs) != 4 || recs[0].RunID != sum.RunID {
		t.Errorf("history = %v, %v", recs, err)
	}

	again, err := r.Run(ctx, RunRequest{Measure: models.MeasurePoints})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(again.Sent) != 0 || len(again.Skipped) != 4 || len(n.batches) != 1 {
		t.Errorf("second run should be fully suppressed: %+v", again)
	}
}

func TestRunner_Directions(t *testing.T) {
	feed := &models.EdgeFeed{Entries: entries(5, -4, 3, -2.5)}
	tests := []struct {
		dir  models.Direction
		want int
	}{
		{models.DirectionOver, 2},
		{models.DirectionUnder, 2},
		{models.DirectionBoth, 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			sum, err := newRunner(feed, nil, &recordingNotifier{}, nil).
				Run(context.Background(), RunRequest{Measure: models.MeasurePoints, Direction: tt.dir})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(sum.Sent) != tt.want || sum.DedupConfigured {
				t.Errorf("sent %d, want %d (%+v)", len(sum.Sent), tt.want, sum)
			}
		})
	}
}

func TestRunner_BatchFailureMarksOnlyDelivered(t *testing.T) {
	deltas := make([]float64, 25)
	for i := range deltas {
		deltas[i] = 10
	}
	feed := &models.EdgeFeed{Entries: entries(deltas...)}
	store := ttlcache.NewMemoryStore()
	n := &recordingNotifier{failOn: 2}
	r := newRunner(feed, store, n, nil)
	ctx := context.Background()

	sum, err := r.Run(ctx, RunRequest{Measure: models.MeasurePoints, TopN: 25})
	if err == nil {
		t.Fatal("expected send failure")
	}
	if len(sum.Sent) != 10 {
		t.Errorf("sent = %d, want only the first batch", len(sum.Sent))
	}

	sum, err = r.Run(ctx, RunRequest{Measure: models.MeasurePoints, TopN: 25})
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if len(sum.Skipped) != 10 || len(sum.Sent) != 15 {
		t.Errorf("retry sent=%d skipped=%d", len(sum.Sent), len(sum.Skipped))
	}
	if got := len(n.batches); got != 3 {
		t.Errorf("batches = %d, want 1 + 2", got)
	}
}

func TestRunner_Errors(t *testing.T) {
	if _, err := NewRunner(&stubFeed{}, nil, nil, nil, Config{}, nil).Run(context.Background(), RunRequest{}); !errors.Is(err, ErrNoNotifier) {
		t.Errorf("expected ErrNoNotifier, got %v", err)
	}
	boom := errors.New("roster down")
	r := NewRunner(&stubFeed{err: boom}, nil, &recordingNotifier{}, nil, Config{}, nil)
	if _, err := r.Run(context.Background(), RunRequest{}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped feed error, got %v", err)
	}
}

func TestDefaultMinDelta(t *testing.T) {
	tests := map[models.Measure]float64{
		models.MeasurePoints:   2.0,
		models.MeasurePRA:      3.5,
		models.MeasureRebounds: 1.5,
		models.MeasureAssists:  1.5,
	}
	for m, want := range tests {
		if got := DefaultMinDelta(m); got != want {
			t.Errorf("DefaultMinDelta(%s) = %v, want %v", m, got, want)
		}
	}
}
