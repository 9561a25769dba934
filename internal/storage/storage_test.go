package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/ttlcache"
)

var _ ttlcache.Store = (*Storage)(nil)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAlert(id string, sentAt time.Time) *models.AlertRecord {
	return &models.AlertRecord{
		ID:        id,
		RunID:     "run-1",
		SubjectID: 237,
		Name:      "LeBron James",
		Measure:   models.MeasurePRA,
		Direction: models.DirectionOver,
		Delta:     4.2,
		SentAt:    sentAt,
	}
}

func TestStorage_PutAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Put(ctx, "report:lebron james:pts", []byte(`{"prediction":"over"}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := s.Get(ctx, "report:lebron james:pts")
	if err != nil || !found {
		t.Fatalf("Get = (found %v, err %v)", found, err)
	}
	if string(got) != `{"prediction":"over"}` {
		t.Errorf("got %q", got)
	}
}

func TestStorage_GetMissing(t *testing.T) {
	s := newTestStorage(t)
	_, found, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if found {
		t.Error("expected miss")
	}
}

func TestStorage_ExpiryAndPurge(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	if err := s.Put(ctx, "short", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "forever", []byte("1"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := s.Get(ctx, "short"); found {
		t.Error("expired entry should read as a miss")
	}
	if _, found, _ := s.Get(ctx, "forever"); !found {
		t.Error("entry without TTL should persist")
	}

	n, err := s.PurgeExpired()
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

func TestStorage_PutOverwritesAndEvict(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_ = s.Put(ctx, "k", []byte("a"), time.Hour)
	_ = s.Put(ctx, "k", []byte("b"), time.Hour)
	got, _, _ := s.Get(ctx, "k")
	if string(got) != "b" {
		t.Errorf("got %q, want b", got)
	}

	if err := s.Evict(ctx, "k"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("expected miss after Evict")
	}
	if err := s.Evict(ctx, "k"); err != nil {
		t.Errorf("evicting a missing key should not error: %v", err)
	}
}

func TestStorage_AlertsNewestFirstAndCapped(t *testing.T) {
	s, err := New(3, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		if err := s.AddAlert(testAlert(fmt.Sprintf("a-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
	}

	alerts, err := s.GetRecentAlerts(10)
	if err != nil {
		t.Fatalf("GetRecentAlerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("got %d alerts, want 3 after cap", len(alerts))
	}
	if alerts[0].ID != "a-4" || alerts[2].ID != "a-2" {
		t.Errorf("unexpected order: %s .. %s", alerts[0].ID, alerts[2].ID)
	}
	if alerts[0].Measure != models.MeasurePRA || alerts[0].Direction != models.DirectionOver {
		t.Errorf("enum round trip failed: %+v", alerts[0])
	}
}

func TestStorage_AddAlertRequiresID(t *testing.T) {
	s := newTestStorage(t)
	if err := s.AddAlert(testAlert("", time.Now())); err == nil {
		t.Error("expected error for empty ID")
	}
}

func TestStorage_ClearAlerts(t *testing.T) {
	s := newTestStorage(t)
	_ = s.AddAlert(testAlert("x", time.Now()))
	if err := s.ClearAlerts(); err != nil {
		t.Fatalf("ClearAlerts: %v", err)
	}
	alerts, _ := s.GetRecentAlerts(10)
	if len(alerts) != 0 {
		t.Errorf("expected empty history, got %d", len(alerts))
	}
}
