package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.CacheHits.WithLabelValues("report").Inc()
	m.CacheHits.WithLabelValues("report").Inc()
	m.ReportsGenerated.WithLabelValues("fallback").Inc()

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("report")); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `proporacle_reports_generated_total{path="fallback"} 1`) {
		t.Errorf("exposition missing reports counter:\n%s", body)
	}
}

func TestOrNew(t *testing.T) {
	if OrNew(nil) == nil {
		t.Fatal("OrNew(nil) returned nil")
	}
	m := New()
	if OrNew(m) != m {
		t.Error("OrNew should return the provided metrics")
	}
}
