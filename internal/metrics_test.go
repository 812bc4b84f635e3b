package internal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveFetch(true)
	m.ObserveFetch(true)
	m.ObserveFetch(false)
	m.ObserveCacheHit()
	m.ObserveAbsent("NotFound")
	m.ObserveSection("Trials", nil)
	m.ObserveSection("Units", errors.New("bad"))
	m.ObserveConversion(3 * time.Second)

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("success")); got != 2 {
		t.Errorf("fetch success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fetches.WithLabelValues("error")); got != 1 {
		t.Errorf("fetch error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheHits); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sections.WithLabelValues("Units", "error")); got != 1 {
		t.Errorf("Units errors = %v, want 1", got)
	}

	path := filepath.Join(t.TempDir(), "alyx2nwb.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "alyx2nwb_conversion_seconds") {
		t.Errorf("textfile missing conversion histogram: %s", data)
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.ObserveFetch(true)
	m.ObserveCacheHit()
	m.ObserveAbsent("Empty")
	m.ObserveSection("Trials", nil)
	m.ObserveConversion(time.Second)
	if m.Registry() != nil {
		t.Error("nil Metrics Registry() should be nil")
	}
	if err := m.WriteTextfile("/nonexistent/x.prom"); err != nil {
		t.Errorf("nil Metrics WriteTextfile() error = %v, want nil", err)
	}
}
