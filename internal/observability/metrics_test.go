package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics("memvault_test", prometheus.NewRegistry())
	m.IncIngestion("created")
	m.IncIngestion("created")
	m.IncIngestion("merged")
	m.IncFallback("embedding")
	m.AddPruned(3)
	m.AddPruned(0)

	if got := testutil.ToFloat64(m.Ingestions.WithLabelValues("created")); got != 2 {
		t.Fatalf("created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Ingestions.WithLabelValues("merged")); got != 1 {
		t.Fatalf("merged = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecordsPruned); got != 3 {
		t.Fatalf("pruned = %v, want 3", got)
	}

	m.ObserveIngestDuration(40 * time.Millisecond)
	snap := m.IngestStageSnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "ingest_total" {
		t.Fatalf("stages = %+v", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "embedding_fallback" {
		t.Fatalf("indicators = %+v", snap.Indicators)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncIngestion("created")
	m.IncQuery("semantic")
	m.ObserveIngestStage("resolve", time.Millisecond)
	if snap := m.IngestStageSnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("stages = %+v, want none", snap.Stages)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "debug", "json").Debug("hello", "owner_id", "u1")
	if !strings.Contains(buf.String(), `"owner_id":"u1"`) {
		t.Fatalf("json output = %q", buf.String())
	}
	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate() = %q", got)
	}
	if got := Truncate("abcdefgh", 3); got != "abc..." {
		t.Fatalf("Truncate() = %q", got)
	}
}
