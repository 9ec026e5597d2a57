package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.LLMRequest("anthropic")
	c.LLMRequest("anthropic")
	c.LLMRequest("gemini")
	c.TaskFinished("completed")
	c.TaskFinished("failed")
	c.BrowserOp("launch")
	c.FixIteration()
	c.FixIteration()
	c.CacheEvent("hit")
	c.SetQueueDepth("pending", 7)
	c.SetQueueDepth("pending", 4)

	if got := testutil.ToFloat64(c.llmRequests.WithLabelValues("anthropic")); got != 2 {
		t.Errorf("llm_requests_total{anthropic} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.llmRequests.WithLabelValues("gemini")); got != 1 {
		t.Errorf("llm_requests_total{gemini} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.tasks.WithLabelValues("completed")); got != 1 {
		t.Errorf("tasks_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.browserOps.WithLabelValues("launch")); got != 1 {
		t.Errorf("browser_ops_total{launch} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.fixIterations); got != 2 {
		t.Errorf("fix_iterations_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheEvents.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache_events_total{hit} = %v, want 1", got)
	}
	// Gauge keeps the last set value.
	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")); got != 4 {
		t.Errorf("queue_depth{pending} = %v, want 4", got)
	}
}

func TestNilCollectorIsInert(t *testing.T) {
	var c *Collector
	c.LLMRequest("anthropic")
	c.TaskFinished("completed")
	c.SetQueueDepth("pending", 1)
	c.BrowserOp("launch")
	c.FixIteration()
	c.CacheEvent("miss")
	c.Observe("noop", time.Millisecond)
	c.Timer("noop")()

	snap, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather on nil: %v", err)
	}
	if len(snap.Metrics) != 0 {
		t.Errorf("nil collector gathered %d families", len(snap.Metrics))
	}
	if c.Handler() == nil {
		t.Error("nil collector should still return a handler")
	}
}

func TestTimerObservesDuration(t *testing.T) {
	c := NewCollector()
	stop := c.Timer("chat_ask")
	time.Sleep(5 * time.Millisecond)
	stop()
	c.Observe("chat_ask", 20*time.Millisecond)

	snap, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	sample, ok := findSample(snap, "op_duration_seconds", "op", "chat_ask")
	if !ok {
		t.Fatal("no op_duration_seconds sample for chat_ask")
	}
	if sample.Count != 2 {
		t.Errorf("observation count = %d, want 2", sample.Count)
	}
	if sample.Value <= 0 {
		t.Errorf("summed duration = %v, want > 0", sample.Value)
	}
	if len(sample.Quantiles) == 0 {
		t.Error("expected tracked quantiles")
	}
}

func TestGatherSkipsEmptyQuantiles(t *testing.T) {
	c := NewCollector()
	// Instantiate a summary child without observing anything; its quantiles
	// report NaN and must be dropped rather than break JSON encoding.
	c.opDuration.WithLabelValues("idle")

	snap, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	sample, ok := findSample(snap, "op_duration_seconds", "op", "idle")
	if !ok {
		t.Fatal("no sample for idle")
	}
	if len(sample.Quantiles) != 0 {
		t.Errorf("quantiles = %v, want none", sample.Quantiles)
	}
	if _, err := json.Marshal(snap); err != nil {
		t.Errorf("snapshot not encodable: %v", err)
	}
}

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector()
	c.TaskFinished("completed")
	c.TaskFinished("completed")
	c.CacheEvent("store")

	path, err := c.WriteSnapshot(filepath.Join(dir, "stats"))
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "stats_") || !strings.HasSuffix(base, ".json") {
		t.Errorf("snapshot name = %s", base)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.GeneratedAt.IsZero() {
		t.Error("generated_at missing")
	}
	sample, ok := findSample(&snap, "tasks_total", "status", "completed")
	if !ok {
		t.Fatal("no tasks_total{completed} sample")
	}
	if sample.Value != 2 {
		t.Errorf("tasks_total{completed} = %v, want 2", sample.Value)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	c := NewCollector()
	c.TaskFinished("completed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `tasks_total{status="completed"} 1`) {
		t.Errorf("exposition missing counter, body:\n%s", body)
	}
}

func findSample(snap *Snapshot, metric, label, value string) (Sample, bool) {
	for _, m := range snap.Metrics {
		if m.Name != metric {
			continue
		}
		for _, s := range m.Samples {
			if s.Labels[label] == value {
				return s, true
			}
		}
	}
	return Sample{}, false
}
