package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordsLLMAndToolOutcomes(t *testing.T) {
	m := NewMetrics()

	m.LLMRequestDuration.WithLabelValues("test-model").Observe(0.5)
	m.LLMRequestCounter.WithLabelValues("test-model", "success").Inc()
	m.ToolExecutionDuration.WithLabelValues("echo").Observe(0.01)
	m.ToolExecutionCounter.WithLabelValues("echo", "success").Inc()
	m.ActiveRuns.Inc()
	m.ActiveRuns.Dec()

	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("test-model", "success")); count != 1 {
		t.Errorf("LLMRequestCounter = %v, want 1", count)
	}
	if count := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("echo", "success")); count != 1 {
		t.Errorf("ToolExecutionCounter = %v, want 1", count)
	}
	if active := testutil.ToFloat64(m.ActiveRuns); active != 0 {
		t.Errorf("ActiveRuns = %v, want 0", active)
	}
}
