// Package observability provides the metrics and tracing instrumentation
// shared across the orchestrator and its CLI entry point. Grounded on the
// teacher's internal/observability package, trimmed to the signals
// SPEC_FULL.md's components actually emit: LLM call latency, tool
// dispatch latency/counts, and active-run gauges.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide Prometheus registry for orchestrator runs.
type Metrics struct {
	// LLMRequestDuration measures LLM completion latency in seconds.
	// Labels: model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM completions by model and outcome.
	// Labels: model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool/agent dispatch latency in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts dispatches by tool name and outcome.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// ActiveRuns is a gauge of currently in-flight AgentRuns.
	ActiveRuns prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics registers the orchestrator's metrics on the default
// Prometheus registry on its first call and returns that same *Metrics on
// every later call, since the default registry rejects a second
// registration of the same metric names.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { sharedMetrics = newMetrics() })
	return sharedMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestra",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM completion latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"model"}),
		LLMRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestra",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM completions by model and outcome.",
		}, []string{"model", "status"}),
		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestra",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool/agent dispatch latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestra",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Tool/agent dispatches by name and outcome.",
		}, []string{"tool_name", "status"}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestra",
			Name:      "active_runs",
			Help:      "AgentRuns currently in flight.",
		}),
	}
}
