package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	TurnsTotal       *prometheus.CounterVec
	WorkerFailures   *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	IndexingFailures prometheus.Counter
	QuestsCleared    prometheus.Counter
	MemoryFacts      prometheus.Counter
	TurnLatency      prometheus.Histogram

	stageWindow *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of tracked chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turn attempts by outcome.",
		}, []string{"outcome"}),
		WorkerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Secondary worker failures by worker.",
		}, []string{"worker"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Generation provider errors by provider and code.",
		}, []string{"provider", "code"}),
		IndexingFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexing_failures_total",
			Help:      "Semantic index writes that failed after a successful commit.",
		}),
		QuestsCleared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_cleared_total",
			Help:      "Quests transitioned to cleared.",
		}),
		MemoryFacts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_facts_total",
			Help:      "Memory facts extracted and persisted.",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end committed turn latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		stageWindow: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageTurnTotal, d)
}

// ObserveStage records a per-stage duration in the rolling diagnostics window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
}

// ObserveIndicator counts a degraded-path occurrence in the diagnostics window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.ObserveIndicator(name)
}

// SnapshotTurnStages exports the rolling latency window for the perf endpoint.
func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil || m.stageWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
