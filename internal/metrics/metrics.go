// Package metrics provides Prometheus metrics for Harrier scoring runs and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/harrier/internal/domain"
)

const namespace = "harrier"

var (
	// WindowsScoredTotal counts windows that went through model and rules.
	WindowsScoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_scored_total",
			Help:      "Total number of terminal windows scored.",
		},
	)

	// WindowsSkippedTotal counts windows left unscored, by reason.
	WindowsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_skipped_total",
			Help:      "Total number of windows skipped by reason.",
		},
		[]string{"reason"},
	)

	// AlertsTotal counts alerts produced, by severity.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of alerts produced by severity.",
		},
		[]string{"severity"},
	)

	// AlertWriteFailuresTotal counts alerts that could not be persisted.
	AlertWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_write_failures_total",
			Help:      "Total number of alerts that failed to persist after retry.",
		},
	)

	// LowConfidenceTotal counts windows scored against batch statistics.
	LowConfidenceTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_confidence_windows_total",
			Help:      "Total number of windows scored without a stored baseline.",
		},
	)

	// RunDurationSeconds is the wall time of one scoring run.
	RunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Scoring run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	// RunsTotal counts scoring runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of scoring runs by outcome.",
		},
		[]string{"outcome"},
	)

	// BaselineRecomputeDurationSeconds is the duration of a baseline job.
	BaselineRecomputeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "baseline_recompute_duration_seconds",
			Help:      "Baseline recomputation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// HTTPRequestTotal counts requests by method, path, status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)
)

// Run outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// ObserveRun records the counters of a finished run.
func ObserveRun(s *domain.RunSummary) {
	WindowsScoredTotal.Add(float64(s.WindowsScored))
	LowConfidenceTotal.Add(float64(s.LowConfidence))
	for sev, n := range s.Alerts {
		AlertsTotal.WithLabelValues(string(sev)).Add(float64(n))
	}
	for _, sk := range s.Skipped {
		WindowsSkippedTotal.WithLabelValues(sk.Reason).Inc()
	}
	if s.AlertsFailed > 0 {
		AlertWriteFailuresTotal.Add(float64(s.AlertsFailed))
	}
	RunDurationSeconds.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	RunsTotal.WithLabelValues(OutcomeOK).Inc()
}
