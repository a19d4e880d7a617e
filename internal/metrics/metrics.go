package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StageRemoval  = "removal"
	StageAnalysis = "analysis"

	ResultOK          = "ok"
	ResultError       = "error"
	ResultRateLimited = "rate_limited"
)

var (
	once sync.Once

	// StageTotal counts generate stages by outcome.
	StageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "pipeline",
		Name:      "stage_total",
		Help:      "Generate stages run, labeled by stage and result.",
	}, []string{"stage", "result"})

	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "studio",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in one generate stage, including the upstream call.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120, 300},
	}, []string{"stage"})

	ModelRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "pipeline",
		Name:      "model_refresh_total",
		Help:      "Model list refreshes, labeled by result.",
	}, []string{"result"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studio",
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions held in memory after the last prune.",
	})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			StageTotal,
			StageDurationSeconds,
			ModelRefreshTotal,
			ActiveSessions,
		)
	})
}
