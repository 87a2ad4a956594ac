package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine and store measurements.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.Saves.WithLabelValues("sqlite", "success").Inc()
type Metrics struct {
	// Saves counts engine save operations.
	// Labels: backend, status (success|error).
	Saves *prometheus.CounterVec

	// SaveDuration measures save latency in seconds.
	// Labels: backend.
	SaveDuration *prometheus.HistogramVec

	// Resolves counts resolve/inspect operations.
	// Labels: renderer, kind (resolve|inspect).
	Resolves *prometheus.CounterVec

	// TokensEstimated tracks estimated context sizes.
	// Labels: model.
	TokensEstimated *prometheus.HistogramVec

	// StoreErrors counts store failures by operation and error kind.
	// Labels: op, kind (not_found|foreign_key|conflict|validation|transaction).
	StoreErrors *prometheus.CounterVec
}

// NewMetrics registers the metric set on the given registerer. Pass
// prometheus.DefaultRegisterer for process-global metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Name:      "saves_total",
			Help:      "Engine save operations by backend and status.",
		}, []string{"backend", "status"}),
		SaveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weave",
			Name:      "save_duration_seconds",
			Help:      "Save latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"backend"}),
		Resolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Name:      "resolves_total",
			Help:      "Context compositions by renderer and kind.",
		}, []string{"renderer", "kind"}),
		TokensEstimated: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weave",
			Name:      "tokens_estimated",
			Help:      "Estimated context sizes in tokens.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"model"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Name:      "store_errors_total",
			Help:      "Store failures by operation and error kind.",
		}, []string{"op", "kind"}),
	}
}
