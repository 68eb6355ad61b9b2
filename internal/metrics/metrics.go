// Package metrics exposes cache and completion counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"daybrief/internal/cache"
	"daybrief/internal/completion"
	"daybrief/internal/prompt"
)

const (
	metricPrefix = "daybrief_"

	resultHit     = "hit"
	resultMiss    = "miss"
	resultSuccess = "success"
	resultError   = "error"
	resultEmpty   = "empty"
)

// Metrics implements cache.Observer and completion.Observer.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups      *prometheus.CounterVec
	fetchFailures     *prometheus.CounterVec
	completions       *prometheus.CounterVec
	completionLatency *prometheus.HistogramVec
	refreshRuns       *prometheus.CounterVec
}

var (
	_ cache.Observer      = (*Metrics)(nil)
	_ completion.Observer = (*Metrics)(nil)
)

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Cache lookups by data kind and result",
			},
			[]string{"kind", "result"},
		),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_fetch_failures_total",
				Help: "Failed collaborator fetches by data kind",
			},
			[]string{"kind"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "completions_total",
				Help: "Completion requests by prompt and result",
			},
			[]string{"prompt", "result"},
		),
		completionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "completion_latency_seconds",
				Help:    "Completion latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"prompt"},
		),
		refreshRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_runs_total",
				Help: "Scheduled cache refresh runs by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.cacheLookups,
		m.fetchFailures,
		m.completions,
		m.completionLatency,
		m.refreshRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Hit(kind cache.Kind)  { m.cacheLookups.WithLabelValues(string(kind), resultHit).Inc() }
func (m *Metrics) Miss(kind cache.Kind) { m.cacheLookups.WithLabelValues(string(kind), resultMiss).Inc() }

func (m *Metrics) FetchFailed(kind cache.Kind) {
	m.fetchFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Completion(key prompt.Key, elapsed time.Duration, err error) {
	result := resultSuccess
	switch {
	case errors.Is(err, completion.ErrEmptyCompletion):
		result = resultEmpty
	case err != nil:
		result = resultError
	}
	m.completions.WithLabelValues(string(key), result).Inc()
	m.completionLatency.WithLabelValues(string(key)).Observe(elapsed.Seconds())
}

// RefreshRun records one scheduled refresh.
func (m *Metrics) RefreshRun(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.refreshRuns.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
