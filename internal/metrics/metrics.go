// Package metrics exposes queue and transfer counters in Prometheus format.
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsActive         prometheus.Gauge
	jobsPending        prometheus.Gauge
	attemptsTotal      *prometheus.CounterVec
	urlRefreshTotal    prometheus.Counter
	postActionFailures *prometheus.CounterVec
	flushUpdates       prometheus.Histogram
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlqueue_jobs_active",
			Help: "Jobs currently downloading or refreshing their URL.",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlqueue_jobs_pending",
			Help: "Jobs waiting for a free download slot.",
		}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlqueue_attempts_total",
			Help: "Transfer attempts by terminal status.",
		}, []string{"result"}),
		urlRefreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlqueue_url_refresh_total",
			Help: "URL refreshes performed between retry attempts.",
		}),
		postActionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlqueue_post_action_failures_total",
			Help: "Failed post-completion actions by action.",
		}, []string{"action"}),
		flushUpdates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dlqueue_flush_updates",
			Help:    "Coalesced updates published per aggregator flush.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}

	reg.MustRegister(
		m.jobsActive,
		m.jobsPending,
		m.attemptsTotal,
		m.urlRefreshTotal,
		m.postActionFailures,
		m.flushUpdates,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetQueue(active, pending int) {
	if m == nil {
		return
	}
	m.jobsActive.Set(float64(active))
	m.jobsPending.Set(float64(pending))
}

func (m *Metrics) Attempt(result string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) URLRefresh() {
	if m == nil {
		return
	}
	m.urlRefreshTotal.Inc()
}

func (m *Metrics) PostActionFailed(action string) {
	if m == nil {
		return
	}
	m.postActionFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) Flushed(n int) {
	if m == nil {
		return
	}
	m.flushUpdates.Observe(float64(n))
}
