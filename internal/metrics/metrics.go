// Package metrics registers the service's Prometheus collectors and serves
// the exposition endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors. A single instance is created at
// startup and injected where needed; the registry is private so tests get
// isolated state.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested  *prometheus.CounterVec
	PublishFailures prometheus.Counter
	IdempotencyHits prometheus.Counter
	RateLimited     prometheus.Counter
	DLQMessages     prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the service collectors. breakerOpen, when
// non-nil, is sampled by the usage_ingestion_breaker_open gauge.
func New(breakerOpen func() bool) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usage_ingestion_events_total",
			Help: "Usage events processed, by type and result.",
		}, []string{"type", "result"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usage_ingestion_publish_failures_total",
			Help: "Publisher/transport failures, including breaker rejections.",
		}),
		IdempotencyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usage_ingestion_idempotency_hits_total",
			Help: "Requests answered from the idempotency cache.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usage_ingestion_rate_limited_total",
			Help: "Requests rejected by the per-caller rate limiter.",
		}),
		DLQMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usage_ingestion_dlq_messages_total",
			Help: "Messages forwarded to the dead-letter topic.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usage_ingestion_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.EventsIngested, m.PublishFailures, m.IdempotencyHits,
		m.RateLimited, m.DLQMessages, m.RequestDuration)

	if breakerOpen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "usage_ingestion_breaker_open",
			Help: "1 when the publisher circuit breaker is OPEN, 0 when CLOSED.",
		}, func() float64 {
			if breakerOpen() {
				return 1
			}
			return 0
		}))
	}
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
