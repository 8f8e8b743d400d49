// Package metrics exposes the service's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for AI provider calls.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	aiCalls       *prometheus.CounterVec
	lawsFallbacks prometheus.Counter
	partialTurns  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route"}),
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_provider_calls_total",
			Help: "Calls to AI providers by provider and outcome.",
		}, []string{"provider", "outcome"}),
		lawsFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laws_fallbacks_total",
			Help: "Laws queries answered by the general provider after the laws endpoint failed.",
		}),
		partialTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_partial_turns_total",
			Help: "Query turns whose user message was stored without an assistant reply.",
		}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.aiCalls, m.lawsFallbacks, m.partialTurns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) AICall(provider, outcome string) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) LawsFallback() {
	if m == nil {
		return
	}
	m.lawsFallbacks.Inc()
}

func (m *Metrics) PartialTurn() {
	if m == nil {
		return
	}
	m.partialTurns.Inc()
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
