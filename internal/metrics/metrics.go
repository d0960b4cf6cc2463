// Package metrics provides Prometheus metrics for the topic store
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	// Service operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Event metrics
	EventsEmittedTotal *prometheus.CounterVec
	SearchesTotal      prometheus.Counter
	SearchResultsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicgraph_operations_total",
				Help: "Total number of service operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "topicgraph_operation_duration_seconds",
				Help:    "Duration of service operations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicgraph_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "topicgraph_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		EventsEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicgraph_events_emitted_total",
				Help: "Total number of committed change events emitted",
			},
			[]string{"type"},
		),
		SearchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "topicgraph_searches_total",
				Help: "Total number of full-text searches",
			},
		),
		SearchResultsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "topicgraph_search_results_total",
				Help: "Total number of topics returned by searches",
			},
		),
	}
}

// WatchTypeCache exposes the number of cached topic types as a gauge.
func (m *Metrics) WatchTypeCache(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "topicgraph_type_cache_entries",
			Help: "Number of topic types held in the type cache",
		},
		func() float64 { return float64(size()) },
	))
}

// RecordOperation records a service operation with its outcome
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(route, method, code string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordSearch records one search and its result count
func (m *Metrics) RecordSearch(results int) {
	m.SearchesTotal.Inc()
	m.SearchResultsTotal.Add(float64(results))
}

// Registry returns the registry the metrics live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
