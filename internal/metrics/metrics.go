// Package metrics exposes Prometheus metrics for generation sessions, status
// polls and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/invidias-codem/ai-saas/internal/job"
)

const namespace = "generation"

// Collector holds every metric of the service.
type Collector struct {
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	sessionDuration  *prometheus.HistogramVec
	polls            *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of generation sessions started",
		}, []string{"modality"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of generation sessions by terminal outcome",
		}, []string{"modality", "outcome", "error_kind"}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Current number of outstanding generation sessions",
		}, []string{"modality"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from session start to terminal outcome",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}, []string{"modality", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Total number of provider status requests by result",
		}, []string{"modality", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.sessionsStarted,
		c.sessionsFinished,
		c.sessionsActive,
		c.sessionDuration,
		c.polls,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// SessionStarted records a new session.
func (c *Collector) SessionStarted(m job.Modality) {
	c.sessionsStarted.WithLabelValues(string(m)).Inc()
	c.sessionsActive.WithLabelValues(string(m)).Inc()
}

// SessionFinished records a terminal outcome.
func (c *Collector) SessionFinished(m job.Modality, outcome string, kind job.ErrorKind, elapsed time.Duration) {
	c.sessionsFinished.WithLabelValues(string(m), outcome, string(kind)).Inc()
	c.sessionsActive.WithLabelValues(string(m)).Dec()
	c.sessionDuration.WithLabelValues(string(m), outcome).Observe(elapsed.Seconds())
}

// ObservePoll records one status request.
func (c *Collector) ObservePoll(m job.Modality, result string) {
	c.polls.WithLabelValues(string(m), result).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, not the raw path.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
