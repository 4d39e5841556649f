// Package metrics exposes the gateway's Prometheus metrics.
//
// A Collector owns its registry so several can coexist in one process (tests).
// All methods are safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "rejected"
)

// Collector holds the gateway metrics.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	synthesisTotal    *prometheus.CounterVec
	synthesisDuration prometheus.Histogram
	synthesisInFlight prometheus.Gauge
	engineReady       prometheus.Gauge

	cloneTotal     *prometheus.CounterVec
	voicesTotal    prometheus.Gauge
	artifactsTotal prometheus.Counter
}

// NewCollector creates a Collector registered under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		synthesisTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_requests_total",
				Help:      "Total number of delegate synthesis calls by outcome",
			},
			[]string{"outcome"},
		),
		synthesisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Delegate synthesis duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		synthesisInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "synthesis_in_flight",
				Help:      "Delegate synthesis calls currently running",
			},
		),
		engineReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_ready",
				Help:      "1 when the synthesis engine accepts work",
			},
		),

		cloneTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "voice_clone_requests_total",
				Help:      "Total number of voice clone requests by outcome",
			},
			[]string{"outcome"},
		),
		voicesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "voices",
				Help:      "Number of cloned voices in the registry",
			},
		),
		artifactsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_written_total",
				Help:      "Total number of audio files written",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}

	return c.registry
}

// RecordHTTPRequest records one served request. path should be the route
// pattern, not the raw URL, to bound label cardinality.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}

	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SynthesisStarted marks a delegate call as in flight.
func (c *Collector) SynthesisStarted() {
	if c == nil {
		return
	}

	c.synthesisInFlight.Inc()
}

// SynthesisFinished records the outcome of a delegate call started with
// SynthesisStarted.
func (c *Collector) SynthesisFinished(outcome string, duration time.Duration) {
	if c == nil {
		return
	}

	c.synthesisInFlight.Dec()
	c.synthesisTotal.WithLabelValues(outcome).Inc()
	c.synthesisDuration.Observe(duration.Seconds())
}

// SynthesisRejected records a call refused before reaching the delegate.
func (c *Collector) SynthesisRejected(outcome string) {
	if c == nil {
		return
	}

	c.synthesisTotal.WithLabelValues(outcome).Inc()
}

// SetEngineReady publishes engine readiness.
func (c *Collector) SetEngineReady(ready bool) {
	if c == nil {
		return
	}

	if ready {
		c.engineReady.Set(1)
	} else {
		c.engineReady.Set(0)
	}
}

// RecordClone records the outcome of a voice clone request.
func (c *Collector) RecordClone(outcome string) {
	if c == nil {
		return
	}

	c.cloneTotal.WithLabelValues(outcome).Inc()
}

// SetVoices publishes the registry size.
func (c *Collector) SetVoices(n int) {
	if c == nil {
		return
	}

	c.voicesTotal.Set(float64(n))
}

// ArtifactWritten counts one persisted audio file.
func (c *Collector) ArtifactWritten() {
	if c == nil {
		return
	}

	c.artifactsTotal.Inc()
}
