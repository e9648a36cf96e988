// Package metrics provides Prometheus metrics export for the conversation
// engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports conversation metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Chat turn metrics
	chatLatency  *prometheus.HistogramVec
	chatRequests *prometheus.CounterVec
	chatActive   prometheus.Gauge

	// Generation metrics
	genAttempts  *prometheus.CounterVec
	genFallbacks prometheus.Counter

	// Memory metrics
	retrievalLatency prometheus.Histogram
	turnsAppended    *prometheus.CounterVec
	snippetsDropped  prometheus.Counter

	// Profile metrics
	profileRefreshes *prometheus.CounterVec

	// Speech metrics
	speechRenders *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "confidant",
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end chat turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total number of chat turns",
		},
		[]string{"status"},
	)

	e.chatActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "confidant",
			Subsystem: "chat",
			Name:      "turns_active",
			Help:      "Number of chat turns currently in flight",
		},
	)

	e.genAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	e.genFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "generation",
			Name:      "fallbacks_total",
			Help:      "Turns that exhausted retries and served the fallback message",
		},
	)

	e.retrievalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "confidant",
			Subsystem: "memory",
			Name:      "retrieval_latency_seconds",
			Help:      "Similarity retrieval latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.turnsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "memory",
			Name:      "turns_appended_total",
			Help:      "Turns appended to episodic memory",
		},
		[]string{"role"},
	)

	e.snippetsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "prompt",
			Name:      "snippets_dropped_total",
			Help:      "Memory snippets dropped by the prompt budget",
		},
	)

	e.profileRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "profile",
			Name:      "refreshes_total",
			Help:      "Cognitive profile refresh attempts",
		},
		[]string{"status"},
	)

	e.speechRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "speech",
			Name:      "renders_total",
			Help:      "Speech side-channel render attempts",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		e.chatLatency,
		e.chatRequests,
		e.chatActive,
		e.genAttempts,
		e.genFallbacks,
		e.retrievalLatency,
		e.turnsAppended,
		e.snippetsDropped,
		e.profileRefreshes,
		e.speechRenders,
	)

	return e
}

// RecordChatTurn records a completed chat turn.
func (e *PrometheusExporter) RecordChatTurn(status string, latency time.Duration) {
	e.chatRequests.WithLabelValues(status).Inc()
	e.chatLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// ChatTurnStarted marks a turn as in flight.
func (e *PrometheusExporter) ChatTurnStarted() {
	e.chatActive.Inc()
}

// ChatTurnFinished marks a turn as no longer in flight.
func (e *PrometheusExporter) ChatTurnFinished() {
	e.chatActive.Dec()
}

// RecordGenerationAttempt records one generation attempt outcome
// (success, transient_error, fatal_error).
func (e *PrometheusExporter) RecordGenerationAttempt(outcome string) {
	e.genAttempts.WithLabelValues(outcome).Inc()
}

// RecordFallback records a turn that served the safety fallback.
func (e *PrometheusExporter) RecordFallback() {
	e.genFallbacks.Inc()
}

// RecordRetrieval records a similarity retrieval.
func (e *PrometheusExporter) RecordRetrieval(latency time.Duration) {
	e.retrievalLatency.Observe(latency.Seconds())
}

// RecordTurnAppended records a turn written to memory.
func (e *PrometheusExporter) RecordTurnAppended(role string) {
	e.turnsAppended.WithLabelValues(role).Inc()
}

// RecordSnippetsDropped records snippets dropped by the prompt budget.
func (e *PrometheusExporter) RecordSnippetsDropped(n int) {
	if n > 0 {
		e.snippetsDropped.Add(float64(n))
	}
}

// RecordProfileRefresh records a profile refresh attempt.
func (e *PrometheusExporter) RecordProfileRefresh(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.profileRefreshes.WithLabelValues(status).Inc()
}

// RecordSpeechRender records a speech render attempt.
func (e *PrometheusExporter) RecordSpeechRender(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.speechRenders.WithLabelValues(status).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
