// Package metrics instruments the pipeline. Prometheus collectors hang
// off a private registry so tests can construct isolated instances, and
// a parallel set of atomic counters feeds the JSON snapshot endpoint.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector for one process.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed *prometheus.CounterVec
	eventsMapped    *prometheus.CounterVec
	eventsFailed    *prometheus.CounterVec
	llmInvocations  *prometheus.CounterVec
	mappingDuration *prometheus.HistogramVec
	activeMappings  prometheus.Gauge

	gateEvaluations *prometheus.CounterVec
	gateDuration    *prometheus.HistogramVec
	gateCost        *prometheus.CounterVec

	webhookDeliveries *prometheus.CounterVec

	// Plain counters mirroring the collectors above, read back by
	// Snapshot without a registry gather.
	processed atomic.Int64
	mapped    atomic.Int64
	failed    atomic.Int64
	llmCalls  atomic.Int64
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_events_processed_total",
			Help: "Raw events consumed from the ingest stream.",
		}, []string{"source"}),
		eventsMapped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_events_mapped_total",
			Help: "Events successfully transformed to canonical form.",
		}, []string{"source"}),
		eventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_events_failed_total",
			Help: "Events that could not be canonicalised.",
		}, []string{"source", "reason"}),
		llmInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_llm_invocations_total",
			Help: "Mapping synthesis calls made to the LLM.",
		}, []string{"source"}),
		mappingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "langhook_mapping_duration_seconds",
			Help:    "End to end canonicalisation time per event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		activeMappings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "langhook_active_mappings",
			Help: "Cached transform expressions currently stored.",
		}),

		gateEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_gate_evaluations_total",
			Help: "Gate decisions by subscription and outcome.",
		}, []string{"subscription_id", "model", "decision", "failover_reason"}),
		gateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "langhook_gate_evaluation_duration_seconds",
			Help:    "Time spent evaluating events with the gate.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		gateCost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_gate_llm_cost_usd_total",
			Help: "Estimated cumulative gate LLM spend in USD per subscription.",
		}, []string{"subscription_id", "model"}),

		webhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "langhook_webhook_deliveries_total",
			Help: "Webhook delivery attempts by response class.",
		}, []string{"status_class"}),
	}
}

// Registry exposes the underlying registry for the scrape handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEventProcessed counts one raw event entering the canonicaliser.
func (m *Metrics) RecordEventProcessed(source string) {
	m.processed.Add(1)
	m.eventsProcessed.WithLabelValues(source).Inc()
}

// RecordEventMapped counts one successful canonicalisation.
func (m *Metrics) RecordEventMapped(source string) {
	m.mapped.Add(1)
	m.eventsMapped.WithLabelValues(source).Inc()
}

// RecordEventFailed counts one event sent to the failure stream.
func (m *Metrics) RecordEventFailed(source, reason string) {
	m.failed.Add(1)
	m.eventsFailed.WithLabelValues(source, reason).Inc()
}

// RecordLLMInvocation counts one mapping synthesis call.
func (m *Metrics) RecordLLMInvocation(source string) {
	m.llmCalls.Add(1)
	m.llmInvocations.WithLabelValues(source).Inc()
}

// RecordMappingDuration observes one event's canonicalisation time.
func (m *Metrics) RecordMappingDuration(source string, d time.Duration) {
	m.mappingDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SetActiveMappings publishes the size of the mapping cache.
func (m *Metrics) SetActiveMappings(n int) {
	m.activeMappings.Set(float64(n))
}

// RecordGateEvaluation counts one gate decision. failoverReason is
// empty for real evaluations and names the failure mode when the
// failover policy decided instead.
func (m *Metrics) RecordGateEvaluation(subscriptionID int64, model string, passed bool, failoverReason string) {
	decision := "block"
	if passed {
		decision = "pass"
	}
	m.gateEvaluations.WithLabelValues(subscriptionLabel(subscriptionID), model, decision, failoverReason).Inc()
}

// RecordGateDuration observes one gate evaluation's latency.
func (m *Metrics) RecordGateDuration(model string, d time.Duration) {
	m.gateDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordGateCost accumulates the estimated spend of one evaluation
// against its subscription.
func (m *Metrics) RecordGateCost(subscriptionID int64, model string, usd float64) {
	m.gateCost.WithLabelValues(subscriptionLabel(subscriptionID), model).Add(usd)
}

func subscriptionLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}

// RecordWebhookDelivery counts one delivery attempt. statusClass is
// "2xx", "3xx", "4xx", "5xx", or "error" for transport failures.
func (m *Metrics) RecordWebhookDelivery(statusClass string) {
	m.webhookDeliveries.WithLabelValues(statusClass).Inc()
}

// Snapshot is the aggregate view served by the JSON metrics endpoint.
type Snapshot struct {
	EventsProcessed    int64   `json:"events_processed"`
	EventsMapped       int64   `json:"events_mapped"`
	EventsFailed       int64   `json:"events_failed"`
	LLMInvocations     int64   `json:"llm_invocations"`
	MappingSuccessRate float64 `json:"mapping_success_rate"`
	LLMUsageRate       float64 `json:"llm_usage_rate"`
}

// Snapshot returns the aggregate counters with derived rates.
func (m *Metrics) Snapshot() Snapshot {
	processed := m.processed.Load()
	snap := Snapshot{
		EventsProcessed: processed,
		EventsMapped:    m.mapped.Load(),
		EventsFailed:    m.failed.Load(),
		LLMInvocations:  m.llmCalls.Load(),
	}
	if processed > 0 {
		snap.MappingSuccessRate = float64(snap.EventsMapped) / float64(processed)
		snap.LLMUsageRate = float64(snap.LLMInvocations) / float64(processed)
	}
	return snap
}
