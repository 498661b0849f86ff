// Package metrics exposes the Prometheus instruments this engine emits:
// worker state transitions, LLM call latency, and tool dispatch latency.
// Trimmed from the teacher's much larger instrument set (agent/RAG/HTTP/
// memory metrics have no home in this engine) down to what the symbol
// worker, LLM broker, and tool broker actually produce.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument this engine registers.
type Metrics struct {
	registry *prometheus.Registry

	workerTransitions *prometheus.CounterVec
	workerActive      *prometheus.GaugeVec

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensOutput *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec
}

// New builds a Metrics instance with a private registry, so embedding
// this package in a test or a larger process never collides with the
// default global registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.workerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "symborc_worker_transitions_total",
		Help: "Count of symbol worker state transitions, labeled by from and to state.",
	}, []string{"from", "to"})

	m.workerActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "symborc_workers_active",
		Help: "Number of symbol workers currently in each state, labeled by state.",
	}, []string{"state"})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "symborc_llm_calls_total",
		Help: "Count of LLM client calls, labeled by provider and outcome.",
	}, []string{"provider", "outcome"})

	m.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symborc_llm_call_duration_seconds",
		Help:    "LLM call latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	m.llmTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "symborc_llm_output_chunks_total",
		Help: "Count of streamed output chunks received from LLM calls.",
	}, []string{"provider"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "symborc_tool_calls_total",
		Help: "Count of tool broker dispatches, labeled by tool kind.",
	}, []string{"kind"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symborc_tool_call_duration_seconds",
		Help:    "Tool broker dispatch latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "symborc_tool_errors_total",
		Help: "Count of tool broker dispatch errors, labeled by tool kind.",
	}, []string{"kind"})

	m.registry.MustRegister(
		m.workerTransitions, m.workerActive,
		m.llmCalls, m.llmCallDuration, m.llmTokensOutput,
		m.toolCalls, m.toolCallDuration, m.toolErrors,
	)

	return m
}

// Handler serves the registered metrics in the Prometheus exposition
// format, suitable for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordWorkerTransition records a symbol worker moving from one state to
// another.
func (m *Metrics) RecordWorkerTransition(from, to string) {
	m.workerTransitions.WithLabelValues(from, to).Inc()
}

// AdjustWorkersActive moves the active-worker gauge for state by delta.
// A worker reports -1 on the state it is leaving and +1 on the state it
// is entering, so the gauge tracks live counts without any caller having
// to maintain a central tally of every worker's state.
func (m *Metrics) AdjustWorkersActive(state string, delta int) {
	m.workerActive.WithLabelValues(state).Add(float64(delta))
}

// RecordLLMCall records one LLM call's outcome and latency.
func (m *Metrics) RecordLLMCall(provider, outcome string, seconds float64) {
	m.llmCalls.WithLabelValues(provider, outcome).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordLLMChunk records one streamed chunk received from provider.
func (m *Metrics) RecordLLMChunk(provider string) {
	m.llmTokensOutput.WithLabelValues(provider).Inc()
}

// RecordToolCall records one tool broker dispatch's latency and whether
// it errored.
func (m *Metrics) RecordToolCall(kind string, seconds float64, err error) {
	m.toolCalls.WithLabelValues(kind).Inc()
	m.toolCallDuration.WithLabelValues(kind).Observe(seconds)
	if err != nil {
		m.toolErrors.WithLabelValues(kind).Inc()
	}
}
