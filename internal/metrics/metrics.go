package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every Record* method is a no-op on a nil receiver.
type Metrics struct {
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	ToolCallsInFlight prometheus.Gauge

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMRetriesTotal    *prometheus.CounterVec

	StreamsTruncatedTotal  prometheus.Counter
	StreamsIncompleteTotal prometheus.Counter

	ProbesTotal *prometheus.CounterVec

	RateLimitHitsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grok_search_tool_calls_total",
				Help: "Total number of MCP tool calls",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grok_search_tool_call_duration_seconds",
				Help:    "Tool call duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		ToolCallsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "grok_search_tool_calls_in_flight",
				Help: "Number of tool calls currently being processed",
			},
		),

		LLMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grok_search_llm_requests_total",
				Help: "Total number of chat completion calls, counted once per call",
			},
			[]string{"operation", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grok_search_llm_request_duration_seconds",
				Help:    "Chat completion call duration in seconds, retries included",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		LLMRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grok_search_llm_retries_total",
				Help: "Total number of retried chat completion attempts",
			},
			[]string{"operation"},
		),

		StreamsTruncatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "grok_search_streams_truncated_total",
				Help: "Streams cut off at the content size cap",
			},
		),
		StreamsIncompleteTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "grok_search_streams_incomplete_total",
				Help: "Streams that ended without the [DONE] marker",
			},
		),

		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grok_search_connection_probes_total",
				Help: "Connectivity probes by outcome",
			},
			[]string{"code"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grok_search_rate_limit_hits_total",
				Help: "Total number of rejected tool calls",
			},
			[]string{"tool"},
		),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	return m
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (m *Metrics) RecordLLMRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(operation, status).Inc()
	m.LLMRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.LLMRetriesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordTruncatedStream() {
	if m == nil {
		return
	}
	m.StreamsTruncatedTotal.Inc()
}

func (m *Metrics) RecordIncompleteStream() {
	if m == nil {
		return
	}
	m.StreamsIncompleteTotal.Inc()
}

func (m *Metrics) RecordProbe(code string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordRateLimitHit(tool string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) IncToolCallsInFlight() {
	if m == nil {
		return
	}
	m.ToolCallsInFlight.Inc()
}

func (m *Metrics) DecToolCallsInFlight() {
	if m == nil {
		return
	}
	m.ToolCallsInFlight.Dec()
}
