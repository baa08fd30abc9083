package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kestrel"

// Metrics holds all Prometheus metrics for kestrel.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	PolicyDecisions  *prometheus.CounterVec
	AutopilotCycles  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ToolCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total tool calls by envelope status",
			},
			[]string{"tool", "profile", "status"}, // status=ok or an error code
		),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		PolicyDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Total gateway decisions",
			},
			[]string{"action", "reason"},
		),
		AutopilotCycles: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autopilot_cycles_total",
				Help:      "Total autopilot loop cycles by result",
			},
			[]string{"loop", "result"},
		),
	}
}

// ObserveToolCall implements dispatch.CallObserver.
func (m *Metrics) ObserveToolCall(tool, profile, status string, elapsed time.Duration) {
	m.ToolCalls.WithLabelValues(tool, profile, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveDecision implements service.DecisionObserver.
func (m *Metrics) ObserveDecision(action, reason string) {
	m.PolicyDecisions.WithLabelValues(action, reason).Inc()
}

// ObserveCycle implements autopilot.CycleObserver.
func (m *Metrics) ObserveCycle(loop, result string) {
	m.AutopilotCycles.WithLabelValues(loop, result).Inc()
}

// GaugeSources are sampled on every scrape. Nil sources are not registered.
type GaugeSources struct {
	ApprovalsPending func() float64
	RateLimitKeys    func() float64
	TelemetryDrops   func() float64
}

// RegisterGauges registers scrape-time gauges for src.
func RegisterGauges(reg prometheus.Registerer, src GaugeSources) {
	gauge := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn)
	}
	gauge("approval_queue_pending", "Number of approval items awaiting review", src.ApprovalsPending)
	gauge("rate_limit_keys", "Number of active rate limit counters", src.RateLimitKeys)
	gauge("telemetry_drops", "Telemetry events dropped due to backpressure", src.TelemetryDrops)
}
