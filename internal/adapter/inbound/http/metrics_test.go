package http

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/kestrel-social/kestrel/internal/dispatch"
	"github.com/kestrel-social/kestrel/internal/service"
)

var (
	_ dispatch.CallObserver    = (*Metrics)(nil)
	_ service.DecisionObserver = (*Metrics)(nil)
)

func TestMetrics_ObserveToolCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveToolCall("post_tweet", "write", "ok", 120*time.Millisecond)
	m.ObserveToolCall("post_tweet", "write", "ok", 80*time.Millisecond)
	m.ObserveToolCall("post_tweet", "write", "policy_denied", time.Millisecond)

	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("post_tweet", "write", "ok")); got != 2 {
		t.Errorf("tool_calls_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("post_tweet", "write", "policy_denied")); got != 1 {
		t.Errorf("tool_calls_total{policy_denied} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.ToolCallDuration, "kestrel_tool_call_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestMetrics_ToolCallDurationBuckets(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveToolCall("search_tweets", "readonly", "ok", 30*time.Millisecond)
	m.ObserveToolCall("search_tweets", "readonly", "ok", 2*time.Second)

	var metric dto.Metric
	if err := m.ToolCallDuration.WithLabelValues("search_tweets").(prometheus.Metric).Write(&metric); err != nil {
		t.Fatal(err)
	}
	h := metric.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 2.03 || sum > 2.031 {
		t.Errorf("sample sum = %v, want 2.03", sum)
	}
	for _, b := range h.GetBucket() {
		if b.GetUpperBound() == 0.05 && b.GetCumulativeCount() != 1 {
			t.Errorf("bucket le=0.05 count = %d, want 1", b.GetCumulativeCount())
		}
	}
}

func TestMetrics_DecisionsAndCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveDecision("deny", "rate_limited")
	m.ObserveDecision("allow", "rule")
	m.ObserveCycle("discovery", "ok")
	m.ObserveCycle("discovery", "rate_limited")

	if got := testutil.ToFloat64(m.PolicyDecisions.WithLabelValues("deny", "rate_limited")); got != 1 {
		t.Errorf("policy_decisions_total = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.AutopilotCycles); got != 2 {
		t.Errorf("autopilot_cycles_total series = %d, want 2", got)
	}
}

func TestRegisterGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	pending := 3.0
	RegisterGauges(reg, GaugeSources{
		ApprovalsPending: func() float64 { return pending },
		RateLimitKeys:    func() float64 { return 7 },
	})

	expected := `
# HELP kestrel_approval_queue_pending Number of approval items awaiting review
# TYPE kestrel_approval_queue_pending gauge
kestrel_approval_queue_pending 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "kestrel_approval_queue_pending"); err != nil {
		t.Error(err)
	}

	pending = 1
	if got, err := testutil.GatherAndCount(reg); err != nil || got != 2 {
		t.Errorf("GatherAndCount = %d, %v; want 2 (nil telemetry source is skipped)", got, err)
	}
	expected = strings.Replace(expected, "pending 3", "pending 1", 1)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "kestrel_approval_queue_pending"); err != nil {
		t.Error(err)
	}
}
