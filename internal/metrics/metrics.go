// Package metrics provides Prometheus instrumentation for netclaw.
//
// A Metrics value is the observer for the tool executor, the agent loop,
// the confirmation store and the controller client. Register it on a
// dedicated registry and serve it with Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/policy"
)

const metricsNamespace = "netclaw"

// Metrics holds every collector.
type Metrics struct {
	// ToolCallsTotal counts executor dispatches.
	// Labels: tool, tier, outcome (executed, confirmation, or a failure kind)
	ToolCallsTotal *prometheus.CounterVec

	// ClassificationGapsTotal counts tools with no risk mapping.
	// Labels: tool
	ClassificationGapsTotal *prometheus.CounterVec

	// ModelCallSeconds measures language-model round trips.
	// Labels: status (success, error)
	ModelCallSeconds *prometheus.HistogramVec

	// AgentRunsTotal counts agent runs by result type.
	// Labels: result (answer, needs_confirmation, failure)
	AgentRunsTotal *prometheus.CounterVec

	// AgentIterations observes iterations used per run.
	AgentIterations prometheus.Histogram

	// ActionTransitionsTotal counts pending-action transitions.
	// Labels: status (the status entered)
	ActionTransitionsTotal *prometheus.CounterVec

	// OpenActions tracks pending actions not yet terminal.
	OpenActions prometheus.Gauge

	// ControllerReauthTotal counts re-logins after an auth failure.
	ControllerReauthTotal prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Tool executor dispatches by tool, tier and outcome",
		}, []string{"tool", "tier", "outcome"}),
		ClassificationGapsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "classification_gaps_total",
			Help:      "Tool calls that had no risk mapping",
		}, []string{"tool"}),
		ModelCallSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "model_call_duration_seconds",
			Help:      "Language model call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		}, []string{"status"}),
		AgentRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by result type",
		}, []string{"result"}),
		AgentIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "agent_iterations",
			Help:      "Model iterations used per agent run",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		}),
		ActionTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "action_transitions_total",
			Help:      "Pending action transitions by entered status",
		}, []string{"status"}),
		OpenActions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "open_actions",
			Help:      "Pending actions that have not reached a terminal status",
		}),
		ControllerReauthTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "controller_reauth_total",
			Help:      "Controller re-logins triggered by an auth failure",
		}),
	}
}

// ToolCall implements executor.Observer.
func (m *Metrics) ToolCall(tool string, tier policy.Tier, outcome string) {
	m.ToolCallsTotal.WithLabelValues(tool, tier.String(), outcome).Inc()
}

// ClassificationGap implements executor.Observer.
func (m *Metrics) ClassificationGap(tool string) {
	m.ClassificationGapsTotal.WithLabelValues(tool).Inc()
}

// ModelCall implements agent.Metrics.
func (m *Metrics) ModelCall(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelCallSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// RunFinished implements agent.Metrics.
func (m *Metrics) RunFinished(resultType string, iterations int) {
	m.AgentRunsTotal.WithLabelValues(resultType).Inc()
	m.AgentIterations.Observe(float64(iterations))
}

// RecordTransition implements approval.Recorder.
func (m *Metrics) RecordTransition(action approval.PendingAction, from approval.Status) {
	m.ActionTransitionsTotal.WithLabelValues(string(action.Status)).Inc()
	switch {
	case from == "":
		m.OpenActions.Inc()
	case action.Status.Terminal() && !from.Terminal():
		m.OpenActions.Dec()
	}
}

// Reauth is wired to the controller client's re-login hook.
func (m *Metrics) Reauth() {
	m.ControllerReauthTotal.Inc()
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
