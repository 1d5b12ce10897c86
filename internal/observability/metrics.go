package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the agent daemon. All record
// methods are nil-safe so metrics can be disabled by passing a nil *Metrics.
type Metrics struct {
	registry        *prometheus.Registry
	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	Turns           prometheus.Counter
	ToolExecutions  *prometheus.CounterVec
	ActiveSandboxes prometheus.Gauge
	ActiveStreams   *prometheus.GaugeVec
	TransportErrs   *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with agent collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openquest_agent_runs_total",
		Help: "Agent runs by kind (analyze/implement) and outcome",
	}, []string{"kind", "outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openquest_agent_run_duration_seconds",
		Help:    "Agent run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	turns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openquest_agent_turns_total",
		Help: "LLM turns taken across all analysis runs",
	})

	tools := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openquest_agent_tool_executions_total",
		Help: "Tool executions by tool name and status",
	}, []string{"tool", "status"})

	sandboxes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "openquest_sandbox_active",
		Help: "Sandboxes currently alive",
	})

	streams := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "openquest_transport_active_streams",
		Help: "Active event streams by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openquest_transport_errors_total",
		Help: "Transport-level errors by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(runs, durs, turns, tools, sandboxes, streams, trErrors)

	return &Metrics{
		registry:        reg,
		Runs:            runs,
		RunDuration:     durs,
		Turns:           turns,
		ToolExecutions:  tools,
		ActiveSandboxes: sandboxes,
		ActiveStreams:   streams,
		TransportErrs:   trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRun records one completed agent run.
func (m *Metrics) RecordRun(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.Runs.WithLabelValues(kind, outcome).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTurn counts one LLM turn.
func (m *Metrics) RecordTurn() {
	if m == nil {
		return
	}
	m.Turns.Inc()
}

// RecordTool counts one tool execution.
func (m *Metrics) RecordTool(tool, status string) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "unknown"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}

// SandboxCreated increments the live sandbox gauge.
func (m *Metrics) SandboxCreated() {
	if m == nil {
		return
	}
	m.ActiveSandboxes.Inc()
}

// SandboxDestroyed decrements the live sandbox gauge.
func (m *Metrics) SandboxDestroyed() {
	if m == nil {
		return
	}
	m.ActiveSandboxes.Dec()
}

// IncActiveStreams increments the stream gauge for a transport.
func (m *Metrics) IncActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Inc()
}

// DecActiveStreams decrements the stream gauge for a transport.
func (m *Metrics) DecActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.TransportErrs.WithLabelValues(transport, reason).Inc()
}
