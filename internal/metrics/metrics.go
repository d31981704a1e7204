package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all prometheus collectors for the engine. A nil *Metrics is
// safe to pass around; callers guard every update.
type Metrics struct {
	evaluationsTotal   prometheus.Counter
	ruleMatchesTotal   prometheus.Counter
	executionsTotal    *prometheus.CounterVec
	actionsTotal       *prometheus.CounterVec
	actionDuration     prometheus.Histogram
	escalationsActive  prometheus.Gauge
	escalationLevels   prometheus.Counter
	workflowExecutions *prometheus.CounterVec
	workflowSteps      *prometheus.CounterVec
	sourceConnected    *prometheus.GaugeVec
	sourceEvents       *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on the given registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		evaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_rule_evaluations_total",
			Help: "Total number of rule condition evaluations",
		}),
		ruleMatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_rule_matches_total",
			Help: "Total number of rule evaluations whose conditions matched",
		}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_executions_total",
			Help: "Total number of rule executions by terminal status",
		}, []string{"status"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_actions_total",
			Help: "Total number of executed actions by type and outcome",
		}, []string{"type", "outcome"}),
		actionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_action_duration_seconds",
			Help:    "Action execution time including retries",
			Buckets: prometheus.DefBuckets,
		}),
		escalationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automation_escalations_active",
			Help: "Number of escalations in a non-terminal state",
		}),
		escalationLevels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_escalation_levels_total",
			Help: "Total number of escalation levels fired",
		}),
		workflowExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_workflow_executions_total",
			Help: "Total number of workflow executions by terminal status",
		}, []string{"status"}),
		workflowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_workflow_steps_total",
			Help: "Total number of workflow steps by type and outcome",
		}, []string{"type", "outcome"}),
		sourceConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "automation_source_connected",
			Help: "Event source connection status (1 connected, 0 disconnected)",
		}, []string{"source"}),
		sourceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_source_events_total",
			Help: "Total number of events received per source",
		}, []string{"source"}),
	}

	collectors := []prometheus.Collector{
		m.evaluationsTotal,
		m.ruleMatchesTotal,
		m.executionsTotal,
		m.actionsTotal,
		m.actionDuration,
		m.escalationsActive,
		m.escalationLevels,
		m.workflowExecutions,
		m.workflowSteps,
		m.sourceConnected,
		m.sourceEvents,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// IncEvaluations increments the evaluation counter
func (m *Metrics) IncEvaluations() {
	m.evaluationsTotal.Inc()
}

// IncRuleMatches increments the rule match counter
func (m *Metrics) IncRuleMatches() {
	m.ruleMatchesTotal.Inc()
}

// IncExecutions increments the execution counter for a terminal status
func (m *Metrics) IncExecutions(status string) {
	m.executionsTotal.WithLabelValues(status).Inc()
}

// IncActions increments the action counter for a type and outcome
func (m *Metrics) IncActions(actionType, outcome string) {
	m.actionsTotal.WithLabelValues(actionType, outcome).Inc()
}

// ObserveActionDuration records an action's total execution time in seconds
func (m *Metrics) ObserveActionDuration(seconds float64) {
	m.actionDuration.Observe(seconds)
}

// SetEscalationsActive sets the active escalation gauge
func (m *Metrics) SetEscalationsActive(count float64) {
	m.escalationsActive.Set(count)
}

// IncEscalationLevels increments the fired escalation level counter
func (m *Metrics) IncEscalationLevels() {
	m.escalationLevels.Inc()
}

// IncWorkflowExecutions increments the workflow execution counter
func (m *Metrics) IncWorkflowExecutions(status string) {
	m.workflowExecutions.WithLabelValues(status).Inc()
}

// IncWorkflowSteps increments the workflow step counter
func (m *Metrics) IncWorkflowSteps(stepType, outcome string) {
	m.workflowSteps.WithLabelValues(stepType, outcome).Inc()
}

// SetSourceConnected records an event source's connection status
func (m *Metrics) SetSourceConnected(source string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.sourceConnected.WithLabelValues(source).Set(v)
}

// IncSourceEvents increments the received event counter for a source
func (m *Metrics) IncSourceEvents(source string) {
	m.sourceEvents.WithLabelValues(source).Inc()
}
