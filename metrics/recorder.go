// Package metrics exposes portal counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "budget_portal"

// Recorder satisfies the gateway, session and approval observer
// interfaces. A nil Recorder drops every observation.
type Recorder struct {
	decisions *prometheus.CounterVec
	logins    *prometheus.CounterVec
	approvals *prometheus.CounterVec
}

// NewRecorder registers the portal collectors with reg. A nil reg uses the
// default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_decisions_total",
			Help:      "Access gateway decisions by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Login and refresh attempts by result.",
		}, []string{"operation", "result"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_actions_total",
			Help:      "Approval actions by type and result.",
		}, []string{"action", "result"}),
	}

	reg.MustRegister(r.decisions, r.logins, r.approvals)
	return r
}

// ObserveDecision counts one gateway decision.
func (r *Recorder) ObserveDecision(outcome string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(outcome).Inc()
}

// ObserveLogin counts one login or refresh attempt.
func (r *Recorder) ObserveLogin(operation, result string) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(operation, result).Inc()
}

// ObserveApproval counts one approval action.
func (r *Recorder) ObserveApproval(action, result string) {
	if r == nil {
		return
	}
	r.approvals.WithLabelValues(action, result).Inc()
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
