// Package metrics exposes Prometheus instruments for runs, scheduling and onboarding.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument, registered on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	ClaimRejections    *prometheus.CounterVec
	DueProcessed       *prometheus.CounterVec
	DispatchesTotal    *prometheus.CounterVec
	OnboardingSteps    *prometheus.CounterVec
	OnboardingFinished *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_automation_runs_total",
				Help: "Automation run segments by trigger type and outcome",
			},
			[]string{"trigger_type", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kindred_automation_run_duration_seconds",
				Help:    "Automation run segment duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"trigger_type"},
		),
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_actions_total",
				Help: "Executed actions by type and outcome",
			},
			[]string{"action_type", "outcome"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kindred_action_duration_seconds",
				Help:    "Action execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"action_type"},
		),
		ClaimRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_claim_rejections_total",
				Help: "Run claims rejected because another run held or moved the automation",
			},
			[]string{"reason"},
		),
		DueProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_scheduler_due_total",
				Help: "Due automations seen by the scheduler, by result",
			},
			[]string{"result"},
		),
		DispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_dispatches_total",
				Help: "Dispatched domain events by trigger type",
			},
			[]string{"trigger_type"},
		),
		OnboardingSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_onboarding_steps_total",
				Help: "Onboarding steps by name and status",
			},
			[]string{"step", "status"},
		),
		OnboardingFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kindred_onboarding_finished_total",
				Help: "Onboarding workflows reaching a final status",
			},
			[]string{"status"},
		),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}

	return "failure"
}

func (m *Metrics) ObserveRun(triggerType string, outcomeLabel string, d time.Duration) {
	if m == nil {
		return
	}

	m.RunsTotal.WithLabelValues(triggerType, outcomeLabel).Inc()
	m.RunDuration.WithLabelValues(triggerType).Observe(d.Seconds())
}

func (m *Metrics) ObserveAction(actionType string, ok bool, d time.Duration) {
	if m == nil {
		return
	}

	m.ActionsTotal.WithLabelValues(actionType, outcome(ok)).Inc()
	m.ActionDuration.WithLabelValues(actionType).Observe(d.Seconds())
}

func (m *Metrics) ClaimRejected(reason string) {
	if m == nil {
		return
	}

	m.ClaimRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) DueResult(result string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.DueProcessed.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) Dispatched(triggerType string) {
	if m == nil {
		return
	}

	m.DispatchesTotal.WithLabelValues(triggerType).Inc()
}

func (m *Metrics) OnboardingStep(step, status string) {
	if m == nil {
		return
	}

	m.OnboardingSteps.WithLabelValues(step, status).Inc()
}

func (m *Metrics) OnboardingDone(status string) {
	if m == nil {
		return
	}

	m.OnboardingFinished.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
