// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package flow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus instrumentation for the flow manager. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	FlowsStarted   prometheus.Counter
	FlowsCompleted prometheus.Counter
	FlowsAborted   prometheus.Counter
	FlowsRejected  prometheus.Counter
	StepOutcomes   *prometheus.CounterVec
	ActiveFlows    prometheus.Gauge
}

// NewMetrics creates and registers flow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_flows_started_total",
			Help: "Total number of authentication flows started",
		}),
		FlowsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_flows_completed_total",
			Help: "Total number of authentication flows finalized successfully",
		}),
		FlowsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_flows_aborted_total",
			Help: "Total number of authentication flows aborted by disconnect",
		}),
		FlowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_flows_rejected_total",
			Help: "Total number of authentication flows rejected by the pre-authenticate hook",
		}),
		StepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardstone_step_outcomes_total",
			Help: "Step outcomes by step id and outcome",
		}, []string{"step", "outcome"}),
		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wardstone_active_flows",
			Help: "Number of authentication flows currently in progress",
		}),
	}
	reg.MustRegister(m.FlowsStarted, m.FlowsCompleted, m.FlowsAborted,
		m.FlowsRejected, m.StepOutcomes, m.ActiveFlows)
	return m
}

func (m *Metrics) flowStarted() {
	if m != nil {
		m.FlowsStarted.Inc()
		m.ActiveFlows.Inc()
	}
}

func (m *Metrics) flowCompleted() {
	if m != nil {
		m.FlowsCompleted.Inc()
		m.ActiveFlows.Dec()
	}
}

func (m *Metrics) flowAborted() {
	if m != nil {
		m.FlowsAborted.Inc()
		m.ActiveFlows.Dec()
	}
}

func (m *Metrics) flowRejected() {
	if m != nil {
		m.FlowsRejected.Inc()
		m.ActiveFlows.Dec()
	}
}

func (m *Metrics) stepOutcome(step, outcome string) {
	if m != nil {
		m.StepOutcomes.WithLabelValues(step, outcome).Inc()
	}
}
