// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus instrumentation for the service and guard. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	LoginFailures prometheus.Counter
	GuardBlocks   prometheus.Counter
	Registrations prometheus.Counter
}

// NewMetrics creates and registers authentication metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_login_failures_total",
			Help: "Total number of rejected credential checks",
		}),
		GuardBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_guard_blocks_total",
			Help: "Total number of timed blocks imposed by the brute-force guard",
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardstone_registrations_total",
			Help: "Total number of accounts registered",
		}),
	}
	reg.MustRegister(m.LoginFailures, m.GuardBlocks, m.Registrations)
	return m
}

func (m *Metrics) loginFailed() {
	if m != nil {
		m.LoginFailures.Inc()
	}
}

func (m *Metrics) blockImposed() {
	if m != nil {
		m.GuardBlocks.Inc()
	}
}

func (m *Metrics) registered() {
	if m != nil {
		m.Registrations.Inc()
	}
}
