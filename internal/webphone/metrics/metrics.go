// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsPlaced counts outbound call attempts.
	CallsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webphone_calls_placed_total",
		Help: "Outbound call attempts.",
	})

	// CallsReceived counts inbound invites admitted as pending calls.
	CallsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webphone_calls_received_total",
		Help: "Inbound calls presented to the user.",
	})

	// CallsFailed counts signaling failures by operation.
	CallsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webphone_calls_failed_total",
		Help: "Signaling failures by operation.",
	}, []string{"op"})

	// Transfers counts transfer attempts by kind and result.
	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webphone_transfers_total",
		Help: "Transfer attempts by kind and result.",
	}, []string{"kind", "result"})

	// Conferences counts conferences started.
	Conferences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webphone_conferences_total",
		Help: "Ad-hoc conferences started.",
	})

	// ActiveSessions tracks the number of live signaling sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webphone_active_sessions",
		Help: "Live signaling sessions (primary plus consult).",
	})

	// RegistrationStatus reports the registration state as a numeric
	// code: 0 offline, 1 connected, 2 registered, 3 failed, 4 no account.
	RegistrationStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webphone_registration_status",
		Help: "Registration state code (0 offline, 1 connected, 2 registered, 3 failed, 4 no account).",
	})
)
