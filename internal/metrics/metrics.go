// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GuardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolhub",
		Subsystem: "tenant_guard",
		Name:      "decisions_total",
		Help:      "Resource tenant validations by table and outcome.",
	}, []string{"table", "outcome"})

	AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolhub",
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication events by kind and result.",
	}, []string{"event", "result"})

	PurgedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolhub",
		Subsystem: "sessions",
		Name:      "purged_total",
		Help:      "Refresh sessions removed by the purge job.",
	})
)

func ObserveGuard(table, outcome string) {
	GuardDecisions.WithLabelValues(table, outcome).Inc()
}

func ObserveAuth(event, result string) {
	AuthEvents.WithLabelValues(event, result).Inc()
}
