// Package metrics exposes Prometheus instrumentation for the daemon's
// investigation, discovery, and monitoring activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InvestigationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortex",
		Name:      "investigations_total",
		Help:      "Completed investigations by outcome.",
	}, []string{"outcome"}) // diagnosed, no_diagnosis

	InvestigationTurns = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cortex",
		Name:      "investigation_turns",
		Help:      "Assistant turns used per investigation.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12},
	})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortex",
		Name:      "actions_total",
		Help:      "Executed remediation actions by type and status.",
	}, []string{"type", "status"})

	DiscoveryRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cortex",
		Name:      "discovery_runs_total",
		Help:      "Completed discovery cycles.",
	})

	HealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortex",
		Name:      "health_checks_total",
		Help:      "Monitor-loop health checks by result.",
	}, []string{"result"}) // healthy, unhealthy

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortex",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed by direction.",
	}, []string{"direction"}) // input, output
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
