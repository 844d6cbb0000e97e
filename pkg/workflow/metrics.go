package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delfos_workflow_runs_total",
		Help: "Workflow runs by outcome.",
	}, []string{"outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delfos_stage_duration_seconds",
		Help:    "Duration of each agent stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delfos_stage_failures_total",
		Help: "Stage failures by stage name, counting both soft and terminal failures.",
	}, []string{"stage"})
)

func observeStage(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

func recordRun(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(outcome).Inc()
}
