// Package metrics exposes prometheus instrumentation for the job queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCompleted counts jobs that reached COMPLETED.
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_agent_jobs_completed_total",
		Help: "Number of analysis jobs completed successfully.",
	})

	// JobsFailed counts jobs that reached FAILED.
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_agent_jobs_failed_total",
		Help: "Number of analysis jobs that failed.",
	})

	// JobsProcessing tracks jobs currently executing in this process.
	JobsProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stock_agent_jobs_processing",
		Help: "Number of analysis jobs currently being processed.",
	})

	// ClaimConflicts counts claim attempts lost to a concurrent scheduler.
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_agent_claim_conflicts_total",
		Help: "Number of job claim attempts that lost a race and were retried.",
	})

	// RecoveredJobs counts PROCESSING jobs reset to PENDING at startup.
	RecoveredJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_agent_recovered_jobs_total",
		Help: "Number of stalled jobs reset to PENDING during startup recovery.",
	})
)
