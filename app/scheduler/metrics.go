package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_started_total",
			Help: "Jobs started partitioned by platform",
		},
		[]string{"platform"},
	)

	jobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_finished_total",
			Help: "Jobs that reached a terminal status",
		},
		[]string{"platform", "status"},
	)

	jobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_jobs",
			Help: "Known jobs partitioned by status",
		},
		[]string{"status"},
	)

	dispatchResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_dispatch_results_total",
			Help: "Dispatched items partitioned by platform and stage outcomes",
		},
		[]string{"platform", "create", "send"},
	)

	verificationResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_verification_results_total",
			Help: "Delivery checks partitioned by platform and live status",
		},
		[]string{"platform", "status"},
	)
)
