package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepsRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcroute_steps_routed_total",
		Help: "Total number of routing sub-steps completed across all runs.",
	})

	ReachEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcroute_reach_evaluations_total",
		Help: "Total number of Muskingum-Cunge kernel invocations.",
	})

	Degeneracies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcroute_kernel_degenerate_total",
		Help: "Kernel calls that took a fallback path, labelled by reason.",
	}, []string{"reason"})

	NonConverged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcroute_kernel_nonconverged_total",
		Help: "Kernel calls whose depth solve hit the iteration limit.",
	})

	RoutingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcroute_routing_failures_total",
		Help: "Reaches whose kernel call failed; each failure halts its run.",
	})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcroute_step_duration_ms",
		Help:    "Wall time of one forcing step (all sub-steps) in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcroute_runs_total",
		Help: "Finished simulation runs, labelled by final status.",
	}, []string{"status"})

	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcroute_runs_active",
		Help: "Simulation runs currently in progress.",
	})

	SinkQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcroute_sink_queue_utilization_ratio",
		Help: "Current result sink queue utilization (0–1).",
	})

	ForcingFilesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcroute_forcing_files_loaded_total",
		Help: "Lateral inflow files read by the forcing loader.",
	})
)
