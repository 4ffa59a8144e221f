package dispatcher

import "github.com/prometheus/client_golang/prometheus"

var (
	tickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Subsystem: "dispatcher",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of one dispatcher tick.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"group"})

	stepsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Subsystem: "dispatcher",
		Name:      "steps_dispatched_total",
		Help:      "Count of steps successfully claimed and handed to the harness.",
	}, []string{"group"})

	claimConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Subsystem: "dispatcher",
		Name:      "claim_conflicts_total",
		Help:      "Count of SelectReady candidates lost to a racing claim.",
	}, []string{"group"})

	tickSkippedLocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Subsystem: "dispatcher",
		Name:      "tick_skipped_locked_total",
		Help:      "Count of ticks that did not run because the group's advisory lock was held.",
	}, []string{"group"})
)

func init() {
	prometheus.MustRegister(tickDuration, stepsDispatched, claimConflicts, tickSkippedLocked)
}
