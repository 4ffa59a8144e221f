package throttle

import "github.com/prometheus/client_golang/prometheus"

// Prometheus exports sit alongside the in-process go-metrics meters
// (throttler.go) rather than replacing them — go-metrics feeds the
// teacher-style in-process counters used for quick local inspection,
// prometheus.Collector feeds the scrape endpoint internal/httpapi exposes.
var (
	AcquireWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Subsystem: "throttle",
		Name:      "acquire_wait_seconds",
		Help:      "Time an Acquire call spent waiting for bucket capacity.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"canonical"})

	BackoffHints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Subsystem: "throttle",
		Name:      "backoff_hints_total",
		Help:      "Count of onBackoffHint calls per canonical/bucket.",
	}, []string{"canonical", "bucket"})
)

func init() {
	prometheus.MustRegister(AcquireWait, BackoffHints)
}
