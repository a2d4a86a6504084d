package publish

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "looptrack",
		Subsystem: "publish",
		Name:      "attempts_total",
		Help:      "Publish attempts, labeled ok, invalid or failed.",
	}, []string{"outcome"})

	failedStepCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "looptrack",
		Subsystem: "publish",
		Name:      "failed_steps_total",
		Help:      "Protocol step at which a publish failed.",
	}, []string{"step"})

	publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "looptrack",
		Subsystem: "publish",
		Name:      "duration_seconds",
		Help:      "Wall time of publishes that reached the store.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	filesHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "looptrack",
		Subsystem: "publish",
		Name:      "files_per_commit",
		Help:      "Files written by a successful publish.",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})
)

func init() {
	prometheus.MustRegister(attemptCounter, failedStepCounter, publishDuration, filesHistogram)
}
