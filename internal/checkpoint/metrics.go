package checkpoint

import "github.com/prometheus/client_golang/prometheus"

var (
	saveCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "looptrack",
		Subsystem: "checkpoint",
		Name:      "saves_total",
		Help:      "Checkpoint writes, labeled by outcome.",
	}, []string{"outcome"})

	saveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "looptrack",
		Subsystem: "checkpoint",
		Name:      "save_duration_seconds",
		Help:      "Time spent writing a checkpoint.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
	})

	restoreCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "looptrack",
		Subsystem: "checkpoint",
		Name:      "restores_total",
		Help:      "Startup restores, labeled by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(saveCounter, saveDuration, restoreCounter)
}
