package contentstore

import "github.com/prometheus/client_golang/prometheus"

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "looptrack",
		Subsystem: "contentstore",
		Name:      "requests_total",
		Help:      "Content store calls, labeled by operation and outcome.",
	}, []string{"op", "outcome"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "looptrack",
		Subsystem: "contentstore",
		Name:      "retries_total",
		Help:      "Content store calls retried after a transient error.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(requestCounter, retryCounter)
}

func observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestCounter.WithLabelValues(op, outcome).Inc()
}
