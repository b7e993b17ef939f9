package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "controller",
			Name:      "invocations_total",
			Help:      "Total model invocations by result",
		},
		[]string{"result"},
	)

	invokeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "controller",
			Name:      "invoke_duration_seconds",
			Help:      "Duration of model invocations including persistence",
			Buckets:   prometheus.DefBuckets,
		},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "controller",
			Name:      "model_loads_total",
			Help:      "Total model loads by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal, invokeDuration, modelLoadsTotal)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := invokeKind(err); ok {
		return string(k)
	}
	return "error"
}
