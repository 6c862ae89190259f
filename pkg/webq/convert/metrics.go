package convert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conversion results
const (
	resultOK            = "ok"
	resultNotApplicable = "not_applicable"
	resultTimeout       = "timeout"
	resultCanceled      = "canceled"
	resultFailed        = "failed"
)

var (
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webq_conversions_total",
		Help: "Conversion requests by conversion id and result.",
	}, []string{"conversion", "result"})

	conversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webq_conversion_duration_seconds",
		Help:    "Time spent waiting for the conversion engine.",
		Buckets: prometheus.DefBuckets,
	}, []string{"conversion"})
)
