package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	casesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_verify_cases_total",
		Help: "Verification cases by element type and outcome (pass, fail, fault)",
	}, []string{"dtype", "outcome"})

	elementsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_verify_elements_total",
		Help: "Total number of elements compared against the reference",
	}, []string{"dtype"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powcheck_verify_stage_duration_seconds",
		Help:    "Time spent in each verification stage",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"stage", "dtype"})
)
