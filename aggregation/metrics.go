package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

var (
	recomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habit_progress_recompute_total",
		Help: "Group progress recomputations by outcome",
	}, []string{"outcome"})

	recomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "habit_progress_recompute_duration_seconds",
		Help:    "Duration of group progress recomputations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
