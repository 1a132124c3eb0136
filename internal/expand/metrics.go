package expand

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placefinder_expansion_attempts_total",
		Help: "Search attempts by result (ok, cached, error).",
	}, []string{"result"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placefinder_expansion_runs_total",
		Help: "Expansion runs by outcome (complete, shortfall, failed, canceled).",
	}, []string{"outcome"})

	gatheredCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "placefinder_expansion_gathered_candidates",
		Help:    "Deduplicated candidates gathered per run.",
		Buckets: []float64{0, 5, 10, 25, 50, 75, 100, 150},
	})
)
