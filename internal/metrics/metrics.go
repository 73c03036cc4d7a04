package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for both engines.
type Metrics struct {
	// Probability sweep.
	ColumnsComputed     prometheus.Counter
	CandidatesKept      prometheus.Counter
	CandidatesPruned    prometheus.Counter
	UpperBoundFallbacks prometheus.Counter
	SweepDuration       prometheus.Histogram

	// Barrier synthesis.
	LPSolves          prometheus.Counter
	LPInfeasible      prometheus.Counter
	SynthesisDuration *prometheus.HistogramVec
	RefineDuration    prometheus.Histogram
}

// New creates and registers all instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		ColumnsComputed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brc_columns_computed_total",
			Help: "Probability columns completed by the transition sweep",
		}),
		CandidatesKept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brc_candidates_kept_total",
			Help: "Target regions that survived the sparsity pre-filter",
		}),
		CandidatesPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brc_candidates_pruned_total",
			Help: "Target regions pruned by the sparsity pre-filter",
		}),
		UpperBoundFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brc_upper_bound_fallbacks_total",
			Help: "Upper-bound solver non-convergences recovered via the box bound",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "brc_sweep_duration_seconds",
			Help:    "Wall time of full transition-probability sweeps",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		LPSolves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brc_lp_solves_total",
			Help: "Linear programs solved across all synthesis backends",
		}),
		LPInfeasible: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brc_lp_infeasible_total",
			Help: "Linear programs reported infeasible",
		}),
		SynthesisDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brc_synthesis_duration_seconds",
			Help:    "Wall time of barrier synthesis runs per algorithm",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"algorithm"}),
		RefineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "brc_refine_duration_seconds",
			Help:    "Wall time of post-beta refinement runs",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Nop returns unregistered instruments for tests and library callers that do
// not want to touch the default registry.
func Nop() *Metrics {
	return &Metrics{
		ColumnsComputed:     prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_columns"}),
		CandidatesKept:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_kept"}),
		CandidatesPruned:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_pruned"}),
		UpperBoundFallbacks: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_fallbacks"}),
		SweepDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Name: "nop_sweep"}),
		LPSolves:            prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_lp"}),
		LPInfeasible:        prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_lp_inf"}),
		SynthesisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nop_synth",
		}, []string{"algorithm"}),
		RefineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "nop_refine"}),
	}
}
