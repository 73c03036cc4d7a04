package barrier

import (
	"sort"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/metrics"
	"github.com/stochsafe/barricade/internal/region"
)

// iterTol stops the outer loop once the objective stops improving.
const iterTol = 1e-9

// Iterative alternates between the exact worst-case distribution for the
// current barrier and a re-solve of the piecewise-constant LP against that
// fixed distribution. The inner step is the linear-minimization oracle of
// the conditional-gradient view, which is why the frank_wolfe and
// gradient_descent tags share this backend. Every candidate barrier is
// re-certified against its own worst case before it is accepted, so the
// returned slacks are valid regardless of where the loop stops. The second
// result carries the regions sharpened to the final worst-case distribution.
func Iterative(regions []region.WithProbabilities, spec Spec, cfg config.Config, met *metrics.Metrics) (*Solution, []region.WithProbabilities, error) {
	if err := validateInputs(regions, cfg); err != nil {
		return nil, nil, err
	}
	if met == nil {
		met = metrics.Nop()
	}
	n := len(regions)

	seed, err := Constant(regions, spec, cfg, met)
	if err != nil {
		return nil, nil, err
	}
	best := evaluateBarrier(regions, spec, cfg, seed.B)

	for iter := 0; iter < cfg.MaxOuterIter; iter++ {
		cols := make([][]float64, n)
		for j := 0; j < n; j++ {
			cols[j] = worstCaseDistribution(regions[j].Lower, regions[j].Upper, best.B)
		}
		lpSol, err := solveMartingaleLP(regions, spec, cfg, met, cols)
		if err != nil {
			return nil, nil, err
		}
		cand := evaluateBarrier(regions, spec, cfg, lpSol.B)
		if cand.Objective >= best.Objective-iterTol {
			break
		}
		best = cand
	}

	sharp := make([][]float64, n)
	for j := 0; j < n; j++ {
		sharp[j] = worstCaseDistribution(regions[j].Lower, regions[j].Upper, best.B)
	}
	updated, err := region.UpdateRegions(regions, sharp, sharp)
	if err != nil {
		return nil, nil, err
	}
	return best, updated, nil
}

// evaluateBarrier certifies a fixed barrier: per-region slack is the exact
// worst-case expected next value minus the region's own value, eta is the
// largest value over the initial regions.
func evaluateBarrier(regions []region.WithProbabilities, spec Spec, cfg config.Config, b []float64) *Solution {
	n := len(regions)
	betaPer := make([]float64, n)
	beta := 0.0
	for j := 0; j < n; j++ {
		p := worstCaseDistribution(regions[j].Lower, regions[j].Upper, b)
		e := p[n]
		for i := 0; i < n; i++ {
			e += p[i] * b[i]
		}
		slack := e - b[j]
		if slack < 0 {
			slack = 0
		}
		betaPer[j] = slack
		if slack > beta {
			beta = slack
		}
	}
	eta := 0.0
	for _, j := range memberIndices(regions, spec.Initial) {
		if b[j] > eta {
			eta = b[j]
		}
	}
	return &Solution{
		B:             append([]float64(nil), b...),
		Beta:          beta,
		BetaPerRegion: betaPer,
		Eta:           eta,
		Objective:     eta + float64(cfg.TimeHorizon)*beta,
	}
}

// worstCaseDistribution returns the feasible distribution maximizing the
// expected barrier value: every target starts at its lower bound and the
// remaining mass goes to targets in decreasing value order, the unsafe tail
// counting as value one. Ties break on index, so the fill is deterministic.
func worstCaseDistribution(lo, up, b []float64) []float64 {
	n := len(b)
	value := func(i int) float64 {
		if i == n {
			return 1
		}
		return b[i]
	}

	p := make([]float64, n+1)
	remaining := 1.0
	for i := range p {
		p[i] = lo[i]
		remaining -= lo[i]
	}
	if remaining <= 0 {
		return p
	}

	order := make([]int, n+1)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return value(order[x]) > value(order[y])
	})
	for _, i := range order {
		add := up[i] - p[i]
		if add > remaining {
			add = remaining
		}
		if add > 0 {
			p[i] += add
			remaining -= add
		}
		if remaining <= 0 {
			break
		}
	}
	return p
}
