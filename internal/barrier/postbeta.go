package barrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/lpsolve"
	"github.com/stochsafe/barricade/internal/metrics"
	"github.com/stochsafe/barricade/internal/region"
)

// PostComputeBeta re-certifies the martingale slack of a fixed barrier
// against the interval transition probabilities, one small LP per source
// region, run in parallel. Per-region slack j is
//
//	max { sum_i b_i p_i + p_u : lo <= p <= up, sum p = 1 } - b_j
//
// floored at zero. The returned maximum never exceeds the slack certified at
// synthesis time, because the maximizing distribution is itself feasible for
// the synthesis constraint.
func PostComputeBeta(ctx context.Context, regions []region.WithProbabilities, b []float64, cfg config.Config, met *metrics.Metrics) ([]float64, float64, error) {
	if err := validateInputs(regions, cfg); err != nil {
		return nil, 0, err
	}
	n := len(regions)
	if len(b) != n {
		return nil, 0, fmt.Errorf("barrier: %d barrier values for %d regions", len(b), n)
	}
	if met == nil {
		met = metrics.Nop()
	}
	start := time.Now()
	defer func() { met.RefineDuration.Observe(time.Since(start).Seconds()) }()

	betas := make([]float64, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EffectiveWorkers())
	for j := 0; j < n; j++ {
		j := j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := worstExpectation(regions[j], b, met)
			if err != nil {
				return fmt.Errorf("barrier: source region %d: %w", j, err)
			}
			slack := e - b[j]
			if slack < 0 {
				slack = 0
			}
			betas[j] = slack
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	maxBeta := 0.0
	for _, v := range betas {
		if v > maxBeta {
			maxBeta = v
		}
	}
	return betas, maxBeta, nil
}

// worstExpectation solves the per-source inner maximization exactly. Targets
// with a zero upper bound carry no mass and are left out of the program.
func worstExpectation(r region.WithProbabilities, b []float64, met *metrics.Metrics) (float64, error) {
	n := len(b)
	p := lpsolve.NewProblem()
	mass := make([]lpsolve.Term, 0, n+1)
	for i := 0; i <= n; i++ {
		lo, up := r.Lower[i], r.Upper[i]
		if up <= 0 {
			continue
		}
		if lo > up {
			lo = up
		}
		value := 1.0
		if i < n {
			value = b[i]
		}
		x := p.AddVariable(lo, up, -value)
		mass = append(mass, lpsolve.Term{Var: x, Coeff: 1})
	}
	p.AddEQ(mass, 1)

	met.LPSolves.Inc()
	sol, err := p.Solve()
	if err != nil {
		if errors.Is(err, lpsolve.ErrInfeasible) {
			met.LPInfeasible.Inc()
			return 0, ErrInfeasible
		}
		return 0, err
	}
	return -sol.Objective, nil
}
