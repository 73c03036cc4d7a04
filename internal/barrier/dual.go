package barrier

import (
	"math"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/lpsolve"
	"github.com/stochsafe/barricade/internal/metrics"
	"github.com/stochsafe/barricade/internal/region"
)

// DualConstant synthesizes a piecewise-constant barrier against the exact
// worst case of the interval ambiguity set. For each source region the inner
// maximization over feasible distributions is dualized in place, adding
// multipliers alpha, gamma >= 0 over the sparse support plus one free
// variable lambda for the total-mass constraint:
//
//	sum_i up_i alpha_i - sum_i lo_i gamma_i + lambda <= b_j + beta_j
//	b_i - alpha_i + gamma_i - lambda <= 0   (support targets)
//	 -alpha_u + gamma_u - lambda <= -1      (unsafe tail)
//
// Targets with a zero upper bound carry no mass and are skipped; gamma is
// created only where the lower bound is positive. The bound is never looser
// than Constant, which charges the full upper mass of every target at once.
func DualConstant(regions []region.WithProbabilities, spec Spec, cfg config.Config, met *metrics.Metrics) (*Solution, error) {
	if err := validateInputs(regions, cfg); err != nil {
		return nil, err
	}
	if met == nil {
		met = metrics.Nop()
	}
	n := len(regions)
	inf := math.Inf(1)

	v := newMartingaleVars(regions, spec, cfg)
	for j := 0; j < n; j++ {
		lo, up := regions[j].Lower, regions[j].Upper
		lambda := v.p.AddVariable(-inf, inf, 0)
		budget := make([]lpsolve.Term, 0, 2*(n+1)+3)
		budget = append(budget, lpsolve.Term{Var: lambda, Coeff: 1})

		for i := 0; i <= n; i++ {
			if up[i] <= 0 {
				continue
			}
			alpha := v.p.AddVariable(0, inf, 0)
			budget = append(budget, lpsolve.Term{Var: alpha, Coeff: up[i]})
			row := make([]lpsolve.Term, 0, 4)
			row = append(row,
				lpsolve.Term{Var: alpha, Coeff: -1},
				lpsolve.Term{Var: lambda, Coeff: -1},
			)
			if lo[i] > 0 {
				gamma := v.p.AddVariable(0, inf, 0)
				budget = append(budget, lpsolve.Term{Var: gamma, Coeff: -lo[i]})
				row = append(row, lpsolve.Term{Var: gamma, Coeff: 1})
			}
			if i < n {
				row = append(row, lpsolve.Term{Var: v.b[i], Coeff: 1})
				v.p.AddLE(row, 0)
			} else {
				v.p.AddLE(row, -1)
			}
		}

		budget = append(budget,
			lpsolve.Term{Var: v.b[j], Coeff: -1},
			lpsolve.Term{Var: v.betaJ[j], Coeff: -1},
		)
		v.p.AddLE(budget, 0)
	}
	return v.solve(met)
}
