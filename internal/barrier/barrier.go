package barrier

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/geom"
	"github.com/stochsafe/barricade/internal/lpsolve"
	"github.com/stochsafe/barricade/internal/metrics"
	"github.com/stochsafe/barricade/internal/region"
)

// ErrInfeasible reports that no barrier satisfies the martingale system,
// which usually means the probability bounds are too loose or the obstacle
// intersects the initial set.
var ErrInfeasible = errors.New("barrier: synthesis infeasible")

// ErrUnsupportedAlgorithm is returned for algorithm tags whose backend is
// not compiled into this build (currently the sum-of-squares hierarchy).
var ErrUnsupportedAlgorithm = errors.New("barrier: unsupported synthesis algorithm")

// Solution is a synthesized piecewise-constant barrier certificate. The
// finite-horizon probability of reaching the unsafe set from the initial
// set is at most Eta + N*Beta.
type Solution struct {
	B             []float64
	Beta          float64
	BetaPerRegion []float64
	Eta           float64
	Objective     float64
}

// SafetyBound returns eta + N*beta for the given horizon.
func (s *Solution) SafetyBound(horizon int) float64 {
	return s.Eta + float64(horizon)*s.Beta
}

// Spec selects the initial and obstacle sets. A nil box means the set is
// empty. Region membership is decided by interior overlap, so an initial
// box strictly inside one cell selects exactly that cell and a box equal to
// a cell does not drag in neighbors sharing a face.
type Spec struct {
	Initial  *geom.Hyperrectangle
	Obstacle *geom.Hyperrectangle
}

func overlapsInterior(a, b geom.Hyperrectangle) bool {
	if a.Dim() != b.Dim() {
		return false
	}
	for i := range a.Low {
		if a.High[i] <= b.Low[i] || b.High[i] <= a.Low[i] {
			return false
		}
	}
	return true
}

// memberIndices returns the regions whose interiors meet the given box.
func memberIndices(regions []region.WithProbabilities, box *geom.Hyperrectangle) []int {
	if box == nil {
		return nil
	}
	var out []int
	for j := range regions {
		if overlapsInterior(regions[j].Box, *box) {
			out = append(out, j)
		}
	}
	return out
}

func validateInputs(regions []region.WithProbabilities, cfg config.Config) error {
	if len(regions) == 0 {
		return fmt.Errorf("barrier: no regions")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	n := len(regions)
	for j := range regions {
		if len(regions[j].Lower) != n+1 {
			return fmt.Errorf("barrier: region %d has %d probability entries, want %d", j, len(regions[j].Lower), n+1)
		}
		if err := regions[j].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Synthesize dispatches to the backend selected by cfg.Algorithm. The
// frank_wolfe and gradient_descent tags run the alternating backend, which
// subsumes both: the inner worst-case step is the exact linear-minimization
// oracle the conditional-gradient view calls for.
func Synthesize(regions []region.WithProbabilities, spec Spec, cfg config.Config, met *metrics.Metrics) (*Solution, error) {
	if met == nil {
		met = metrics.Nop()
	}
	start := time.Now()
	defer func() {
		met.SynthesisDuration.WithLabelValues(string(cfg.Algorithm)).Observe(time.Since(start).Seconds())
	}()

	switch cfg.Algorithm {
	case config.AlgConstant:
		return Constant(regions, spec, cfg, met)
	case config.AlgDualConstant:
		return DualConstant(regions, spec, cfg, met)
	case config.AlgIterative, config.AlgFrankWolfe, config.AlgGradientDescent:
		sol, _, err := Iterative(regions, spec, cfg, met)
		return sol, err
	case config.AlgSOS:
		return nil, fmt.Errorf("%w: %q needs a semidefinite backend", ErrUnsupportedAlgorithm, cfg.Algorithm)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}
}

// Constant synthesizes a piecewise-constant barrier by one linear program
// over per-region values, pinning the obstacle at one and binding every
// source region's expected next value through the upper probability bounds:
//
//	sum_i upper[i][j] b_i + upper[tail][j] <= b_j + beta_j
//
// The objective is eta + N*beta with eta the largest barrier value over the
// regions meeting the initial set.
func Constant(regions []region.WithProbabilities, spec Spec, cfg config.Config, met *metrics.Metrics) (*Solution, error) {
	if err := validateInputs(regions, cfg); err != nil {
		return nil, err
	}
	if met == nil {
		met = metrics.Nop()
	}
	n := len(regions)

	cols := make([][]float64, n)
	for j := range regions {
		cols[j] = regions[j].Upper
	}
	return solveMartingaleLP(regions, spec, cfg, met, cols)
}

// martingaleVars is the variable block shared by the primal and dual
// backends: one barrier value per region with the obstacle pinned at one,
// the global slack beta, the initial-set level eta, and per-region slacks
// bounded by beta. The objective is eta + N*beta.
type martingaleVars struct {
	p     *lpsolve.Problem
	b     []int
	beta  int
	eta   int
	betaJ []int
}

func newMartingaleVars(regions []region.WithProbabilities, spec Spec, cfg config.Config) *martingaleVars {
	n := len(regions)
	eps := cfg.Eps
	inf := math.Inf(1)

	p := lpsolve.NewProblem()
	v := &martingaleVars{p: p, b: make([]int, n), betaJ: make([]int, n)}

	pinned := make([]bool, n)
	for _, k := range memberIndices(regions, spec.Obstacle) {
		pinned[k] = true
	}
	for j := 0; j < n; j++ {
		if pinned[j] {
			v.b[j] = p.AddVariable(1, 1, 0)
		} else {
			v.b[j] = p.AddVariable(eps, inf, 0)
		}
	}
	v.beta = p.AddVariable(eps, 1-eps, float64(cfg.TimeHorizon))
	v.eta = p.AddVariable(0, inf, 1)
	for j := 0; j < n; j++ {
		v.betaJ[j] = p.AddVariable(eps, 1-eps, 0)
		p.AddLE([]lpsolve.Term{{Var: v.betaJ[j], Coeff: 1}, {Var: v.beta, Coeff: -1}}, 0)
	}
	for _, j := range memberIndices(regions, spec.Initial) {
		p.AddLE([]lpsolve.Term{{Var: v.b[j], Coeff: 1}, {Var: v.eta, Coeff: -1}}, 0)
	}
	return v
}

func (v *martingaleVars) solve(met *metrics.Metrics) (*Solution, error) {
	met.LPSolves.Inc()
	sol, err := v.p.Solve()
	if err != nil {
		if errors.Is(err, lpsolve.ErrInfeasible) {
			met.LPInfeasible.Inc()
			return nil, ErrInfeasible
		}
		return nil, err
	}
	n := len(v.b)
	out := &Solution{
		B:             make([]float64, n),
		BetaPerRegion: make([]float64, n),
		Beta:          sol.X[v.beta],
		Eta:           sol.X[v.eta],
		Objective:     sol.Objective,
	}
	for j := 0; j < n; j++ {
		out.B[j] = sol.X[v.b[j]]
		out.BetaPerRegion[j] = sol.X[v.betaJ[j]]
	}
	return out, nil
}

// solveMartingaleLP builds and solves the piecewise-constant LP for the
// given per-source "to" coefficient columns (upper bounds for Constant,
// a fixed worst-case distribution for the alternating backend). Column j
// has length N+1 with the tail last.
func solveMartingaleLP(regions []region.WithProbabilities, spec Spec, cfg config.Config, met *metrics.Metrics, cols [][]float64) (*Solution, error) {
	n := len(regions)
	v := newMartingaleVars(regions, spec, cfg)
	for j := 0; j < n; j++ {
		col := cols[j]
		terms := make([]lpsolve.Term, 0, n+2)
		for i := 0; i < n; i++ {
			c := col[i]
			if i == j {
				c -= 1
			}
			if c != 0 {
				terms = append(terms, lpsolve.Term{Var: v.b[i], Coeff: c})
			}
		}
		terms = append(terms, lpsolve.Term{Var: v.betaJ[j], Coeff: -1})
		v.p.AddLE(terms, -col[n])
	}
	return v.solve(met)
}
