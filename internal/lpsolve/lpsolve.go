package lpsolve

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Sentinel errors translated from the simplex backend.
var (
	ErrInfeasible = errors.New("lpsolve: problem is infeasible")
	ErrUnbounded  = errors.New("lpsolve: problem is unbounded")
)

// Term is one coefficient of a constraint row.
type Term struct {
	Var   int
	Coeff float64
}

// Problem is an incrementally built linear program over bounded variables:
//
//	minimize sum obj_i x_i  subject to  lo_i <= x_i <= hi_i and the added rows.
//
// Solve converts to the equality standard form gonum's simplex expects
// (bound shifting, free-variable splitting, slack columns) and maps the
// solution back. Construction order is deterministic, so repeated solves of
// the same problem pivot identically.
type Problem struct {
	lo, hi, obj []float64
	rows        []row
}

type row struct {
	terms []Term
	rhs   float64
	eq    bool
}

// NewProblem returns an empty problem.
func NewProblem() *Problem { return &Problem{} }

// NumVariables returns the number of variables added so far.
func (p *Problem) NumVariables() int { return len(p.obj) }

// AddVariable appends a variable with bounds [lo, hi] (either may be
// infinite) and the given objective coefficient, returning its index.
func (p *Problem) AddVariable(lo, hi, obj float64) int {
	p.lo = append(p.lo, lo)
	p.hi = append(p.hi, hi)
	p.obj = append(p.obj, obj)
	return len(p.obj) - 1
}

// AddLE appends the row sum(terms) <= rhs.
func (p *Problem) AddLE(terms []Term, rhs float64) {
	p.rows = append(p.rows, row{terms: terms, rhs: rhs})
}

// AddEQ appends the row sum(terms) == rhs.
func (p *Problem) AddEQ(terms []Term, rhs float64) {
	p.rows = append(p.rows, row{terms: terms, rhs: rhs, eq: true})
}

// Solution carries the optimum found by Solve.
type Solution struct {
	Objective float64
	X         []float64
}

// Solve runs the simplex method and returns the optimum, or ErrInfeasible /
// ErrUnbounded translated from the backend.
func (p *Problem) Solve() (*Solution, error) {
	n := len(p.obj)
	if n == 0 {
		return nil, fmt.Errorf("lpsolve: no variables")
	}

	// Column layout: each variable owns one nonnegative column (shifted by
	// its finite lower bound) or a plus/minus pair when unbounded below.
	type varCols struct {
		plus  int
		minus int // -1 when the variable has a finite lower bound
		shift float64
	}
	cols := make([]varCols, n)
	ncols := 0
	for i := 0; i < n; i++ {
		if math.IsInf(p.lo[i], -1) {
			cols[i] = varCols{plus: ncols, minus: ncols + 1}
			ncols += 2
		} else {
			cols[i] = varCols{plus: ncols, minus: -1, shift: p.lo[i]}
			ncols++
		}
		if p.hi[i] < p.lo[i] {
			return nil, fmt.Errorf("lpsolve: variable %d has empty bound interval [%g, %g]", i, p.lo[i], p.hi[i])
		}
	}

	// Count rows: user rows plus one upper-bound row per finitely bounded
	// variable; every inequality gets a slack column.
	type stdRow struct {
		terms []Term // in column space
		rhs   float64
		eq    bool
	}
	var srows []stdRow
	for _, r := range p.rows {
		t := make([]Term, 0, 2*len(r.terms))
		rhs := r.rhs
		for _, tm := range r.terms {
			c := cols[tm.Var]
			t = append(t, Term{Var: c.plus, Coeff: tm.Coeff})
			if c.minus >= 0 {
				t = append(t, Term{Var: c.minus, Coeff: -tm.Coeff})
			}
			rhs -= tm.Coeff * c.shift
		}
		srows = append(srows, stdRow{terms: t, rhs: rhs, eq: r.eq})
	}
	for i := 0; i < n; i++ {
		if math.IsInf(p.hi[i], 1) {
			continue
		}
		c := cols[i]
		t := []Term{{Var: c.plus, Coeff: 1}}
		if c.minus >= 0 {
			t = append(t, Term{Var: c.minus, Coeff: -1})
		}
		srows = append(srows, stdRow{terms: t, rhs: p.hi[i] - c.shift})
	}

	nslack := 0
	for _, r := range srows {
		if !r.eq {
			nslack++
		}
	}

	// With no rows at all every variable is bounded below at most, so each
	// column rests at zero unless its cost lets it grow without bound.
	if len(srows) == 0 {
		out := make([]float64, n)
		objective := 0.0
		for i := 0; i < n; i++ {
			if p.obj[i] < 0 || (cols[i].minus >= 0 && p.obj[i] != 0) {
				return nil, ErrUnbounded
			}
			out[i] = cols[i].shift
			objective += p.obj[i] * out[i]
		}
		return &Solution{Objective: objective, X: out}, nil
	}

	total := ncols + nslack
	a := mat.NewDense(len(srows), total, nil)
	b := make([]float64, len(srows))
	c := make([]float64, total)
	for i := 0; i < n; i++ {
		vc := cols[i]
		c[vc.plus] = p.obj[i]
		if vc.minus >= 0 {
			c[vc.minus] = -p.obj[i]
		}
	}
	slack := ncols
	for ri, r := range srows {
		for _, tm := range r.terms {
			a.Set(ri, tm.Var, a.At(ri, tm.Var)+tm.Coeff)
		}
		b[ri] = r.rhs
		if !r.eq {
			a.Set(ri, slack, 1)
			slack++
		}
	}

	_, x, err := lp.Simplex(c, a, b, 1e-10, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return nil, ErrInfeasible
		case errors.Is(err, lp.ErrUnbounded):
			return nil, ErrUnbounded
		default:
			return nil, fmt.Errorf("lpsolve: simplex: %w", err)
		}
	}

	out := make([]float64, n)
	objective := 0.0
	for i := 0; i < n; i++ {
		vc := cols[i]
		v := x[vc.plus] + vc.shift
		if vc.minus >= 0 {
			v -= x[vc.minus]
		}
		out[i] = v
		objective += p.obj[i] * v
	}
	return &Solution{Objective: objective, X: out}, nil
}
