package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// VPolytope is a bounded convex polytope given as the convex hull of a
// finite vertex list. The list may contain interior or duplicate points;
// operations that rely on log-concavity only need the hull vertices to be
// among them.
type VPolytope struct {
	Vertices [][]float64
}

// HPolytope is a polytope in half-space form {x : A x <= B}.
type HPolytope struct {
	A *mat.Dense
	B []float64
}

// NewVPolytope copies nothing; the caller keeps ownership of the vertex slices.
func NewVPolytope(vertices [][]float64) (VPolytope, error) {
	if len(vertices) == 0 {
		return VPolytope{}, fmt.Errorf("polytope: empty vertex list")
	}
	m := len(vertices[0])
	for k, v := range vertices {
		if len(v) != m {
			return VPolytope{}, fmt.Errorf("polytope: vertex %d has dimension %d, want %d", k, len(v), m)
		}
	}
	return VPolytope{Vertices: vertices}, nil
}

// Dim returns the ambient dimension.
func (p VPolytope) Dim() int {
	if len(p.Vertices) == 0 {
		return 0
	}
	return len(p.Vertices[0])
}

// Dim returns the ambient dimension.
func (p HPolytope) Dim() int {
	if p.A == nil {
		return 0
	}
	_, c := p.A.Dims()
	return c
}

// NumRows returns the number of half-space constraints.
func (p HPolytope) NumRows() int {
	if p.A == nil {
		return 0
	}
	r, _ := p.A.Dims()
	return r
}

// Contains reports whether A x <= B + tol holds for every row.
func (p HPolytope) Contains(x []float64, tol float64) bool {
	r, c := p.A.Dims()
	if len(x) != c {
		return false
	}
	for i := 0; i < r; i++ {
		s := 0.0
		for j := 0; j < c; j++ {
			s += p.A.At(i, j) * x[j]
		}
		if s > p.B[i]+tol {
			return false
		}
	}
	return true
}

// ToHPolytope converts the box into 2m half-space rows.
func (h Hyperrectangle) ToHPolytope() HPolytope {
	m := h.Dim()
	a := mat.NewDense(2*m, m, nil)
	b := make([]float64, 2*m)
	for i := 0; i < m; i++ {
		a.Set(i, i, 1)
		b[i] = h.High[i]
		a.Set(m+i, i, -1)
		b[m+i] = -h.Low[i]
	}
	return HPolytope{A: a, B: b}
}

// AffineMap applies x -> A x + b to every vertex of X. A singular A is
// permitted; the image then collapses along the null space and callers must
// not require a full-dimensional result.
func AffineMap(a *mat.Dense, x VPolytope, b []float64) VPolytope {
	rows, cols := a.Dims()
	out := make([][]float64, len(x.Vertices))
	for k, v := range x.Vertices {
		w := make([]float64, rows)
		for i := 0; i < rows; i++ {
			s := b[i]
			for j := 0; j < cols; j++ {
				s += a.At(i, j) * v[j]
			}
			w[i] = s
		}
		out[k] = w
	}
	return VPolytope{Vertices: out}
}

// BoxApproximation returns the smallest axis-aligned box containing the
// polytope. Exact for V-polytopes: per-coordinate min/max over the vertices.
func BoxApproximation(p VPolytope) Hyperrectangle {
	m := p.Dim()
	low := make([]float64, m)
	high := make([]float64, m)
	for i := 0; i < m; i++ {
		low[i] = math.Inf(1)
		high[i] = math.Inf(-1)
	}
	for _, v := range p.Vertices {
		for i := 0; i < m; i++ {
			if v[i] < low[i] {
				low[i] = v[i]
			}
			if v[i] > high[i] {
				high[i] = v[i]
			}
		}
	}
	return Hyperrectangle{Low: low, High: high}
}

// MayIntersect is the pruning filter between a box and a candidate region.
// It is the exact closed-interval overlap test on the coordinate axes, so it
// never reports intersecting boxes as disjoint, and for two boxes its "may
// intersect" answer is also exact.
func MayIntersect(region, box Hyperrectangle) bool {
	return !IsDisjointRects(region, box)
}
