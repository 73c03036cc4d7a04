package geom

import (
	"fmt"
	"math"
)

// L2ClosestPoint solves min ||x - target||^2 over the convex hull of the
// polytope's vertices by conditional gradient with an exact line search. The
// quadratic objective makes the per-step optimal step length closed-form, so
// the iteration converges quickly even on thin polytopes.
func L2ClosestPoint(p VPolytope, target []float64, maxIter int, tol float64) []float64 {
	m := p.Dim()
	if maxIter <= 0 {
		maxIter = 200
	}

	// Start at the vertex nearest to the target.
	x := make([]float64, m)
	best := math.Inf(1)
	for _, v := range p.Vertices {
		if d := sqDist(v, target); d < best {
			best = d
			copy(x, v)
		}
	}

	grad := make([]float64, m)
	dir := make([]float64, m)
	for k := 0; k < maxIter; k++ {
		for i := 0; i < m; i++ {
			grad[i] = x[i] - target[i]
		}
		s := argminInner(p.Vertices, grad)
		gap := 0.0
		for i := 0; i < m; i++ {
			dir[i] = s[i] - x[i]
			gap -= grad[i] * dir[i]
		}
		if gap <= tol {
			break
		}
		dd := 0.0
		gd := 0.0
		for i := 0; i < m; i++ {
			dd += dir[i] * dir[i]
			gd += grad[i] * dir[i]
		}
		if dd == 0 {
			break
		}
		gamma := math.Min(1, math.Max(0, -gd/dd))
		if gamma == 0 {
			break
		}
		for i := 0; i < m; i++ {
			x[i] += gamma * dir[i]
		}
	}
	return x
}

// L2ClosestPointH is L2ClosestPoint for a half-space polytope: the vertex
// list is recovered first (through the enumerator cache when provided).
func L2ClosestPointH(p HPolytope, target []float64, enum *Enumerator, maxIter int, tol float64) ([]float64, error) {
	var verts [][]float64
	var err error
	if enum != nil {
		verts, err = enum.Vertices(p)
	} else {
		verts, err = VerticesList(p, tol)
	}
	if err != nil {
		return nil, fmt.Errorf("geom: closest point: %w", err)
	}
	return L2ClosestPoint(VPolytope{Vertices: verts}, target, maxIter, tol), nil
}

// argminInner returns the vertex minimizing <g, v>.
func argminInner(vertices [][]float64, g []float64) []float64 {
	best := math.Inf(1)
	var arg []float64
	for _, v := range vertices {
		s := 0.0
		for i := range g {
			s += g[i] * v[i]
		}
		if s < best {
			best = s
			arg = v
		}
	}
	return arg
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
