package transition

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/geom"
	"github.com/stochsafe/barricade/internal/kernel"
	"github.com/stochsafe/barricade/internal/system"
)

// upperBounder computes a certified upper bound of the transition kernel
// over an image polytope. It is the single dispatch point over the
// configured strategy; every path is clamped by the box bound afterwards,
// which is an exact maximum over a superset and therefore always sound.
type upperBounder struct {
	method config.UpperBoundMethod
	fwIter int
	fwEps  float64

	fallbacks func() // invoked when the global solver degrades to the box bound
}

// boxBound maximizes T over the bounding box of the image: clamp the target
// center into the box and evaluate. Exact for the box, loose for the
// polytope inside it.
func boxBound(tr *kernel.Transition, box geom.Hyperrectangle) float64 {
	y := geom.ProjectOntoHyperrect(box, tr.Center())
	return tr.Prob(y)
}

// Max returns an upper bound of T over the image. The center shortcut fires
// only when the half-space form is exact, because membership in an outer box
// does not certify membership in the image itself.
func (u *upperBounder) Max(tr *kernel.Transition, img system.Image) float64 {
	center := tr.Center()
	if img.HExact && img.H.Contains(center, 1e-12) {
		return tr.Prob(center)
	}

	box := boxBound(tr, img.Box)
	switch u.method {
	case config.BoxApproximation:
		return box
	case config.FrankWolfe:
		fw := u.frankWolfe(tr, img.V)
		return math.Min(fw, box)
	default: // config.GlobalSolver
		g, ok := u.global(tr, img)
		if !ok {
			if u.fallbacks != nil {
				u.fallbacks()
			}
			return box
		}
		return math.Min(g, box)
	}
}

// frankWolfe runs conditional gradient on log T over the vertex form with
// the 8/(k+8) step rule. The dual gap at an iterate upper-bounds the remaining
// suboptimality of the concave objective, so exp(logT + gap) at that iterate
// is certified; the smallest such bound over the iterates is returned.
func (u *upperBounder) frankWolfe(tr *kernel.Transition, v geom.VPolytope) float64 {
	m := tr.Dim()
	x := append([]float64(nil), geom.L2ClosestPoint(v, tr.Center(), 200, 1e-12)...)
	grad := make([]float64, m)
	bound := math.Inf(1)
	for k := 0; k < u.fwIter; k++ {
		tr.GradLogProb(x, grad)
		s := argmaxInner(v.Vertices, grad)
		gap := 0.0
		for i := 0; i < m; i++ {
			gap += grad[i] * (s[i] - x[i])
		}
		if b := tr.LogProb(x) + math.Max(gap, 0); b < bound {
			bound = b
		}
		if gap < u.fwEps {
			break
		}
		gamma := 8.0 / float64(k+8)
		for i := 0; i < m; i++ {
			x[i] += gamma * (s[i] - x[i])
		}
	}
	return math.Exp(bound)
}

// global maximizes log T over the half-space image by a short log-barrier
// continuation solved with L-BFGS. The start is the L2-closest vertex-form
// point to the target center pulled strictly inside, so runs are
// deterministic. The reported bound carries the barrier duality slack
// mu * rows; non-convergence returns ok = false and the caller falls back
// to the box bound.
func (u *upperBounder) global(tr *kernel.Transition, img system.Image) (float64, bool) {
	m := tr.Dim()
	rows := img.H.NumRows()

	start := interiorStart(img, tr.Center())
	if start == nil {
		return 0, false
	}

	x := append([]float64(nil), start...)
	mus := []float64{1e-3, 1e-6, 1e-9}
	for _, mu := range mus {
		problem := optimize.Problem{
			Func: func(y []float64) float64 {
				val := -tr.LogProb(y)
				for i := 0; i < rows; i++ {
					slack := img.H.B[i]
					for j := 0; j < m; j++ {
						slack -= img.H.A.At(i, j) * y[j]
					}
					if slack <= 0 {
						return math.Inf(1)
					}
					val -= mu * math.Log(slack)
				}
				return val
			},
			Grad: func(grad, y []float64) {
				tr.GradLogProb(y, grad)
				for j := 0; j < m; j++ {
					grad[j] = -grad[j]
				}
				for i := 0; i < rows; i++ {
					slack := img.H.B[i]
					for j := 0; j < m; j++ {
						slack -= img.H.A.At(i, j) * y[j]
					}
					if slack <= 0 {
						continue
					}
					for j := 0; j < m; j++ {
						grad[j] += mu * img.H.A.At(i, j) / slack
					}
				}
			},
		}
		settings := &optimize.Settings{
			GradientThreshold: 1e-10,
			MajorIterations:   500,
		}
		res, err := optimize.Minimize(problem, x, settings, &optimize.LBFGS{})
		if err != nil || res == nil {
			return 0, false
		}
		finite := true
		for _, v := range res.X {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
				break
			}
		}
		if !finite || !img.H.Contains(res.X, 1e-9) {
			return 0, false
		}
		x = res.X
	}

	muFinal := mus[len(mus)-1]
	return math.Exp(tr.LogProb(x) + muFinal*float64(rows)), true
}

// interiorStart pulls the L2-closest point toward the vertex centroid until
// it is strictly feasible for the half-space form. Returns nil when no
// strictly interior point is found, which happens for degenerate images.
func interiorStart(img system.Image, target []float64) []float64 {
	m := len(target)
	closest := geom.L2ClosestPoint(img.V, target, 200, 1e-12)

	centroid := make([]float64, m)
	for _, v := range img.V.Vertices {
		for i := 0; i < m; i++ {
			centroid[i] += v[i]
		}
	}
	for i := 0; i < m; i++ {
		centroid[i] /= float64(len(img.V.Vertices))
	}

	x := make([]float64, m)
	for _, lambda := range []float64{0.99, 0.9, 0.5, 0.0} {
		for i := 0; i < m; i++ {
			x[i] = lambda*closest[i] + (1-lambda)*centroid[i]
		}
		if strictlyInterior(img.H, x) {
			return x
		}
	}
	return nil
}

func strictlyInterior(h geom.HPolytope, x []float64) bool {
	rows, cols := h.A.Dims()
	for i := 0; i < rows; i++ {
		s := 0.0
		for j := 0; j < cols; j++ {
			s += h.A.At(i, j) * x[j]
		}
		if s >= h.B[i] {
			return false
		}
	}
	return rows > 0
}

// argmaxInner returns the vertex maximizing <g, v>.
func argmaxInner(vertices [][]float64, g []float64) []float64 {
	best := math.Inf(-1)
	var arg []float64
	for _, v := range vertices {
		s := 0.0
		for i := range g {
			s += g[i] * v[i]
		}
		if s > best {
			best = s
			arg = v
		}
	}
	return arg
}
