package system

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/stochsafe/barricade/internal/geom"
)

// Linear is the single-map Gaussian system x' = A x + b + w with
// per-coordinate noise w_i ~ N(0, sigma_i^2), defined over a safe set.
type Linear struct {
	A     *mat.Dense
	B     []float64
	Sigma []float64
	Safe  geom.Hyperrectangle

	ainv *mat.Dense
}

// NewLinear validates shapes and noise positivity. A singular A is accepted;
// the image half-space form then degrades to the bounding box of the
// (collapsed) vertex image.
func NewLinear(a *mat.Dense, b, sigma []float64, safe geom.Hyperrectangle) (*Linear, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("system: dynamics matrix is %dx%d, want square", r, c)
	}
	if len(b) != r {
		return nil, fmt.Errorf("system: offset has %d entries, want %d", len(b), r)
	}
	if safe.Dim() != r {
		return nil, fmt.Errorf("system: safe set dimension %d, dynamics dimension %d", safe.Dim(), r)
	}
	if err := validateSigma(sigma, r); err != nil {
		return nil, err
	}

	sys := &Linear{A: a, B: b, Sigma: sigma, Safe: safe}
	var inv mat.Dense
	if err := inv.Inverse(a); err == nil {
		sys.ainv = &inv
	}
	return sys, nil
}

// Dim returns the state dimension.
func (s *Linear) Dim() int { r, _ := s.A.Dims(); return r }

// NoiseSigma returns the per-coordinate noise standard deviations.
func (s *Linear) NoiseSigma() []float64 { return s.Sigma }

// SafeSet returns the safe set.
func (s *Linear) SafeSet() geom.Hyperrectangle { return s.Safe }

// Post returns the affine image of x. The source index is ignored: a linear
// system has one map everywhere.
func (s *Linear) Post(_ int, x geom.Hyperrectangle) (Image, error) {
	v := geom.AffineMap(s.A, geom.VPolytope{Vertices: x.Vertices()}, s.B)
	box := geom.BoxApproximation(v)
	img := Image{V: v, Box: box}
	if s.ainv != nil {
		img.H = exactHForm(x, s.ainv, s.B)
		img.HExact = true
	} else {
		img.H = box.ToHPolytope()
	}
	return img, nil
}
