package system

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/stochsafe/barricade/internal/geom"
)

// Image is the one-step forward image of a region under the dynamics,
// carried in the three forms the probability engine consumes: the exact
// vertex form, a half-space form, and the axis-aligned bounding box.
//
// HExact records whether H describes the image itself or only an outer box.
// An outer H-form is still sound for upper bounding (a maximum over a
// superset can only be larger) but callers that want tight bounds prefer the
// vertex form when HExact is false.
type Image struct {
	V      geom.VPolytope
	H      geom.HPolytope
	Box    geom.Hyperrectangle
	HExact bool
}

// System is the dynamics abstraction shared by the linear and the uncertain
// piecewise-affine variants. Post maps source region j through one step of
// the (noise-free) dynamics; the Gaussian noise is applied afterwards by the
// transition kernel.
type System interface {
	Dim() int
	NoiseSigma() []float64
	SafeSet() geom.Hyperrectangle
	Post(j int, x geom.Hyperrectangle) (Image, error)
}

func validateSigma(sigma []float64, dim int) error {
	if len(sigma) != dim {
		return fmt.Errorf("system: sigma has %d entries, want %d", len(sigma), dim)
	}
	for i, s := range sigma {
		if !(s > 0) {
			return fmt.Errorf("system: sigma[%d] = %g, must be positive", i, s)
		}
	}
	return nil
}

// exactHForm derives the half-space form of the affine image of a box when
// the map is invertible: C x <= d under x = Ainv (y - b) becomes
// (C Ainv) y <= d + (C Ainv) b.
func exactHForm(box geom.Hyperrectangle, ainv *mat.Dense, b []float64) geom.HPolytope {
	hp := box.ToHPolytope()
	rows, dim := hp.A.Dims()
	a := mat.NewDense(rows, dim, nil)
	a.Mul(hp.A, ainv)
	rhs := make([]float64, rows)
	for i := 0; i < rows; i++ {
		s := hp.B[i]
		for j := 0; j < dim; j++ {
			s += a.At(i, j) * b[j]
		}
		rhs[i] = s
	}
	return geom.HPolytope{A: a, B: rhs}
}
