package system

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/stochsafe/barricade/internal/geom"
)

// AffineDyn is one vertex of an uncertain affine map: x' = A x + B.
type AffineDyn struct {
	A *mat.Dense
	B []float64
}

// Piece pairs a partition cell with the vertices of its uncertain dynamics.
// The true map on the cell is an unknown convex combination of the vertex
// maps, so the forward image of a set is contained in the convex hull of the
// vertex-map images.
type Piece struct {
	Domain geom.Hyperrectangle
	Dyn    []AffineDyn
}

// UncertainPWA is the uncertain piecewise-affine Gaussian system: per-region
// vertex dynamics plus shared per-coordinate noise, defined over a safe set
// tiled by the piece domains.
type UncertainPWA struct {
	Pieces []Piece
	Sigma  []float64
	Safe   geom.Hyperrectangle
}

// coverageTol bounds the relative volume mismatch accepted between the safe
// set and the union of piece domains.
const coverageTol = 1e-6

// NewUncertainPWA validates shapes, noise, and the tiling: piece domains
// must have pairwise disjoint interiors and jointly cover the safe set
// (checked by volume, which suffices for axis-aligned tilings).
func NewUncertainPWA(pieces []Piece, sigma []float64, safe geom.Hyperrectangle) (*UncertainPWA, error) {
	if len(pieces) == 0 {
		return nil, fmt.Errorf("system: no pieces")
	}
	dim := safe.Dim()
	if err := validateSigma(sigma, dim); err != nil {
		return nil, err
	}

	totalVol := 0.0
	for j, p := range pieces {
		if p.Domain.Dim() != dim {
			return nil, fmt.Errorf("system: piece %d domain dimension %d, want %d", j, p.Domain.Dim(), dim)
		}
		if len(p.Dyn) == 0 {
			return nil, fmt.Errorf("system: piece %d has no dynamics vertices", j)
		}
		for k, d := range p.Dyn {
			r, c := d.A.Dims()
			if r != dim || c != dim {
				return nil, fmt.Errorf("system: piece %d dynamics %d matrix is %dx%d, want %dx%d", j, k, r, c, dim, dim)
			}
			if len(d.B) != dim {
				return nil, fmt.Errorf("system: piece %d dynamics %d offset has %d entries, want %d", j, k, len(d.B), dim)
			}
		}
		totalVol += p.Domain.Volume()
	}

	for j := range pieces {
		for k := j + 1; k < len(pieces); k++ {
			if overlapsInterior(pieces[j].Domain, pieces[k].Domain) {
				return nil, fmt.Errorf("system: pieces %d and %d have overlapping interiors", j, k)
			}
		}
	}

	safeVol := safe.Volume()
	if math.Abs(totalVol-safeVol) > coverageTol*math.Max(1, safeVol) {
		return nil, fmt.Errorf("system: piece domains cover volume %g, safe set has %g", totalVol, safeVol)
	}

	return &UncertainPWA{Pieces: pieces, Sigma: sigma, Safe: safe}, nil
}

func overlapsInterior(a, b geom.Hyperrectangle) bool {
	for i := range a.Low {
		if a.High[i] <= b.Low[i] || b.High[i] <= a.Low[i] {
			return false
		}
	}
	return true
}

// Dim returns the state dimension.
func (s *UncertainPWA) Dim() int { return s.Safe.Dim() }

// NoiseSigma returns the per-coordinate noise standard deviations.
func (s *UncertainPWA) NoiseSigma() []float64 { return s.Sigma }

// SafeSet returns the safe set.
func (s *UncertainPWA) SafeSet() geom.Hyperrectangle { return s.Safe }

// Post maps x through every dynamics vertex of piece j and returns the
// convex hull of the images in vertex form. The half-space form is exact
// only when the piece carries a single invertible map; otherwise it is the
// outer box, which keeps upper bounds sound.
func (s *UncertainPWA) Post(j int, x geom.Hyperrectangle) (Image, error) {
	if j < 0 || j >= len(s.Pieces) {
		return Image{}, fmt.Errorf("system: piece index %d out of range [0, %d)", j, len(s.Pieces))
	}
	p := s.Pieces[j]

	src := geom.VPolytope{Vertices: x.Vertices()}
	var all [][]float64
	for _, d := range p.Dyn {
		img := geom.AffineMap(d.A, src, d.B)
		all = append(all, img.Vertices...)
	}
	v := geom.VPolytope{Vertices: all}
	box := geom.BoxApproximation(v)

	img := Image{V: v, Box: box}
	if len(p.Dyn) == 1 {
		var inv mat.Dense
		if err := inv.Inverse(p.Dyn[0].A); err == nil {
			img.H = exactHForm(x, &inv, p.Dyn[0].B)
			img.HExact = true
			return img, nil
		}
	}
	img.H = box.ToHPolytope()
	return img, nil
}
