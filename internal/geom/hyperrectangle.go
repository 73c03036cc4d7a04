package geom

import (
	"fmt"
	"math"
)

// Hyperrectangle is an axis-aligned box {x : Low <= x <= High} in R^m.
type Hyperrectangle struct {
	Low  []float64
	High []float64
}

// NewHyperrectangle validates the bounds and returns the box.
func NewHyperrectangle(low, high []float64) (Hyperrectangle, error) {
	if len(low) != len(high) {
		return Hyperrectangle{}, fmt.Errorf("hyperrectangle: dimension mismatch: %d vs %d", len(low), len(high))
	}
	if len(low) == 0 {
		return Hyperrectangle{}, fmt.Errorf("hyperrectangle: empty bounds")
	}
	for i := range low {
		if math.IsNaN(low[i]) || math.IsNaN(high[i]) {
			return Hyperrectangle{}, fmt.Errorf("hyperrectangle: NaN bound at coordinate %d", i)
		}
		if low[i] > high[i] {
			return Hyperrectangle{}, fmt.Errorf("hyperrectangle: low > high at coordinate %d: %g > %g", i, low[i], high[i])
		}
	}
	return Hyperrectangle{Low: low, High: high}, nil
}

// MustHyperrectangle is NewHyperrectangle that panics on invalid bounds.
func MustHyperrectangle(low, high []float64) Hyperrectangle {
	h, err := NewHyperrectangle(low, high)
	if err != nil {
		panic(err)
	}
	return h
}

// Dim returns the ambient dimension.
func (h Hyperrectangle) Dim() int { return len(h.Low) }

// Center returns the midpoint of the box.
func (h Hyperrectangle) Center() []float64 {
	c := make([]float64, h.Dim())
	for i := range c {
		c[i] = 0.5 * (h.Low[i] + h.High[i])
	}
	return c
}

// Radius returns the per-coordinate half-widths.
func (h Hyperrectangle) Radius() []float64 {
	r := make([]float64, h.Dim())
	for i := range r {
		r[i] = 0.5 * (h.High[i] - h.Low[i])
	}
	return r
}

// Contains reports whether p lies inside the box (boundary included).
func (h Hyperrectangle) Contains(p []float64) bool {
	if len(p) != h.Dim() {
		return false
	}
	for i := range p {
		if p[i] < h.Low[i] || p[i] > h.High[i] {
			return false
		}
	}
	return true
}

// Vertices enumerates the 2^m corners of the box.
func (h Hyperrectangle) Vertices() [][]float64 {
	m := h.Dim()
	n := 1 << uint(m)
	out := make([][]float64, 0, n)
	for mask := 0; mask < n; mask++ {
		v := make([]float64, m)
		for i := 0; i < m; i++ {
			if mask&(1<<uint(i)) != 0 {
				v[i] = h.High[i]
			} else {
				v[i] = h.Low[i]
			}
		}
		out = append(out, v)
	}
	return out
}

// Inflate returns the Minkowski sum of the box with [-r, r].
func (h Hyperrectangle) Inflate(r []float64) Hyperrectangle {
	low := make([]float64, h.Dim())
	high := make([]float64, h.Dim())
	for i := range low {
		low[i] = h.Low[i] - r[i]
		high[i] = h.High[i] + r[i]
	}
	return Hyperrectangle{Low: low, High: high}
}

// Volume returns the product of the side lengths.
func (h Hyperrectangle) Volume() float64 {
	v := 1.0
	for i := range h.Low {
		v *= h.High[i] - h.Low[i]
	}
	return v
}

// Equal reports componentwise equality of the bounds within tol.
func (h Hyperrectangle) Equal(other Hyperrectangle, tol float64) bool {
	if h.Dim() != other.Dim() {
		return false
	}
	for i := range h.Low {
		if math.Abs(h.Low[i]-other.Low[i]) > tol || math.Abs(h.High[i]-other.High[i]) > tol {
			return false
		}
	}
	return true
}

// IsDisjointRects is the exact interval test for two boxes.
func IsDisjointRects(a, b Hyperrectangle) bool {
	for i := range a.Low {
		if a.High[i] < b.Low[i] || b.High[i] < a.Low[i] {
			return true
		}
	}
	return false
}

// ProjectOntoHyperrect clamps p componentwise onto the box.
func ProjectOntoHyperrect(h Hyperrectangle, p []float64) []float64 {
	out := make([]float64, len(p))
	for i := range p {
		out[i] = math.Min(math.Max(p[i], h.Low[i]), h.High[i])
	}
	return out
}
