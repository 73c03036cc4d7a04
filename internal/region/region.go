package region

import (
	"fmt"

	"github.com/stochsafe/barricade/internal/geom"
)

// Region is one axis-aligned cell of the state-space partition.
type Region struct {
	Index int
	Box   geom.Hyperrectangle
}

// WithProbabilities pairs a region with its interval-valued transition
// probabilities toward every region plus the unsafe tail. Lower and Upper
// have length N+1; index N is the tail. Values are read-only once built:
// sharpening backends construct fresh instances instead of mutating.
type WithProbabilities struct {
	Region
	Lower []float64
	Upper []float64
}

// TailIndex returns the logical index of the unsafe tail in the probability
// vectors.
func (r WithProbabilities) TailIndex() int { return len(r.Lower) - 1 }

// sumTolerance absorbs floating-point drift in the column-sum invariants.
const sumTolerance = 1e-6

// Validate checks the interval invariants: 0 <= lo <= up <= 1 per entry,
// joint lower mass at most one, joint upper mass at least one.
func (r WithProbabilities) Validate() error {
	if len(r.Lower) != len(r.Upper) {
		return fmt.Errorf("region %d: lower has %d entries, upper %d", r.Index, len(r.Lower), len(r.Upper))
	}
	sumLo, sumUp := 0.0, 0.0
	for i := range r.Lower {
		lo, up := r.Lower[i], r.Upper[i]
		if lo < 0 || up > 1 || lo > up+sumTolerance {
			return fmt.Errorf("region %d: bad interval [%g, %g] at target %d", r.Index, lo, up, i)
		}
		sumLo += lo
		sumUp += up
	}
	if sumLo > 1+sumTolerance {
		return fmt.Errorf("region %d: joint lower bound %g exceeds one", r.Index, sumLo)
	}
	if sumUp < 1-sumTolerance {
		return fmt.Errorf("region %d: joint upper bound %g below one", r.Index, sumUp)
	}
	return nil
}

// UniformPartition splits the space into a regular grid with counts[i] cells
// along coordinate i, ordered with the first coordinate varying fastest.
func UniformPartition(space geom.Hyperrectangle, counts []int) ([]Region, error) {
	m := space.Dim()
	if len(counts) != m {
		return nil, fmt.Errorf("region: %d counts for dimension %d", len(counts), m)
	}
	total := 1
	for i, c := range counts {
		if c <= 0 {
			return nil, fmt.Errorf("region: counts[%d] = %d, must be positive", i, c)
		}
		total *= c
	}

	width := make([]float64, m)
	for i := 0; i < m; i++ {
		width[i] = (space.High[i] - space.Low[i]) / float64(counts[i])
	}

	regions := make([]Region, 0, total)
	idx := make([]int, m)
	for k := 0; k < total; k++ {
		low := make([]float64, m)
		high := make([]float64, m)
		for i := 0; i < m; i++ {
			low[i] = space.Low[i] + float64(idx[i])*width[i]
			high[i] = low[i] + width[i]
		}
		// Snap the outer faces to the space bounds so the tiling is exact.
		for i := 0; i < m; i++ {
			if idx[i] == counts[i]-1 {
				high[i] = space.High[i]
			}
		}
		regions = append(regions, Region{Index: k, Box: geom.Hyperrectangle{Low: low, High: high}})

		for i := 0; i < m; i++ {
			idx[i]++
			if idx[i] < counts[i] {
				break
			}
			idx[i] = 0
		}
	}
	return regions, nil
}

// UpdateRegions rebuilds the region list with sharpened probability
// intervals. Shapes must match the originals; the input slice is untouched.
func UpdateRegions(regions []WithProbabilities, lower, upper [][]float64) ([]WithProbabilities, error) {
	if len(lower) != len(regions) || len(upper) != len(regions) {
		return nil, fmt.Errorf("region: update with %d/%d columns for %d regions", len(lower), len(upper), len(regions))
	}
	out := make([]WithProbabilities, len(regions))
	for j := range regions {
		if len(lower[j]) != len(regions[j].Lower) || len(upper[j]) != len(regions[j].Upper) {
			return nil, fmt.Errorf("region %d: update vector length mismatch", j)
		}
		out[j] = WithProbabilities{
			Region: regions[j].Region,
			Lower:  append([]float64(nil), lower[j]...),
			Upper:  append([]float64(nil), upper[j]...),
		}
		if err := out[j].Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
