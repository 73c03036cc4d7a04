package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/stochsafe/barricade/internal/geom"
	"github.com/stochsafe/barricade/internal/region"
	"github.com/stochsafe/barricade/internal/system"
)

// Box is the on-disk low/high form of a hyperrectangle.
type Box struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

func (b Box) toGeom() (geom.Hyperrectangle, error) {
	return geom.NewHyperrectangle(b.Low, b.High)
}

func fromGeom(h geom.Hyperrectangle) Box {
	return Box{
		Low:  append([]float64(nil), h.Low...),
		High: append([]float64(nil), h.High...),
	}
}

// LinearDyn is one affine map x' = A x + b in row-major form.
type LinearDyn struct {
	A [][]float64 `json:"a"`
	B []float64   `json:"b"`
}

func (d LinearDyn) toDense(m int) (*mat.Dense, error) {
	if len(d.A) != m {
		return nil, fmt.Errorf("dataset: dynamics matrix has %d rows, want %d", len(d.A), m)
	}
	flat := make([]float64, 0, m*m)
	for i, row := range d.A {
		if len(row) != m {
			return nil, fmt.Errorf("dataset: dynamics matrix row %d has %d entries, want %d", i, len(row), m)
		}
		flat = append(flat, row...)
	}
	if len(d.B) != m {
		return nil, fmt.Errorf("dataset: dynamics offset has %d entries, want %d", len(d.B), m)
	}
	return mat.NewDense(m, m, flat), nil
}

// PWAPiece is one cell of an uncertain piecewise-affine system: its domain
// and the vertices of the uncertain map.
type PWAPiece struct {
	Domain   Box         `json:"domain"`
	Vertices []LinearDyn `json:"vertices"`
}

// SystemFile is the dynamics input bundle. Exactly one of Linear and PWA
// must be set. Partitions has shape N x 2 x m: per region its (low, high).
type SystemFile struct {
	Partitions [][][]float64 `json:"partitions"`
	NoiseSigma []float64     `json:"noise_sigma"`
	SafeSet    Box           `json:"safe_set"`
	Linear     *LinearDyn    `json:"linear,omitempty"`
	PWA        []PWAPiece    `json:"pwa,omitempty"`
}

func parsePartitions(parts [][][]float64) ([]region.Region, int, error) {
	if len(parts) == 0 {
		return nil, 0, fmt.Errorf("dataset: empty partitions")
	}
	if len(parts[0]) != 2 {
		return nil, 0, fmt.Errorf("dataset: partition 0 has %d bound rows, want 2", len(parts[0]))
	}
	m := len(parts[0][0])
	regions := make([]region.Region, len(parts))
	for j, p := range parts {
		if len(p) != 2 {
			return nil, 0, fmt.Errorf("dataset: partition %d has %d bound rows, want 2", j, len(p))
		}
		if len(p[0]) != m || len(p[1]) != m {
			return nil, 0, fmt.Errorf("dataset: partition %d has dimension %d/%d, want %d", j, len(p[0]), len(p[1]), m)
		}
		box, err := geom.NewHyperrectangle(p[0], p[1])
		if err != nil {
			return nil, 0, fmt.Errorf("dataset: partition %d: %w", j, err)
		}
		regions[j] = region.Region{Index: j, Box: box}
	}
	return regions, m, nil
}

func partitionsOf(regions []region.Region) [][][]float64 {
	out := make([][][]float64, len(regions))
	for j, r := range regions {
		out[j] = [][]float64{
			append([]float64(nil), r.Box.Low...),
			append([]float64(nil), r.Box.High...),
		}
	}
	return out
}

// LoadSystem reads and validates a dynamics bundle, returning the system and
// its partition.
func LoadSystem(path string) (system.System, []region.Region, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	var f SystemFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}

	regions, m, err := parsePartitions(f.Partitions)
	if err != nil {
		return nil, nil, err
	}
	safe, err := f.SafeSet.toGeom()
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: safe set: %w", err)
	}
	if safe.Dim() != m {
		return nil, nil, fmt.Errorf("dataset: safe set dimension %d, partitions %d", safe.Dim(), m)
	}

	switch {
	case f.Linear != nil && len(f.PWA) > 0:
		return nil, nil, fmt.Errorf("dataset: both linear and pwa dynamics present")
	case f.Linear != nil:
		a, err := f.Linear.toDense(m)
		if err != nil {
			return nil, nil, err
		}
		sys, err := system.NewLinear(a, f.Linear.B, f.NoiseSigma, safe)
		if err != nil {
			return nil, nil, err
		}
		return sys, regions, nil
	case len(f.PWA) > 0:
		pieces := make([]system.Piece, len(f.PWA))
		for j, p := range f.PWA {
			domain, err := p.Domain.toGeom()
			if err != nil {
				return nil, nil, fmt.Errorf("dataset: pwa piece %d domain: %w", j, err)
			}
			if len(p.Vertices) == 0 {
				return nil, nil, fmt.Errorf("dataset: pwa piece %d has no vertex dynamics", j)
			}
			dyn := make([]system.AffineDyn, len(p.Vertices))
			for k, v := range p.Vertices {
				a, err := v.toDense(m)
				if err != nil {
					return nil, nil, fmt.Errorf("dataset: pwa piece %d vertex %d: %w", j, k, err)
				}
				dyn[k] = system.AffineDyn{A: a, B: v.B}
			}
			pieces[j] = system.Piece{Domain: domain, Dyn: dyn}
		}
		sys, err := system.NewUncertainPWA(pieces, f.NoiseSigma, safe)
		if err != nil {
			return nil, nil, err
		}
		return sys, regions, nil
	default:
		return nil, nil, fmt.Errorf("dataset: no dynamics block in %s", path)
	}
}

// SparseColumn is one source region's probability column as index/value
// pairs. Index N addresses the unsafe tail and is always written explicitly.
type SparseColumn struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// ProbabilityFile is the probability bundle. Either the four dense blocks or
// the two sparse blocks must be present. Dense matrices have shape N x N
// indexed [to][from]; the unsafe vectors are indexed by source region.
type ProbabilityFile struct {
	Partitions            [][][]float64  `json:"partitions"`
	MatrixProbLower       [][]float64    `json:"matrix_prob_lower,omitempty"`
	MatrixProbUpper       [][]float64    `json:"matrix_prob_upper,omitempty"`
	MatrixProbUnsafeLower []float64      `json:"matrix_prob_unsafe_lower,omitempty"`
	MatrixProbUnsafeUpper []float64      `json:"matrix_prob_unsafe_upper,omitempty"`
	SparseProbLower       []SparseColumn `json:"sparse_prob_lower,omitempty"`
	SparseProbUpper       []SparseColumn `json:"sparse_prob_upper,omitempty"`
}

func (f *ProbabilityFile) dense() bool {
	return f.MatrixProbLower != nil || f.MatrixProbUpper != nil ||
		f.MatrixProbUnsafeLower != nil || f.MatrixProbUnsafeUpper != nil
}

func denseColumn(matrix [][]float64, unsafe []float64, name string, n, j int) ([]float64, error) {
	col := make([]float64, n+1)
	for i := 0; i < n; i++ {
		if len(matrix[i]) != n {
			return nil, fmt.Errorf("dataset: %s row %d has %d entries, want %d", name, i, len(matrix[i]), n)
		}
		col[i] = matrix[i][j]
	}
	col[n] = unsafe[j]
	return col, nil
}

func sparseColumn(c SparseColumn, name string, n, j int) ([]float64, error) {
	if len(c.Indices) != len(c.Values) {
		return nil, fmt.Errorf("dataset: %s column %d has %d indices for %d values", name, j, len(c.Indices), len(c.Values))
	}
	col := make([]float64, n+1)
	for k, idx := range c.Indices {
		if idx < 0 || idx > n {
			return nil, fmt.Errorf("dataset: %s column %d index %d out of range [0, %d]", name, j, idx, n)
		}
		col[idx] = c.Values[k]
	}
	return col, nil
}

// LoadProbabilities reads a probability bundle and rebuilds the regions with
// their interval probability vectors, validated per region.
func LoadProbabilities(path string) ([]region.WithProbabilities, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	var f ProbabilityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}

	regions, _, err := parsePartitions(f.Partitions)
	if err != nil {
		return nil, err
	}
	n := len(regions)

	var lower, upper [][]float64
	switch {
	case f.dense():
		if len(f.MatrixProbLower) != n || len(f.MatrixProbUpper) != n {
			return nil, fmt.Errorf("dataset: probability matrices have %d/%d rows, want %d", len(f.MatrixProbLower), len(f.MatrixProbUpper), n)
		}
		if len(f.MatrixProbUnsafeLower) != n || len(f.MatrixProbUnsafeUpper) != n {
			return nil, fmt.Errorf("dataset: unsafe vectors have %d/%d entries, want %d", len(f.MatrixProbUnsafeLower), len(f.MatrixProbUnsafeUpper), n)
		}
		lower = make([][]float64, n)
		upper = make([][]float64, n)
		for j := 0; j < n; j++ {
			if lower[j], err = denseColumn(f.MatrixProbLower, f.MatrixProbUnsafeLower, "matrix_prob_lower", n, j); err != nil {
				return nil, err
			}
			if upper[j], err = denseColumn(f.MatrixProbUpper, f.MatrixProbUnsafeUpper, "matrix_prob_upper", n, j); err != nil {
				return nil, err
			}
		}
	case len(f.SparseProbLower) > 0 || len(f.SparseProbUpper) > 0:
		if len(f.SparseProbLower) != n || len(f.SparseProbUpper) != n {
			return nil, fmt.Errorf("dataset: sparse blocks have %d/%d columns, want %d", len(f.SparseProbLower), len(f.SparseProbUpper), n)
		}
		lower = make([][]float64, n)
		upper = make([][]float64, n)
		for j := 0; j < n; j++ {
			if lower[j], err = sparseColumn(f.SparseProbLower[j], "sparse_prob_lower", n, j); err != nil {
				return nil, err
			}
			if upper[j], err = sparseColumn(f.SparseProbUpper[j], "sparse_prob_upper", n, j); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("dataset: no probability block in %s", path)
	}

	out := make([]region.WithProbabilities, n)
	for j := 0; j < n; j++ {
		out[j] = region.WithProbabilities{Region: regions[j], Lower: lower[j], Upper: upper[j]}
		if err := out[j].Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteProbabilities writes the probability bundle, densely or as sparse
// columns keeping only nonzero-upper targets plus the explicit tail slot.
func WriteProbabilities(path string, regions []region.WithProbabilities, sparse bool) error {
	n := len(regions)
	f := ProbabilityFile{}
	plain := make([]region.Region, n)
	for j := range regions {
		plain[j] = regions[j].Region
		if err := regions[j].Validate(); err != nil {
			return err
		}
		if len(regions[j].Lower) != n+1 {
			return fmt.Errorf("dataset: region %d has %d probability entries, want %d", j, len(regions[j].Lower), n+1)
		}
	}
	f.Partitions = partitionsOf(plain)

	if sparse {
		f.SparseProbLower = make([]SparseColumn, n)
		f.SparseProbUpper = make([]SparseColumn, n)
		for j := range regions {
			f.SparseProbLower[j] = toSparse(regions[j].Lower, regions[j].Upper)
			f.SparseProbUpper[j] = toSparse(regions[j].Upper, regions[j].Upper)
		}
	} else {
		f.MatrixProbLower = make([][]float64, n)
		f.MatrixProbUpper = make([][]float64, n)
		for i := 0; i < n; i++ {
			f.MatrixProbLower[i] = make([]float64, n)
			f.MatrixProbUpper[i] = make([]float64, n)
			for j := 0; j < n; j++ {
				f.MatrixProbLower[i][j] = regions[j].Lower[i]
				f.MatrixProbUpper[i][j] = regions[j].Upper[i]
			}
		}
		f.MatrixProbUnsafeLower = make([]float64, n)
		f.MatrixProbUnsafeUpper = make([]float64, n)
		for j := 0; j < n; j++ {
			f.MatrixProbUnsafeLower[j] = regions[j].Lower[n]
			f.MatrixProbUnsafeUpper[j] = regions[j].Upper[n]
		}
	}
	return writeJSON(path, &f)
}

// toSparse keeps the entries of vec whose upper bound is nonzero, plus the
// tail slot, indices ascending.
func toSparse(vec, upper []float64) SparseColumn {
	n := len(vec) - 1
	var c SparseColumn
	for i := 0; i < n; i++ {
		if upper[i] > 0 {
			c.Indices = append(c.Indices, i)
			c.Values = append(c.Values, vec[i])
		}
	}
	c.Indices = append(c.Indices, n)
	c.Values = append(c.Values, vec[n])
	return c
}

// SolutionFile is the synthesis output bundle.
type SolutionFile struct {
	Barrier       []float64 `json:"barrier"`
	Beta          float64   `json:"beta"`
	BetaPerRegion []float64 `json:"beta_per_region,omitempty"`
	Eta           float64   `json:"eta"`
	TimeHorizon   int       `json:"time_horizon"`
	SafetyBound   float64   `json:"safety_bound"`
}

// LoadSolution reads a synthesis output bundle.
func LoadSolution(path string) (*SolutionFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	var f SolutionFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	if len(f.Barrier) == 0 {
		return nil, fmt.Errorf("dataset: %s has no barrier vector", path)
	}
	if f.BetaPerRegion != nil && len(f.BetaPerRegion) != len(f.Barrier) {
		return nil, fmt.Errorf("dataset: %d per-region slacks for %d barrier values", len(f.BetaPerRegion), len(f.Barrier))
	}
	return &f, nil
}

// WriteSolution writes a synthesis output bundle.
func WriteSolution(path string, f *SolutionFile) error {
	if len(f.Barrier) == 0 {
		return fmt.Errorf("dataset: refusing to write empty barrier vector")
	}
	return writeJSON(path, f)
}

// WriteBarrierText writes the barrier vector as plain text, one value per
// line at full float64 precision.
func WriteBarrierText(path string, b []float64) error {
	var sb strings.Builder
	for _, v := range b {
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return nil
}
