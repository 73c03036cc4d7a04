package transition

import (
	"fmt"
	"sort"
)

// SparseMatrix is a column-major (CSC) probability matrix of shape
// (N+1) x N: one column per source region, logical row N is the unsafe
// tail. Columns are built independently (one sweep worker each) and
// assembled once at the end, so reads must not start before Finalize.
type SparseMatrix struct {
	NumRows int
	NumCols int

	colPtr []int
	rowIdx []int
	values []float64
}

// Entry is one stored coefficient of a column.
type Entry struct {
	Row   int
	Value float64
}

// Builder accumulates per-column entries. SetColumn is safe to call from
// concurrent workers as long as every column is written by exactly one
// worker.
type Builder struct {
	rows int
	cols [][]Entry
}

// NewBuilder creates a builder for a rows x cols matrix.
func NewBuilder(rows, cols int) *Builder {
	return &Builder{rows: rows, cols: make([][]Entry, cols)}
}

// SetColumn records the entries of column j. Entries need not be sorted;
// zero values may be included and are kept (an explicit zero is meaningful
// for the lower matrix when the paired upper entry is nonzero).
func (b *Builder) SetColumn(j int, entries []Entry) {
	b.cols[j] = entries
}

// Finalize assembles the CSC arrays. Entries are sorted by row within each
// column; out-of-range rows are rejected.
func (b *Builder) Finalize() (*SparseMatrix, error) {
	nnz := 0
	for _, c := range b.cols {
		nnz += len(c)
	}
	m := &SparseMatrix{
		NumRows: b.rows,
		NumCols: len(b.cols),
		colPtr:  make([]int, len(b.cols)+1),
		rowIdx:  make([]int, 0, nnz),
		values:  make([]float64, 0, nnz),
	}
	for j, c := range b.cols {
		sort.Slice(c, func(a, b int) bool { return c[a].Row < c[b].Row })
		for k, e := range c {
			if e.Row < 0 || e.Row >= b.rows {
				return nil, fmt.Errorf("transition: column %d entry row %d out of range [0, %d)", j, e.Row, b.rows)
			}
			if k > 0 && c[k-1].Row == e.Row {
				return nil, fmt.Errorf("transition: column %d has duplicate row %d", j, e.Row)
			}
			m.rowIdx = append(m.rowIdx, e.Row)
			m.values = append(m.values, e.Value)
		}
		m.colPtr[j+1] = len(m.rowIdx)
	}
	return m, nil
}

// NNZ returns the number of stored entries.
func (m *SparseMatrix) NNZ() int { return len(m.values) }

// Density is NNZ over the full matrix size.
func (m *SparseMatrix) Density() float64 {
	if m.NumRows == 0 || m.NumCols == 0 {
		return 0
	}
	return float64(m.NNZ()) / float64(m.NumRows*m.NumCols)
}

// At returns the (i, j) coefficient, zero when not stored.
func (m *SparseMatrix) At(i, j int) float64 {
	lo, hi := m.colPtr[j], m.colPtr[j+1]
	k := lo + sort.SearchInts(m.rowIdx[lo:hi], i)
	if k < hi && m.rowIdx[k] == i {
		return m.values[k]
	}
	return 0
}

// Col returns the stored rows and values of column j. The slices alias the
// matrix storage and must not be modified.
func (m *SparseMatrix) Col(j int) ([]int, []float64) {
	lo, hi := m.colPtr[j], m.colPtr[j+1]
	return m.rowIdx[lo:hi], m.values[lo:hi]
}

// DenseCol expands column j into dst, which must have length NumRows.
func (m *SparseMatrix) DenseCol(j int, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	rows, vals := m.Col(j)
	for k, r := range rows {
		dst[r] = vals[k]
	}
}

// ColSum returns the sum of column j.
func (m *SparseMatrix) ColSum(j int) float64 {
	_, vals := m.Col(j)
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s
}
