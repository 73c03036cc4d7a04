package geom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/stochsafe/barricade/internal/cache"
)

// VerticesList enumerates the vertices of a bounded H-polytope in the
// double-description style: every m-subset of active constraints is solved as
// a square linear system and the solution is kept when it satisfies all
// remaining rows within tol. Correctness is favored over numerical
// robustness; nearly parallel constraint subsets are skipped when the linear
// solve fails.
func VerticesList(p HPolytope, tol float64) ([][]float64, error) {
	n := p.NumRows()
	m := p.Dim()
	if m == 0 || n < m {
		return nil, fmt.Errorf("geom: polytope with %d rows in dimension %d cannot be bounded", n, m)
	}

	sub := mat.NewDense(m, m, nil)
	rhs := mat.NewVecDense(m, nil)
	var sol mat.VecDense

	seen := make(map[string]bool)
	var verts [][]float64

	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	for {
		for r, row := range idx {
			for c := 0; c < m; c++ {
				sub.Set(r, c, p.A.At(row, c))
			}
			rhs.SetVec(r, p.B[row])
		}
		if err := sol.SolveVec(sub, rhs); err == nil {
			x := make([]float64, m)
			for i := 0; i < m; i++ {
				x[i] = sol.AtVec(i)
			}
			if p.Contains(x, tol) {
				key := quantizeKey(x, tol)
				if !seen[key] {
					seen[key] = true
					verts = append(verts, x)
				}
			}
		}
		if !nextCombination(idx, n) {
			break
		}
	}

	if len(verts) == 0 {
		return nil, fmt.Errorf("geom: no vertices found, polytope empty or unbounded")
	}
	return verts, nil
}

func quantizeKey(x []float64, tol float64) string {
	scale := 1.0 / math.Max(tol, 1e-12)
	buf := make([]byte, 0, 8*len(x))
	var b [8]byte
	for _, v := range x {
		binary.LittleEndian.PutUint64(b[:], uint64(int64(math.Round(v*scale))))
		buf = append(buf, b[:]...)
	}
	return string(buf)
}

// nextCombination advances idx to the next m-subset of {0..n-1} in
// lexicographic order. Returns false after the last subset.
func nextCombination(idx []int, n int) bool {
	m := len(idx)
	for i := m - 1; i >= 0; i-- {
		if idx[i] < n-m+i {
			idx[i]++
			for j := i + 1; j < m; j++ {
				idx[j] = idx[j-1] + 1
			}
			return true
		}
	}
	return false
}

// Enumerator memoizes vertex enumerations keyed by a digest of the
// constraint system. A single Enumerator is shared by the sweep workers; the
// underlying cache is safe for concurrent use.
type Enumerator struct {
	cache *cache.LRUWithTTL[[32]byte, [][]float64]
	tol   float64
}

// NewEnumerator creates an Enumerator with a cache of the given size.
func NewEnumerator(cacheSize int, tol float64) (*Enumerator, error) {
	c, err := cache.NewLRUWithTTL[[32]byte, [][]float64](cacheSize, 0)
	if err != nil {
		return nil, err
	}
	return &Enumerator{cache: c, tol: tol}, nil
}

// Vertices returns the vertex list of p, from cache when available.
func (e *Enumerator) Vertices(p HPolytope) ([][]float64, error) {
	key := digest(p)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	v, err := VerticesList(p, e.tol)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, v)
	return v, nil
}

// Stats exposes the underlying cache counters.
func (e *Enumerator) Stats() cache.Stats { return e.cache.Stats() }

func digest(p HPolytope) [32]byte {
	h := sha256.New()
	r, c := p.A.Dims()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(r))
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(c))
	h.Write(b[:])
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(p.A.At(i, j)))
			h.Write(b[:])
		}
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(p.B[i]))
		h.Write(b[:])
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
