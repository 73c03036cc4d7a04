package transition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/geom"
	"github.com/stochsafe/barricade/internal/kernel"
	"github.com/stochsafe/barricade/internal/metrics"
	"github.com/stochsafe/barricade/internal/region"
	"github.com/stochsafe/barricade/internal/system"
)

// ErrUnsafeSystem reports a column whose certified lower bounds already sum
// past one: either the system is inherently unsafe or the sparsity epsilon
// is too loose for the requested partition.
var ErrUnsafeSystem = errors.New("transition: joint lower probability bound exceeds one")

// columnTol absorbs floating-point drift in the per-column invariants.
const columnTol = 1e-6

// Engine computes interval transition probabilities between all region
// pairs of a partition, plus the unsafe tail, as two sparse matrices.
type Engine struct {
	cfg  config.Config
	met  *metrics.Metrics
	enum *geom.Enumerator
}

// NewEngine wires the engine with its configuration, metrics, and the
// shared vertex-enumeration cache.
func NewEngine(cfg config.Config, met *metrics.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if met == nil {
		met = metrics.Nop()
	}
	enum, err := geom.NewEnumerator(cfg.VertexCacheSize, 1e-9)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, met: met, enum: enum}, nil
}

// Compute sweeps all source regions in parallel and returns the lower and
// upper probability matrices of shape (N+1) x N, column j for source region
// j, logical row N for the unsafe tail.
func (e *Engine) Compute(ctx context.Context, sys system.System, regions []region.Region) (*SparseMatrix, *SparseMatrix, error) {
	n := len(regions)
	if n == 0 {
		return nil, nil, fmt.Errorf("transition: no regions")
	}
	sigma := sys.NoiseSigma()
	if len(sigma) != sys.Dim() {
		return nil, nil, fmt.Errorf("transition: sigma dimension %d, system dimension %d", len(sigma), sys.Dim())
	}
	for j, r := range regions {
		if r.Box.Dim() != sys.Dim() {
			return nil, nil, fmt.Errorf("transition: region %d has dimension %d, system %d", j, r.Box.Dim(), sys.Dim())
		}
	}

	start := time.Now()
	defer func() { e.met.SweepDuration.Observe(time.Since(start).Seconds()) }()

	// Search radius: beyond nSigma standard deviations per coordinate a
	// target cannot receive more than the sparsity epsilon of mass.
	nSigma := -distuv.UnitNormal.Quantile(e.cfg.SparsityEps)
	radius := make([]float64, len(sigma))
	for i, s := range sigma {
		radius[i] = s * nSigma
	}

	lowerB := NewBuilder(n+1, n)
	upperB := NewBuilder(n+1, n)

	var done atomic.Int64
	limiter := rate.NewLimiter(rate.Every(2*time.Second), 1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EffectiveWorkers())
	for j := 0; j < n; j++ {
		j := j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lo, up, err := e.column(sys, regions, j, radius)
			if err != nil {
				return fmt.Errorf("transition: source region %d: %w", j, err)
			}
			lowerB.SetColumn(j, lo)
			upperB.SetColumn(j, up)

			completed := done.Add(1)
			e.met.ColumnsComputed.Inc()
			if limiter.Allow() {
				log.Printf("transition sweep: %d/%d columns", completed, n)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	lower, err := lowerB.Finalize()
	if err != nil {
		return nil, nil, err
	}
	upper, err := upperB.Finalize()
	if err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}

// column computes the probability bounds of one source region toward every
// candidate target plus the unsafe tail. Targets are visited in increasing
// index order so results depend on the thread schedule only through
// floating-point associativity of independent columns, i.e. not at all.
func (e *Engine) column(sys system.System, regions []region.Region, j int, radius []float64) ([]Entry, []Entry, error) {
	n := len(regions)
	img, err := sys.Post(j, regions[j].Box)
	if err != nil {
		return nil, nil, err
	}
	if len(img.V.Vertices) == 0 {
		verts, err := e.enum.Vertices(img.H)
		if err != nil {
			return nil, nil, fmt.Errorf("image vertex enumeration: %w", err)
		}
		img.V = geom.VPolytope{Vertices: verts}
		img.Box = geom.BoxApproximation(img.V)
	}

	bounder := &upperBounder{
		method:    e.cfg.UpperBound,
		fwIter:    e.cfg.FWNumIter,
		fwEps:     e.cfg.FWTermEps,
		fallbacks: e.met.UpperBoundFallbacks.Inc,
	}
	sigma := sys.NoiseSigma()
	searchBox := img.Box.Inflate(radius)

	var lo, up []Entry
	kept := 0
	for i := 0; i < n; i++ {
		if !geom.MayIntersect(regions[i].Box, searchBox) {
			e.met.CandidatesPruned.Inc()
			continue
		}
		kept++
		e.met.CandidatesKept.Inc()

		tr, err := kernel.NewTransition(regions[i].Box.Low, regions[i].Box.High, sigma)
		if err != nil {
			return nil, nil, err
		}
		pLo, pUp := e.bounds(tr, img, bounder)
		if pUp <= 0 {
			continue
		}
		lo = append(lo, Entry{Row: i, Value: pLo})
		up = append(up, Entry{Row: i, Value: pUp})
	}

	// Unsafe tail: bound the probability of staying in the safe set and
	// complement it. Pruned targets may each hide up to the sparsity
	// epsilon of mass, which goes into the tail upper bound.
	safe := sys.SafeSet()
	trSafe, err := kernel.NewTransition(safe.Low, safe.High, sigma)
	if err != nil {
		return nil, nil, err
	}
	safeLo, safeUp := e.bounds(trSafe, img, bounder)
	if safeLo > 1+columnTol {
		return nil, nil, fmt.Errorf("%w: safe-set lower bound %g", ErrUnsafeSystem, safeLo)
	}
	tailLo := clip01(1 - safeUp)
	tailUp := clip01((1 - safeLo) + float64(n-kept)*e.cfg.SparsityEps)

	lo = append(lo, Entry{Row: n, Value: tailLo})
	up = append(up, Entry{Row: n, Value: tailUp})

	// Consistency: no target can receive more than one minus the certified
	// mass of everything else. Required after box-approximation upper
	// bounds, valid always.
	sumLo := 0.0
	for _, en := range lo {
		sumLo += en.Value
	}
	if sumLo > 1+columnTol {
		return nil, nil, fmt.Errorf("%w: lower bounds sum to %g", ErrUnsafeSystem, sumLo)
	}
	for k := range up {
		limit := (1 - sumLo) + lo[k].Value
		if up[k].Value > limit {
			up[k].Value = limit
		}
		if up[k].Value < lo[k].Value {
			lo[k].Value = up[k].Value
		}
	}

	sumUp := 0.0
	for _, en := range up {
		sumUp += en.Value
	}
	if sumUp < 1-columnTol {
		return nil, nil, fmt.Errorf("column upper bounds sum to %g, below one", sumUp)
	}
	return lo, up, nil
}

// bounds evaluates the lower and upper kernel bound over the image for one
// target. The minimum of a log-concave kernel over a polytope sits at a
// vertex, so the lower bound is a vertex scan; the upper bound goes through
// the configured strategy.
func (e *Engine) bounds(tr *kernel.Transition, img system.Image, bounder *upperBounder) (float64, float64) {
	minLog := math.Inf(1)
	for _, v := range img.V.Vertices {
		if lp := tr.LogProb(v); lp < minLog {
			minLog = lp
		}
	}
	pLo := math.Exp(minLog)
	pUp := math.Min(bounder.Max(tr, img), 1)
	if pUp < 0 {
		pUp = 0
	}
	if pLo > pUp {
		pLo = pUp
	}
	return pLo, pUp
}

func clip01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// AttachProbabilities pairs each region with its dense probability columns.
func AttachProbabilities(regions []region.Region, lower, upper *SparseMatrix) ([]region.WithProbabilities, error) {
	n := len(regions)
	if lower.NumCols != n || upper.NumCols != n || lower.NumRows != n+1 || upper.NumRows != n+1 {
		return nil, fmt.Errorf("transition: matrix shape (%dx%d, %dx%d) does not fit %d regions",
			lower.NumRows, lower.NumCols, upper.NumRows, upper.NumCols, n)
	}
	out := make([]region.WithProbabilities, n)
	for j := 0; j < n; j++ {
		lo := make([]float64, n+1)
		up := make([]float64, n+1)
		lower.DenseCol(j, lo)
		upper.DenseCol(j, up)
		out[j] = region.WithProbabilities{Region: regions[j], Lower: lo, Upper: up}
		if err := out[j].Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
