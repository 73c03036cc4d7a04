package transition

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/geom"
	"github.com/stochsafe/barricade/internal/region"
	"github.com/stochsafe/barricade/internal/system"
)

// scalarSystem is the 1-D contraction x' = 0.95 x + w over [-1, 1].
func scalarSystem(t *testing.T, sigma float64) (*system.Linear, []region.Region) {
	t.Helper()
	safe := geom.MustHyperrectangle([]float64{-1}, []float64{1})
	sys, err := system.NewLinear(mat.NewDense(1, 1, []float64{0.95}), []float64{0}, []float64{sigma}, safe)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	regions, err := region.UniformPartition(safe, []int{5})
	if err != nil {
		t.Fatalf("UniformPartition: %v", err)
	}
	return sys, regions
}

func computeWith(t *testing.T, cfg config.Config, sys system.System, regions []region.Region) (*SparseMatrix, *SparseMatrix) {
	t.Helper()
	eng, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	lower, upper, err := eng.Compute(context.Background(), sys, regions)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	return lower, upper
}

func checkColumnInvariants(t *testing.T, lower, upper *SparseMatrix) {
	t.Helper()
	for j := 0; j < lower.NumCols; j++ {
		if s := lower.ColSum(j); s > 1+1e-6 {
			t.Errorf("column %d: lower sum %g exceeds one", j, s)
		}
		if s := upper.ColSum(j); s < 1-1e-6 {
			t.Errorf("column %d: upper sum %g below one", j, s)
		}
		for i := 0; i < lower.NumRows; i++ {
			lo, up := lower.At(i, j), upper.At(i, j)
			if lo < 0 || up > 1 || lo > up+1e-12 {
				t.Errorf("entry (%d,%d): interval [%g, %g] invalid", i, j, lo, up)
			}
			if up == 0 && lo != 0 {
				t.Errorf("entry (%d,%d): zero upper with nonzero lower %g", i, j, lo)
			}
		}
	}
}

func TestComputeScalarContraction(t *testing.T) {
	sys, regions := scalarSystem(t, 0.01)

	for _, method := range []config.UpperBoundMethod{config.BoxApproximation, config.FrankWolfe, config.GlobalSolver} {
		t.Run(string(method), func(t *testing.T) {
			cfg := config.Default()
			cfg.UpperBound = method
			lower, upper := computeWith(t, cfg, sys, regions)
			checkColumnInvariants(t, lower, upper)

			// The middle region [-0.2, 0.2] maps to [-0.19, 0.19] with
			// sigma far below the cell width. The vertex minimum sits at
			// 0.19, one cell-edge sigma inside, giving about 0.84.
			if lo := lower.At(2, 2); lo < 0.8 {
				t.Errorf("self-transition lower bound %g, want > 0.8", lo)
			}
			// The tail of the middle column is negligible.
			if up := upper.At(5, 2); up > 1e-6 {
				t.Errorf("middle-region unsafe upper bound %g, want ~0", up)
			}
			// Edge region 0 = [-1, -0.6] maps to [-0.95, -0.57]: some mass
			// can spill into the neighbor and essentially none two cells
			// over.
			if up := upper.At(1, 0); up <= 0 {
				t.Error("edge region should reach its neighbor")
			}
			if up := upper.At(4, 0); up > 1e-9 {
				t.Errorf("edge region reaches far cell with %g", up)
			}
		})
	}
}

func TestComputeMethodOrdering(t *testing.T) {
	// Tighter methods must not exceed the box bound.
	sys, regions := scalarSystem(t, 0.05)

	cfg := config.Default()
	cfg.UpperBound = config.BoxApproximation
	_, upBox := computeWith(t, cfg, sys, regions)

	cfg.UpperBound = config.FrankWolfe
	_, upFW := computeWith(t, cfg, sys, regions)

	cfg.UpperBound = config.GlobalSolver
	_, upGlobal := computeWith(t, cfg, sys, regions)

	for j := 0; j < upBox.NumCols; j++ {
		for i := 0; i < upBox.NumRows; i++ {
			box := upBox.At(i, j)
			if fw := upFW.At(i, j); fw > box+1e-9 {
				t.Errorf("(%d,%d): frank-wolfe bound %g above box bound %g", i, j, fw, box)
			}
			if g := upGlobal.At(i, j); g > box+1e-9 {
				t.Errorf("(%d,%d): global bound %g above box bound %g", i, j, g, box)
			}
		}
	}
}

func TestComputeDeterministicAcrossWorkers(t *testing.T) {
	sys, regions := scalarSystem(t, 0.05)
	cfg := config.Default()
	cfg.UpperBound = config.FrankWolfe

	cfg.Workers = 1
	lo1, up1 := computeWith(t, cfg, sys, regions)
	cfg.Workers = 4
	lo4, up4 := computeWith(t, cfg, sys, regions)

	for j := 0; j < lo1.NumCols; j++ {
		for i := 0; i < lo1.NumRows; i++ {
			if lo1.At(i, j) != lo4.At(i, j) {
				t.Errorf("lower (%d,%d) differs across worker counts", i, j)
			}
			if up1.At(i, j) != up4.At(i, j) {
				t.Errorf("upper (%d,%d) differs across worker counts", i, j)
			}
		}
	}
}

func TestComputeSparsityCutoff(t *testing.T) {
	cfg := config.Default()
	cfg.UpperBound = config.BoxApproximation
	cfg.SparsityEps = 1e-6

	safe := geom.MustHyperrectangle([]float64{-1}, []float64{1})
	regions, err := region.UniformPartition(safe, []int{20})
	if err != nil {
		t.Fatalf("UniformPartition: %v", err)
	}

	density := func(sigma float64) float64 {
		sys, err := system.NewLinear(mat.NewDense(1, 1, []float64{1}), []float64{0}, []float64{sigma}, safe)
		if err != nil {
			t.Fatalf("NewLinear: %v", err)
		}
		_, upper := computeWith(t, cfg, sys, regions)
		return upper.Density()
	}

	wide := density(0.02)
	narrow := density(0.01)
	if narrow >= wide {
		t.Errorf("halving sigma should strictly decrease density: %g -> %g", wide, narrow)
	}
}

func TestComputeSigmaMonotonicity(t *testing.T) {
	// Wider noise spreads mass: self-transition maxima shrink and the
	// unsafe tail of the edge regions grows.
	cfg := config.Default()
	cfg.UpperBound = config.GlobalSolver

	sysNarrow, regions := scalarSystem(t, 0.05)
	sysWide, _ := scalarSystem(t, 0.2)

	_, upNarrow := computeWith(t, cfg, sysNarrow, regions)
	_, upWide := computeWith(t, cfg, sysWide, regions)

	for j := range regions {
		if w, n := upWide.At(j, j), upNarrow.At(j, j); w >= n {
			t.Errorf("region %d: self-transition upper bound %g did not shrink from %g", j, w, n)
		}
	}
	tail := len(regions)
	if w, n := upWide.At(tail, 0), upNarrow.At(tail, 0); w < n {
		t.Errorf("edge-region unsafe upper bound fell from %g to %g under wider noise", n, w)
	}
}

func TestComputeUnsafeHeavyEdges(t *testing.T) {
	// Three coarse regions with large noise: the edge regions leak a
	// substantial fraction of their mass out of [-1, 1].
	safe := geom.MustHyperrectangle([]float64{-1}, []float64{1})
	sys, err := system.NewLinear(mat.NewDense(1, 1, []float64{1}), []float64{0}, []float64{0.5}, safe)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	regions, err := region.UniformPartition(safe, []int{3})
	if err != nil {
		t.Fatalf("UniformPartition: %v", err)
	}

	cfg := config.Default()
	cfg.UpperBound = config.FrankWolfe
	lower, upper := computeWith(t, cfg, sys, regions)
	checkColumnInvariants(t, lower, upper)

	for _, j := range []int{0, 2} {
		if up := upper.At(3, j); up < 0.3 {
			t.Errorf("edge region %d unsafe upper bound %g, want >= 0.3", j, up)
		}
	}
}

func TestComputeCenterShortcut(t *testing.T) {
	// Identity dynamics: each region's image is itself, so the target
	// center lies in the image and the upper bound is the exact kernel
	// maximum there.
	safe := geom.MustHyperrectangle([]float64{-1}, []float64{1})
	sigma := 0.1
	sys, err := system.NewLinear(mat.NewDense(1, 1, []float64{1}), []float64{0}, []float64{sigma}, safe)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	regions, err := region.UniformPartition(safe, []int{4})
	if err != nil {
		t.Fatalf("UniformPartition: %v", err)
	}

	cfg := config.Default()
	cfg.UpperBound = config.GlobalSolver
	_, upper := computeWith(t, cfg, sys, regions)

	// T at the center of a cell of width 0.5 with sigma 0.1:
	// Phi(0.25/0.1) - Phi(-0.25/0.1).
	want := math.Erf(2.5/math.Sqrt2) // = Phi(2.5) - Phi(-2.5)
	for j := 0; j < 4; j++ {
		if got := upper.At(j, j); math.Abs(got-want) > 1e-9 {
			t.Errorf("self-transition upper (%d,%d) = %g, want center value %g", j, j, got, want)
		}
	}
}

func TestAttachProbabilities(t *testing.T) {
	sys, regions := scalarSystem(t, 0.05)
	cfg := config.Default()
	cfg.UpperBound = config.FrankWolfe
	lower, upper := computeWith(t, cfg, sys, regions)

	withProbs, err := AttachProbabilities(regions, lower, upper)
	if err != nil {
		t.Fatalf("AttachProbabilities: %v", err)
	}
	if len(withProbs) != len(regions) {
		t.Fatalf("got %d regions, want %d", len(withProbs), len(regions))
	}
	for j, r := range withProbs {
		if len(r.Lower) != len(regions)+1 {
			t.Fatalf("region %d has %d probability entries", j, len(r.Lower))
		}
		if err := r.Validate(); err != nil {
			t.Errorf("region %d: %v", j, err)
		}
		if r.TailIndex() != len(regions) {
			t.Errorf("region %d tail index %d", j, r.TailIndex())
		}
	}

	if _, err := AttachProbabilities(regions[:2], lower, upper); err == nil {
		t.Error("shape mismatch accepted")
	}
}
