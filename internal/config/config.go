package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// UpperBoundMethod selects how the probability engine maximizes the
// transition kernel over an image polytope.
type UpperBoundMethod string

const (
	// BoxApproximation clamps the target center into the image box. Fast
	// and loose; always corrected by the consistency step afterwards.
	BoxApproximation UpperBoundMethod = "box"
	// GlobalSolver runs a concave maximization over the half-space image.
	GlobalSolver UpperBoundMethod = "global"
	// FrankWolfe runs conditional gradient on the negative log kernel.
	FrankWolfe UpperBoundMethod = "frank-wolfe"
)

// LowerBoundMethod selects the minimization strategy. Vertex enumeration is
// the only implemented method: a log-concave kernel attains its minimum over
// a polytope at a vertex, so enumerating vertices is exact.
type LowerBoundMethod string

// VertexEnumeration is the default (and only) lower-bound method.
const VertexEnumeration LowerBoundMethod = "vertex-enumeration"

// BarrierAlgorithm names a synthesis backend.
type BarrierAlgorithm string

const (
	AlgConstant        BarrierAlgorithm = "constant"
	AlgDualConstant    BarrierAlgorithm = "dual"
	AlgIterative       BarrierAlgorithm = "iterative"
	AlgFrankWolfe      BarrierAlgorithm = "frank_wolfe"
	AlgGradientDescent BarrierAlgorithm = "gradient_descent"
	AlgSOS             BarrierAlgorithm = "sos"
)

// Config is the flat configuration record shared by the CLI and both
// engines. Defaults come from Default; env vars override defaults; flags
// override env vars.
type Config struct {
	LowerBound LowerBoundMethod
	UpperBound UpperBoundMethod

	// FrankWolfe upper-bound parameters.
	FWNumIter int
	FWTermEps float64

	// SparsityEps prunes region pairs whose transition mass cannot exceed
	// it; also sets the search-box radius via the normal quantile.
	SparsityEps float64

	// TimeHorizon N weights beta in the eta + N*beta objective.
	TimeHorizon int

	// Eps floors decision variables away from zero.
	Eps float64

	Algorithm BarrierAlgorithm

	// Workers bounds the parallel sweep; 0 means GOMAXPROCS.
	Workers int

	// VertexCacheSize bounds the enumeration cache of the geometry kit.
	VertexCacheSize int

	// MaxOuterIter bounds the iterative backend's outer loop.
	MaxOuterIter int
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		LowerBound:      VertexEnumeration,
		UpperBound:      GlobalSolver,
		FWNumIter:       1000,
		FWTermEps:       1e-9,
		SparsityEps:     1e-12,
		TimeHorizon:     1,
		Eps:             1e-6,
		Algorithm:       AlgConstant,
		Workers:         0,
		VertexCacheSize: 4096,
		MaxOuterIter:    20,
	}
}

// FromEnv layers environment overrides on top of the defaults.
func FromEnv() Config {
	cfg := Default()
	cfg.UpperBound = UpperBoundMethod(getEnv("BARRICADE_UPPER_BOUND", string(cfg.UpperBound)))
	cfg.FWNumIter = getEnvInt("BARRICADE_FW_ITER", cfg.FWNumIter)
	cfg.FWTermEps = getEnvFloat("BARRICADE_FW_EPS", cfg.FWTermEps)
	cfg.SparsityEps = getEnvFloat("BARRICADE_SPARSITY_EPS", cfg.SparsityEps)
	cfg.TimeHorizon = getEnvInt("BARRICADE_TIME_HORIZON", cfg.TimeHorizon)
	cfg.Eps = getEnvFloat("BARRICADE_EPS", cfg.Eps)
	cfg.Algorithm = BarrierAlgorithm(getEnv("BARRICADE_ALGORITHM", string(cfg.Algorithm)))
	cfg.Workers = getEnvInt("BARRICADE_WORKERS", cfg.Workers)
	cfg.VertexCacheSize = getEnvInt("BARRICADE_VERTEX_CACHE", cfg.VertexCacheSize)
	cfg.MaxOuterIter = getEnvInt("BARRICADE_MAX_OUTER_ITER", cfg.MaxOuterIter)
	return cfg
}

// Validate rejects inconsistent settings before any work starts.
func (c Config) Validate() error {
	switch c.UpperBound {
	case BoxApproximation, GlobalSolver, FrankWolfe:
	default:
		return fmt.Errorf("config: unknown upper bound method %q", c.UpperBound)
	}
	if c.LowerBound != VertexEnumeration {
		return fmt.Errorf("config: unknown lower bound method %q", c.LowerBound)
	}
	switch c.Algorithm {
	case AlgConstant, AlgDualConstant, AlgIterative, AlgFrankWolfe, AlgGradientDescent, AlgSOS:
	default:
		return fmt.Errorf("config: unknown barrier algorithm %q", c.Algorithm)
	}
	if !(c.SparsityEps > 0 && c.SparsityEps < 1) {
		return fmt.Errorf("config: sparsity epsilon %g outside (0, 1)", c.SparsityEps)
	}
	if c.TimeHorizon < 1 {
		return fmt.Errorf("config: time horizon %d, must be at least 1", c.TimeHorizon)
	}
	if !(c.Eps > 0 && c.Eps < 0.5) {
		return fmt.Errorf("config: variable floor %g outside (0, 0.5)", c.Eps)
	}
	if c.FWNumIter <= 0 || c.FWTermEps <= 0 {
		return fmt.Errorf("config: frank-wolfe parameters iter=%d eps=%g", c.FWNumIter, c.FWTermEps)
	}
	if c.MaxOuterIter <= 0 {
		return fmt.Errorf("config: max outer iterations %d", c.MaxOuterIter)
	}
	return nil
}

// EffectiveWorkers resolves the worker count.
func (c Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
