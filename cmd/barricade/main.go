package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stochsafe/barricade/internal/barrier"
	"github.com/stochsafe/barricade/internal/config"
	"github.com/stochsafe/barricade/internal/geom"
	"github.com/stochsafe/barricade/internal/lpsolve"
	"github.com/stochsafe/barricade/internal/metrics"
	"github.com/stochsafe/barricade/internal/transition"
	"github.com/stochsafe/barricade/pkg/otel"
)

// Exit codes: 0 success, 1 solver failure or infeasible certificate,
// 2 bad input or configuration.
const (
	exitOK     = 0
	exitSolver = 1
	exitInput  = 2
)

type app struct {
	cfg config.Config
	met *metrics.Metrics

	// Flags not mirrored in config.
	initialBox  string
	obstacleBox string
	metricsAddr string
	traceTarget string

	tracer *sdktrace.TracerProvider
}

func main() {
	a := &app{cfg: config.FromEnv(), met: metrics.New()}
	root := a.rootCmd()
	if err := root.Execute(); err != nil {
		log.Printf("barricade: %v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, barrier.ErrInfeasible),
		errors.Is(err, lpsolve.ErrInfeasible),
		errors.Is(err, lpsolve.ErrUnbounded),
		errors.Is(err, transition.ErrUnsafeSystem):
		return exitSolver
	default:
		return exitInput
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "barricade",
		Short:         "Stochastic barrier certificate synthesis",
		Long:          "barricade bounds transition probabilities of partitioned stochastic systems\nand synthesizes piecewise-constant barrier certificates over them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if a.metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(a.metricsAddr, mux); err != nil {
						log.Printf("metrics endpoint: %v", err)
					}
				}()
			}
			if a.traceTarget != "" {
				tc := otel.DefaultConfig("barricade")
				tc.CollectorEndpoint = a.traceTarget
				tp, err := otel.InitTracer(cmd.Context(), tc)
				if err != nil {
					return err
				}
				a.tracer = tp
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.tracer != nil {
				if err := otel.Shutdown(context.Background(), a.tracer); err != nil {
					log.Printf("trace shutdown: %v", err)
				}
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar((*string)(&a.cfg.UpperBound), "upper-bound", string(a.cfg.UpperBound), "upper bound method: box, global or frank-wolfe")
	pf.IntVar(&a.cfg.FWNumIter, "fw-iter", a.cfg.FWNumIter, "frank-wolfe iteration cap")
	pf.Float64Var(&a.cfg.FWTermEps, "fw-eps", a.cfg.FWTermEps, "frank-wolfe termination tolerance")
	pf.Float64Var(&a.cfg.SparsityEps, "sparsity-eps", a.cfg.SparsityEps, "transition mass cutoff for sparsification")
	pf.IntVar(&a.cfg.TimeHorizon, "horizon", a.cfg.TimeHorizon, "time horizon N in the eta + N*beta bound")
	pf.Float64Var(&a.cfg.Eps, "eps", a.cfg.Eps, "floor for barrier decision variables")
	pf.StringVar((*string)(&a.cfg.Algorithm), "algorithm", string(a.cfg.Algorithm), "synthesis backend: constant, dual, iterative, frank_wolfe, gradient_descent")
	pf.IntVar(&a.cfg.Workers, "workers", a.cfg.Workers, "parallel sweep width, 0 = GOMAXPROCS")
	pf.IntVar(&a.cfg.VertexCacheSize, "vertex-cache", a.cfg.VertexCacheSize, "vertex enumeration cache entries")
	pf.IntVar(&a.cfg.MaxOuterIter, "max-outer-iter", a.cfg.MaxOuterIter, "iterative backend outer-loop cap")
	pf.StringVar(&a.metricsAddr, "metrics-addr", getEnv("BARRICADE_METRICS_ADDR", ""), "serve Prometheus metrics on this address while running")
	pf.StringVar(&a.traceTarget, "trace-endpoint", getEnv("BARRICADE_TRACE_ENDPOINT", ""), "OTLP gRPC collector endpoint, empty disables tracing")

	root.AddCommand(a.probabilitiesCmd(), a.synthesizeCmd(), a.refineCmd(), a.certifyCmd())
	return root
}

// spec assembles the synthesis target sets from the --initial and
// --obstacle flags.
func (a *app) spec() (barrier.Spec, error) {
	var s barrier.Spec
	var err error
	if s.Initial, err = parseBox(a.initialBox); err != nil {
		return s, fmt.Errorf("flag --initial: %w", err)
	}
	if s.Obstacle, err = parseBox(a.obstacleBox); err != nil {
		return s, fmt.Errorf("flag --obstacle: %w", err)
	}
	return s, nil
}

func (a *app) addSpecFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.initialBox, "initial", "", "initial set as low1,..,lowm:high1,..,highm, empty means none")
	cmd.Flags().StringVar(&a.obstacleBox, "obstacle", "", "obstacle set as low1,..,lowm:high1,..,highm, empty means none")
}

// parseBox reads a hyperrectangle written as "low1,..,lowm:high1,..,highm".
// An empty string yields nil.
func parseBox(s string) (*geom.Hyperrectangle, error) {
	if s == "" {
		return nil, nil
	}
	halves := strings.Split(s, ":")
	if len(halves) != 2 {
		return nil, fmt.Errorf("box %q, want low1,..:high1,..", s)
	}
	low, err := parseFloats(halves[0])
	if err != nil {
		return nil, err
	}
	high, err := parseFloats(halves[1])
	if err != nil {
		return nil, err
	}
	box, err := geom.NewHyperrectangle(low, high)
	if err != nil {
		return nil, err
	}
	return &box, nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func reportCertificate(start time.Time, algorithm string, eta, beta, bound float64, horizon int) {
	log.Printf("algorithm=%s eta=%.6g beta=%.6g horizon=%d safety_bound=%.6g elapsed=%s",
		algorithm, eta, beta, horizon, bound, time.Since(start).Round(time.Millisecond))
	fmt.Printf("P(unsafe within %d steps) <= %.6g\n", horizon, bound)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
