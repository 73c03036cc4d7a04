package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stochsafe/barricade/internal/barrier"
	"github.com/stochsafe/barricade/internal/certstore"
	"github.com/stochsafe/barricade/internal/dataset"
	"github.com/stochsafe/barricade/internal/transition"
	"github.com/stochsafe/barricade/pkg/otel"
)

func (a *app) certifyCmd() *cobra.Command {
	var (
		systemPath, outPath string
		backend             string
		snapshotPath        string
		redisAddr           string
		redisPassword       string
		redisDB             int
		postgresConn        string
		ttl                 time.Duration
	)

	cmd := &cobra.Command{
		Use:   "certify",
		Short: "Run the full pipeline with certificate-store idempotency",
		Long:  "certify bounds the transition probabilities, synthesizes a barrier and\nrefines its slack in one run. Results are keyed by the dataset bytes and\nthe certificate-relevant configuration, so an unchanged input is served\nfrom the store without solving.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			raw, err := os.ReadFile(systemPath)
			if err != nil {
				return fmt.Errorf("read system dataset: %w", err)
			}
			// The --initial and --obstacle sets change the certificate too, so
			// they are hashed along with the dataset bytes.
			keyed := append(append([]byte(nil), raw...), "|"+a.initialBox+"|"+a.obstacleBox...)
			key := certstore.Key(keyed, a.cfg)

			store, err := openStore(backend, snapshotPath, redisAddr, redisPassword, redisDB, postgresConn)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("close certificate store: %v", err)
				}
			}()

			ctx := cmd.Context()
			if cached, err := store.Get(ctx, key); err != nil {
				log.Printf("certificate store lookup: %v", err)
			} else if cached != nil {
				if err := writeCertificate(outPath, cached); err != nil {
					return err
				}
				log.Printf("served key %s from the store", key[:12])
				reportCertificate(start, cached.Algorithm, cached.Eta, cached.Beta, cached.SafetyBound, cached.TimeHorizon)
				return nil
			}

			res, err := a.runPipeline(ctx, systemPath)
			if err != nil {
				return err
			}
			if err := store.Set(ctx, key, res, ttl); err != nil {
				log.Printf("certificate store write: %v", err)
			}
			if err := writeCertificate(outPath, res); err != nil {
				return err
			}
			reportCertificate(start, res.Algorithm, res.Eta, res.Beta, res.SafetyBound, res.TimeHorizon)
			return nil
		},
	}

	cmd.Flags().StringVar(&systemPath, "system", "", "system dataset with partitions, dynamics and noise")
	cmd.Flags().StringVar(&outPath, "out", "solution.json", "solution bundle to write")
	cmd.Flags().StringVar(&backend, "store", getEnv("BARRICADE_STORE", "memory"), "certificate store backend: memory, redis or postgres")
	cmd.Flags().StringVar(&snapshotPath, "store-snapshot", getEnv("BARRICADE_STORE_SNAPSHOT", ""), "snapshot file for the memory backend, empty disables persistence")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", getEnv("BARRICADE_REDIS_ADDR", "localhost:6379"), "redis address for the redis backend")
	cmd.Flags().StringVar(&redisPassword, "redis-password", getEnv("BARRICADE_REDIS_PASSWORD", ""), "redis password")
	cmd.Flags().IntVar(&redisDB, "redis-db", 0, "redis logical database")
	cmd.Flags().StringVar(&postgresConn, "postgres-conn", getEnv("BARRICADE_POSTGRES_CONN", ""), "connection string for the postgres backend")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "certificate time to live in the store")
	a.addSpecFlags(cmd)
	if err := cmd.MarkFlagRequired("system"); err != nil {
		panic(fmt.Sprintf("certify flags: %v", err))
	}
	return cmd
}

// runPipeline executes sweep, synthesis and refinement for one dataset.
func (a *app) runPipeline(ctx context.Context, systemPath string) (*certstore.CertificateResult, error) {
	sys, plain, err := dataset.LoadSystem(systemPath)
	if err != nil {
		return nil, err
	}
	spec, err := a.spec()
	if err != nil {
		return nil, err
	}

	engine, err := transition.NewEngine(a.cfg, a.met)
	if err != nil {
		return nil, err
	}
	sweepCtx, sweepSpan := otel.StartSpan(ctx, "barricade", "transition.sweep",
		otel.SweepAttributes(len(plain), sys.Dim(), string(a.cfg.UpperBound))...)
	lower, upper, err := engine.Compute(sweepCtx, sys, plain)
	if err != nil {
		otel.RecordError(sweepSpan, err)
		sweepSpan.End()
		return nil, err
	}
	sweepSpan.End()

	regions, err := transition.AttachProbabilities(plain, lower, upper)
	if err != nil {
		return nil, err
	}

	_, solveSpan := otel.StartSpan(ctx, "barricade", "barrier.solve",
		otel.SolveAttributes(string(a.cfg.Algorithm), len(regions), a.cfg.TimeHorizon)...)
	sol, err := barrier.Synthesize(regions, spec, a.cfg, a.met)
	if err != nil {
		otel.RecordError(solveSpan, err)
		solveSpan.End()
		return nil, err
	}
	solveSpan.End()

	refineCtx, refineSpan := otel.StartSpan(ctx, "barricade", "refine.beta",
		otel.SolveAttributes(string(a.cfg.Algorithm), len(regions), a.cfg.TimeHorizon)...)
	betas, beta, err := barrier.PostComputeBeta(refineCtx, regions, sol.B, a.cfg, a.met)
	if err != nil {
		otel.RecordError(refineSpan, err)
		refineSpan.End()
		return nil, err
	}
	bound := sol.Eta + float64(a.cfg.TimeHorizon)*beta
	refineSpan.SetAttributes(otel.CertificateAttributes(beta, sol.Eta, bound)...)
	refineSpan.End()

	return &certstore.CertificateResult{
		Algorithm:     string(a.cfg.Algorithm),
		Barrier:       sol.B,
		Beta:          beta,
		BetaPerRegion: betas,
		Eta:           sol.Eta,
		TimeHorizon:   a.cfg.TimeHorizon,
		SafetyBound:   bound,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func openStore(backend, snapshotPath, redisAddr, redisPassword string, redisDB int, postgresConn string) (certstore.Store, error) {
	switch backend {
	case "memory":
		return certstore.NewMemoryStore(snapshotPath)
	case "redis":
		return certstore.NewRedisStore(redisAddr, redisPassword, redisDB)
	case "postgres":
		if postgresConn == "" {
			return nil, fmt.Errorf("postgres backend needs --postgres-conn or BARRICADE_POSTGRES_CONN")
		}
		return certstore.NewPostgresStore(postgresConn)
	default:
		return nil, fmt.Errorf("unknown certificate store backend %q", backend)
	}
}

func writeCertificate(path string, res *certstore.CertificateResult) error {
	return dataset.WriteSolution(path, &dataset.SolutionFile{
		Barrier:       res.Barrier,
		Beta:          res.Beta,
		BetaPerRegion: res.BetaPerRegion,
		Eta:           res.Eta,
		TimeHorizon:   res.TimeHorizon,
		SafetyBound:   res.SafetyBound,
	})
}
