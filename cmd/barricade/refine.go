package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/stochsafe/barricade/internal/barrier"
	"github.com/stochsafe/barricade/internal/dataset"
	"github.com/stochsafe/barricade/pkg/otel"
)

func (a *app) refineCmd() *cobra.Command {
	var probsPath, solutionPath, outPath string

	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Tighten the martingale slack of an existing solution",
		Long:  "refine re-derives the per-region slacks of a fixed barrier by solving\none small worst-case program per region. The refined beta never exceeds\nthe one recorded in the solution.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			regions, err := dataset.LoadProbabilities(probsPath)
			if err != nil {
				return err
			}
			sol, err := dataset.LoadSolution(solutionPath)
			if err != nil {
				return err
			}
			horizon := sol.TimeHorizon
			if horizon < 1 {
				horizon = a.cfg.TimeHorizon
			}

			ctx, span := otel.StartSpan(cmd.Context(), "barricade", "refine.beta",
				otel.SolveAttributes(string(a.cfg.Algorithm), len(regions), horizon)...)
			betas, beta, err := barrier.PostComputeBeta(ctx, regions, sol.Barrier, a.cfg, a.met)
			if err != nil {
				otel.RecordError(span, err)
				span.End()
				return err
			}
			bound := sol.Eta + float64(horizon)*beta
			span.SetAttributes(otel.CertificateAttributes(beta, sol.Eta, bound)...)
			span.End()

			refined := &dataset.SolutionFile{
				Barrier:       sol.Barrier,
				Beta:          beta,
				BetaPerRegion: betas,
				Eta:           sol.Eta,
				TimeHorizon:   horizon,
				SafetyBound:   bound,
			}
			if err := dataset.WriteSolution(outPath, refined); err != nil {
				return err
			}

			log.Printf("beta %.6g -> %.6g over %d regions in %s",
				sol.Beta, beta, len(regions), time.Since(start).Round(time.Millisecond))
			fmt.Printf("P(unsafe within %d steps) <= %.6g\n", horizon, bound)
			return nil
		},
	}

	cmd.Flags().StringVar(&probsPath, "probabilities", "", "probability dataset the solution was synthesized from")
	cmd.Flags().StringVar(&solutionPath, "solution", "", "solution bundle to refine")
	cmd.Flags().StringVar(&outPath, "out", "solution-refined.json", "refined solution bundle to write")
	for _, f := range []string{"probabilities", "solution"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(fmt.Sprintf("refine flags: %v", err))
		}
	}
	return cmd
}
