package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stochsafe/barricade/internal/barrier"
	"github.com/stochsafe/barricade/internal/dataset"
	"github.com/stochsafe/barricade/pkg/otel"
)

func (a *app) synthesizeCmd() *cobra.Command {
	var probsPath, outPath, textPath string

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize a barrier certificate from a probability dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			regions, err := dataset.LoadProbabilities(probsPath)
			if err != nil {
				return err
			}
			spec, err := a.spec()
			if err != nil {
				return err
			}

			_, span := otel.StartSpan(cmd.Context(), "barricade", "barrier.solve",
				otel.SolveAttributes(string(a.cfg.Algorithm), len(regions), a.cfg.TimeHorizon)...)
			sol, err := barrier.Synthesize(regions, spec, a.cfg, a.met)
			if err != nil {
				otel.RecordError(span, err)
				span.End()
				return err
			}
			bound := sol.SafetyBound(a.cfg.TimeHorizon)
			span.SetAttributes(otel.CertificateAttributes(sol.Beta, sol.Eta, bound)...)
			span.End()

			file := &dataset.SolutionFile{
				Barrier:       sol.B,
				Beta:          sol.Beta,
				BetaPerRegion: sol.BetaPerRegion,
				Eta:           sol.Eta,
				TimeHorizon:   a.cfg.TimeHorizon,
				SafetyBound:   bound,
			}
			if err := dataset.WriteSolution(outPath, file); err != nil {
				return err
			}
			if textPath != "" {
				if err := dataset.WriteBarrierText(textPath, sol.B); err != nil {
					return err
				}
			}

			reportCertificate(start, string(a.cfg.Algorithm), sol.Eta, sol.Beta, bound, a.cfg.TimeHorizon)
			return nil
		},
	}

	cmd.Flags().StringVar(&probsPath, "probabilities", "", "probability dataset from the probabilities command")
	cmd.Flags().StringVar(&outPath, "out", "solution.json", "solution bundle to write")
	cmd.Flags().StringVar(&textPath, "barrier-text", "", "also write the barrier one value per line")
	a.addSpecFlags(cmd)
	if err := cmd.MarkFlagRequired("probabilities"); err != nil {
		panic(fmt.Sprintf("synthesize flags: %v", err))
	}
	return cmd
}
