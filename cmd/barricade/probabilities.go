package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/stochsafe/barricade/internal/dataset"
	"github.com/stochsafe/barricade/internal/transition"
	"github.com/stochsafe/barricade/pkg/otel"
)

func (a *app) probabilitiesCmd() *cobra.Command {
	var systemPath, outPath string
	var sparse bool

	cmd := &cobra.Command{
		Use:   "probabilities",
		Short: "Bound transition probabilities between partition regions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			sys, regions, err := dataset.LoadSystem(systemPath)
			if err != nil {
				return err
			}

			engine, err := transition.NewEngine(a.cfg, a.met)
			if err != nil {
				return err
			}

			ctx, span := otel.StartSpan(cmd.Context(), "barricade", "transition.sweep",
				otel.SweepAttributes(len(regions), sys.Dim(), string(a.cfg.UpperBound))...)
			lower, upper, err := engine.Compute(ctx, sys, regions)
			if err != nil {
				otel.RecordError(span, err)
				span.End()
				return err
			}
			span.End()

			withProbs, err := transition.AttachProbabilities(regions, lower, upper)
			if err != nil {
				return err
			}
			if err := dataset.WriteProbabilities(outPath, withProbs, sparse); err != nil {
				return err
			}

			log.Printf("bounded %d regions (dim %d) in %s, wrote %s",
				len(regions), sys.Dim(), time.Since(start).Round(time.Millisecond), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&systemPath, "system", "", "system dataset with partitions, dynamics and noise")
	cmd.Flags().StringVar(&outPath, "out", "probabilities.json", "probability dataset to write")
	cmd.Flags().BoolVar(&sparse, "sparse", false, "write sparse per-source columns instead of dense matrices")
	if err := cmd.MarkFlagRequired("system"); err != nil {
		panic(fmt.Sprintf("probabilities flags: %v", err))
	}
	return cmd
}
