package main

import (
	"github.com/spf13/cobra"

	"github.com/youngquan/anomalib/efficientad"
	"github.com/youngquan/anomalib/internal/config"
)

func NewHorizonCommand() *cobra.Command {
	var stepsPerEpoch int

	cmd := &cobra.Command{
		Use:   "horizon",
		Short: "Print the training horizon and learning rate decay step",
		Long: `Print the training horizon and learning rate decay step.

The horizon is the smaller of max_steps and max_epochs times the steps per
epoch. The learning rate drops by a factor of ten at 95% of the horizon.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			budget := cfg.Budget(stepsPerEpoch)
			horizon, err := efficientad.Horizon(budget)
			if err != nil {
				return err
			}
			cmd.Printf("Horizon:    %s\n", bold("%d", horizon))
			cmd.Printf("Decay step: %s\n", bold("%d", efficientad.DecayBoundary(horizon)))
			return nil
		},
	}

	cmd.Flags().IntVar(&stepsPerEpoch, "steps-per-epoch", 0, "training batches per epoch, needed when max_epochs is set")

	return cmd
}
