package main

import (
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewCalibrateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compute teacher channel statistics",
		Long: `Compute teacher channel statistics.

Runs the frozen teacher over the training images once and writes the
per-channel mean and standard deviation to the normalization state file.
Map quantiles are left unset; they are computed during training.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Trainer.StatePath
			}
			if output == "" {
				return errors.New("no output path: set --output or trainer.state_path")
			}

			p, err := newPipeline(cfg, false)
			if err != nil {
				return err
			}
			if err := p.module.OnTrainStart(p.train); err != nil {
				return err
			}
			if err := p.state.Save(output); err != nil {
				return err
			}

			cmd.Printf("%s\n", bold("Channel statistics written"))
			cmd.Printf("  Channels: %d\n", p.state.Channels())
			cmd.Printf("  Images:   %d\n", p.train.Dataset().Len())
			cmd.Printf("  Output:   %s\n", color.GreenString(output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "normalization state file (defaults to trainer.state_path)")

	return cmd
}
