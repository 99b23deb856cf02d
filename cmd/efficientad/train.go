package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/youngquan/anomalib/internal/trainer"
)

func NewTrainCommand() *cobra.Command {
	var (
		maxSteps  int
		maxEpochs int
		resume    bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the student and autoencoder",
		Long: `Train the student and autoencoder.

The teacher is loaded from the pretrained weights and stays frozen. Channel
statistics are computed before the first step, map quantiles before every
validation. The normalization state and the trainable weights are written
after every epoch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-steps") {
				cfg.Trainer.MaxSteps = maxSteps
			}
			if cmd.Flags().Changed("max-epochs") {
				cfg.Trainer.MaxEpochs = maxEpochs
			}

			p, err := newPipeline(cfg, resume)
			if err != nil {
				return err
			}
			validation, err := p.validationLoader()
			if err != nil {
				return err
			}

			budget := cfg.Budget(p.train.Len())
			tr := trainer.New(trainer.Config{
				MaxEpochs: budget.MaxEpochs,
				MaxSteps:  budget.MaxSteps,
				StatePath: cfg.Trainer.StatePath,
				Metrics:   p.metrics,
				OnEpochEnd: func(epoch int, _ *trainer.Result) error {
					if cfg.Trainer.CheckpointPath == "" {
						return nil
					}
					logrus.WithFields(logrus.Fields{
						"epoch": epoch,
						"path":  cfg.Trainer.CheckpointPath,
					}).Debug("writing checkpoint")
					return p.model.SaveTrainable(cfg.Trainer.CheckpointPath)
				},
			}, logrus.NewEntry(logrus.StandardLogger()))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := tr.Fit(ctx, p.module, p.train, validation)
			if err != nil {
				if errors.Is(err, context.Canceled) && res != nil {
					logrus.WithField("step", res.Steps).Warn("training interrupted")
				}
				return err
			}
			printTrainSummary(cmd, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxSteps, "max-steps", -1, "override trainer.max_steps (-1 for unset)")
	cmd.Flags().IntVar(&maxEpochs, "max-epochs", -1, "override trainer.max_epochs (-1 for unset)")
	cmd.Flags().BoolVar(&resume, "resume", false, "restore the normalization state and checkpoint if present")

	return cmd
}

func printTrainSummary(cmd *cobra.Command, res *trainer.Result) {
	cmd.Printf("%s\n", bold("Training finished"))
	cmd.Printf("  Steps:     %d\n", res.Steps)
	cmd.Printf("  Epochs:    %d\n", res.Epochs)
	cmd.Printf("  Last loss: %.6f\n", res.LastLoss)
	if n := len(res.AUROC); n > 0 {
		cmd.Printf("  AUROC:     %s\n", color.New(color.Bold, color.FgGreen).Sprintf("%.4f", res.AUROC[n-1]))
	}
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
