package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/youngquan/anomalib/efficientad"
)

var (
	logLevel   = "info"
	configPath = "efficientad.yaml"
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, efficientad.ErrMissingWeights):
		fmt.Fprintln(os.Stderr, "\nError: pretrained teacher weights not found")
		fmt.Fprintln(os.Stderr, "  - Place the converted weights under model.weights_dir")
		fmt.Fprintln(os.Stderr, "  - Or set model.weights_urls so they can be downloaded")
	case errors.Is(err, efficientad.ErrNoTrainingBound):
		fmt.Fprintln(os.Stderr, "\nError: set trainer.max_epochs or trainer.max_steps")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "efficientad",
		Short: "efficientad trains and calibrates EfficientAd anomaly detectors",
		Long: `efficientad trains and calibrates EfficientAd anomaly detectors.

Training distills a frozen pretrained teacher into a student network and an
autoencoder on normal images only. Anomaly maps are normalized with channel
statistics of the teacher and quantiles of the validation maps.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")

	cmd.AddCommand(
		NewTrainCommand(),
		NewCalibrateCommand(),
		NewHorizonCommand(),
	)

	return cmd
}
