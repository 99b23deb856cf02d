// Package trainer drives a model through its lifecycle hooks: optimizer
// setup, calibration, training steps and per-epoch validation.
package trainer

import (
	"context"
	"io"
	"math"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/efficientad"
)

// Module is the hook surface the trainer calls.
type Module interface {
	ConfigureOptimizers(budget efficientad.Budget) (*efficientad.Plan, error)
	OnTrainStart(train data.Iterable) error
	TrainingStep(batch *data.Batch) (*efficientad.StepOutput, error)
	OnValidationStart(validation data.Iterable) error
	ValidationStep(batch *data.Batch) (*data.Batch, error)
	TrainerArguments() efficientad.TrainerArguments
	State() *efficientad.NormalizationState
}

// Epocher is implemented by metric loggers that aggregate per epoch.
type Epocher interface {
	Flush(epoch int) map[string]float64
}

type Config struct {
	// MaxEpochs and MaxSteps use efficientad.Unset when absent.
	MaxEpochs int
	MaxSteps  int
	// StatePath, when set, receives the normalization state after calibration
	// and after every validation.
	StatePath string
	Metrics   Epocher
	// OnEpochEnd is called after validation, for example to write checkpoints.
	OnEpochEnd func(epoch int, result *Result) error
}

type Result struct {
	Steps    int
	Epochs   int
	LastLoss float64
	// AUROC holds the image-level AUROC of every validation run.
	AUROC []float64
}

type Trainer struct {
	cfg Config
	log *logrus.Entry
}

func New(cfg Config, log *logrus.Entry) *Trainer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Trainer{cfg: cfg, log: log.WithField("component", "trainer")}
}

// Fit trains until the horizon or the epoch bound is reached, or ctx is done.
func (t *Trainer) Fit(ctx context.Context, module Module, train *data.Loader, validation data.Iterable) (*Result, error) {
	budget := efficientad.Budget{
		MaxEpochs:     t.cfg.MaxEpochs,
		MaxSteps:      t.cfg.MaxSteps,
		StepsPerEpoch: train.Len(),
	}
	plan, err := module.ConfigureOptimizers(budget)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "configure optimizers")
	}
	if err := t.sanityCheck(module, validation); err != nil {
		return nil, err
	}
	if err := module.OnTrainStart(train); err != nil {
		return nil, pkgerrors.Wrap(err, "train start")
	}
	if err := t.saveState(module); err != nil {
		return nil, err
	}

	res := &Result{}
	for epoch := 0; t.cfg.MaxEpochs < 0 || epoch < t.cfg.MaxEpochs; epoch++ {
		it := train.Iter()
		stepsThisEpoch := 0
		for res.Steps < plan.Horizon {
			if err := ctx.Err(); err != nil {
				return res, pkgerrors.Wrap(err, "training interrupted")
			}
			batch, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return res, pkgerrors.Wrap(err, "read training batch")
			}
			plan.Optimizer.ZeroGrad()
			out, err := module.TrainingStep(batch)
			if err != nil {
				return res, pkgerrors.Wrapf(err, "training step %d", res.Steps)
			}
			if err := out.Loss.Backward(); err != nil {
				return res, pkgerrors.Wrap(err, "backward")
			}
			if err := plan.Optimizer.Step(); err != nil {
				return res, pkgerrors.Wrap(err, "optimizer step")
			}
			plan.Scheduler.Step()
			res.Steps++
			stepsThisEpoch++
			res.LastLoss = out.Total
		}
		if stepsThisEpoch == 0 {
			break
		}
		res.Epochs++

		auroc, err := t.Validate(module, validation)
		if err != nil {
			return res, err
		}
		res.AUROC = append(res.AUROC, auroc)
		fields := logrus.Fields{
			"epoch": epoch,
			"step":  res.Steps,
			"loss":  res.LastLoss,
			"lr":    plan.Optimizer.LR(),
			"auroc": auroc,
		}
		t.log.WithFields(fields).Info("epoch finished")
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.Flush(epoch)
		}
		if err := t.saveState(module); err != nil {
			return res, err
		}
		if t.cfg.OnEpochEnd != nil {
			if err := t.cfg.OnEpochEnd(epoch, res); err != nil {
				return res, pkgerrors.Wrap(err, "epoch end")
			}
		}
		if res.Steps >= plan.Horizon {
			break
		}
	}
	return res, nil
}

// Validate recomputes the map quantiles, scores every validation image and
// returns the image-level AUROC.
func (t *Trainer) Validate(module Module, validation data.Iterable) (float64, error) {
	if err := module.OnValidationStart(validation); err != nil {
		return 0, pkgerrors.Wrap(err, "validation start")
	}
	var scores []float64
	var labels []int
	it := validation.Iter()
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, pkgerrors.Wrap(err, "read validation batch")
		}
		out, err := module.ValidationStep(batch)
		if err != nil {
			return 0, pkgerrors.Wrap(err, "validation step")
		}
		scores = append(scores, ImageScores(out.AnomalyMaps)...)
		labels = append(labels, out.Labels...)
	}
	auroc := AUROC(scores, labels)
	if math.IsNaN(auroc) {
		t.log.Warn("validation set lacks normal or anomalous images, AUROC undefined")
	}
	return auroc, nil
}

// sanityCheck runs the validation steps the module asks for before training.
func (t *Trainer) sanityCheck(module Module, validation data.Iterable) error {
	n := module.TrainerArguments().NumSanityValSteps
	if n <= 0 {
		return nil
	}
	it := validation.Iter()
	for i := 0; i < n; i++ {
		batch, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(err, "sanity validation")
		}
		if _, err := module.ValidationStep(batch); err != nil {
			return pkgerrors.Wrap(err, "sanity validation")
		}
	}
	return nil
}

func (t *Trainer) saveState(module Module) error {
	if t.cfg.StatePath == "" {
		return nil
	}
	if err := module.State().Save(t.cfg.StatePath); err != nil {
		return pkgerrors.Wrap(err, "persist normalization state")
	}
	t.log.WithField("path", t.cfg.StatePath).Debug("normalization state saved")
	return nil
}
