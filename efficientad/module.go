package efficientad

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/data"
)

// LearningType is the kind of supervision a model needs.
type LearningType string

const LearningTypeOneClass LearningType = "one_class"

// TrainerArguments are the overrides the model requests from the trainer.
type TrainerArguments struct {
	NumSanityValSteps int
}

// Options configures EfficientAd.
type Options struct {
	Size         ModelSize
	LR           float64
	WeightDecay  float64
	QuantileSeed int64
	Metrics      MetricLogger
	Logger       *logrus.Entry
}

// EfficientAd wires the calibration, step and planning components to the
// lifecycle hooks called by a trainer.
type EfficientAd struct {
	model      Model
	state      *NormalizationState
	size       ModelSize
	hp         Hyperparameters
	calibrator *Calibrator
	steps      *StepController
	auxiliary  *Cycler
	log        *logrus.Entry
}

// New builds the facade. state must be the same value the model reads from.
func New(model Model, state *NormalizationState, auxiliary data.Iterable, opts Options) (*EfficientAd, error) {
	if model == nil || state == nil || auxiliary == nil {
		return nil, errors.New("efficientad needs a model, a normalization state and an auxiliary source")
	}
	if opts.Size == "" {
		opts.Size = ModelSizeSmall
	}
	if !opts.Size.Valid() {
		return nil, errors.Errorf("unknown model size %q", opts.Size)
	}
	log := componentLogger(opts.Logger, "efficientad")
	cycler := NewCycler(auxiliary, opts.Logger)
	estimator := NewQuantileEstimator(opts.QuantileSeed).WithLogger(opts.Logger)
	return &EfficientAd{
		model:      model,
		state:      state,
		size:       opts.Size,
		hp:         Hyperparameters{LR: opts.LR, WeightDecay: opts.WeightDecay},
		calibrator: NewCalibrator(model, state, estimator, opts.Logger),
		steps:      NewStepController(model, cycler, opts.Metrics),
		auxiliary:  cycler,
		log:        log,
	}, nil
}

func (e *EfficientAd) PreparePretrainedModel(dir string, loader TeacherLoader, fetcher WeightsFetcher) error {
	return PreparePretrainedModel(dir, e.size, loader, fetcher, e.log)
}

func (e *EfficientAd) ConfigureOptimizers(b Budget) (*Plan, error) {
	plan, err := PlanOptimizer(b, ParamGroups{
		Student:     e.model.StudentParameters(),
		Autoencoder: e.model.AutoencoderParameters(),
	}, e.hp)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"horizon":    plan.Horizon,
		"decay_step": plan.DecayStep,
		"lr":         e.hp.LR,
	}).Info("optimizer configured")
	return plan, nil
}

func (e *EfficientAd) OnTrainStart(train data.Iterable) error {
	return e.calibrator.OnTrainStart(train)
}

func (e *EfficientAd) TrainingStep(batch *data.Batch) (*StepOutput, error) {
	return e.steps.Step(batch)
}

func (e *EfficientAd) OnValidationStart(validation data.Iterable) error {
	return e.calibrator.OnValidationStart(validation)
}

// ValidationStep attaches normalized anomaly maps to the batch.
func (e *EfficientAd) ValidationStep(batch *data.Batch) (*data.Batch, error) {
	pred, err := e.model.Predict(batch.Image, true)
	if err != nil {
		return nil, errors.Wrap(err, "validation forward")
	}
	batch.AnomalyMaps = pred.AnomalyMap
	return batch, nil
}

func (e *EfficientAd) TrainerArguments() TrainerArguments {
	return TrainerArguments{NumSanityValSteps: 0}
}

func (e *EfficientAd) LearningType() LearningType {
	return LearningTypeOneClass
}

func (e *EfficientAd) State() *NormalizationState {
	return e.state
}

func (e *EfficientAd) Calibrator() *Calibrator {
	return e.calibrator
}

func (e *EfficientAd) Model() Model {
	return e.model
}
