package efficientad

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/optim"
	"github.com/youngquan/anomalib/tensor"
)

// Unset marks an absent epoch or step bound.
const Unset = -1

const (
	decayFraction = 0.95
	decayGamma    = 0.1
)

// Budget is the trainer's training bound. A negative MaxEpochs or MaxSteps is unset.
type Budget struct {
	MaxEpochs     int
	MaxSteps      int
	StepsPerEpoch int
}

// Horizon is the effective number of optimizer steps: the smaller of
// MaxSteps and MaxEpochs*StepsPerEpoch, counting only the bounds that are set.
func Horizon(b Budget) (int, error) {
	hasEpochs := b.MaxEpochs >= 0
	hasSteps := b.MaxSteps >= 0
	if !hasEpochs && !hasSteps {
		return 0, ErrNoTrainingBound
	}
	horizon := -1
	if hasEpochs {
		if b.StepsPerEpoch <= 0 {
			return 0, errors.Errorf("epoch bound needs a positive steps per epoch, got %d", b.StepsPerEpoch)
		}
		horizon = b.MaxEpochs * b.StepsPerEpoch
	}
	if hasSteps && (horizon < 0 || b.MaxSteps < horizon) {
		horizon = b.MaxSteps
	}
	if horizon <= 0 {
		return 0, ErrEmptyHorizon
	}
	return horizon, nil
}

// DecayBoundary is the step at which the learning rate drops: 95% of the
// horizon rounded down, never below 1.
func DecayBoundary(horizon int) int {
	boundary := int(decayFraction * float64(horizon))
	if boundary < 1 {
		boundary = 1
	}
	return boundary
}

type Hyperparameters struct {
	LR          float64
	WeightDecay float64
}

// ParamGroups lists the trainable parameters. The teacher is frozen and has none.
type ParamGroups struct {
	Student     []*tensor.Tensor
	Autoencoder []*tensor.Tensor
}

func (g ParamGroups) All() []*tensor.Tensor {
	out := make([]*tensor.Tensor, 0, len(g.Student)+len(g.Autoencoder))
	out = append(out, g.Student...)
	return append(out, g.Autoencoder...)
}

// Plan is the optimizer and schedule for one training run.
type Plan struct {
	Horizon   int
	DecayStep int
	Optimizer *optim.Adam
	Scheduler *optim.StepLR
}

// PlanOptimizer builds Adam over the student and autoencoder parameters and a
// step schedule that multiplies the learning rate by 0.1 at DecayBoundary.
func PlanOptimizer(b Budget, params ParamGroups, hp Hyperparameters) (*Plan, error) {
	horizon, err := Horizon(b)
	if err != nil {
		return nil, err
	}
	if hp.LR <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", hp.LR)
	}
	all := params.All()
	if len(all) == 0 {
		return nil, errors.New("no trainable parameters")
	}
	opt := optim.NewAdamWithConfig(all, optim.AdamConfig{
		LR:          hp.LR,
		WeightDecay: hp.WeightDecay,
	})
	boundary := DecayBoundary(horizon)
	sched, err := optim.NewStepLR(opt, boundary, decayGamma)
	if err != nil {
		return nil, errors.Wrap(err, "learning rate schedule")
	}
	return &Plan{
		Horizon:   horizon,
		DecayStep: boundary,
		Optimizer: opt,
		Scheduler: sched,
	}, nil
}
