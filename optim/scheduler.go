package optim

import (
	"errors"
	"math"
)

// Optimizer is the surface shared by the optimizers in this package.
type Optimizer interface {
	Step() error
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
}

// StepLR multiplies the learning rate by gamma every stepSize calls to Step.
type StepLR struct {
	opt      Optimizer
	baseLR   float64
	stepSize int
	gamma    float64
	count    int
}

func NewStepLR(opt Optimizer, stepSize int, gamma float64) (*StepLR, error) {
	if opt == nil {
		return nil, errors.New("StepLR requires an optimizer")
	}
	if stepSize <= 0 {
		return nil, errors.New("StepLR step size must be positive")
	}
	if gamma <= 0 {
		return nil, errors.New("StepLR gamma must be positive")
	}
	return &StepLR{
		opt:      opt,
		baseLR:   opt.LR(),
		stepSize: stepSize,
		gamma:    gamma,
	}, nil
}

// LRAt reports the learning rate in effect after the given number of scheduler steps.
func (s *StepLR) LRAt(step int) float64 {
	times := step / s.stepSize
	return s.baseLR * math.Pow(s.gamma, float64(times))
}

// Step advances the schedule by one optimizer step and updates the optimizer's learning rate.
func (s *StepLR) Step() {
	s.count++
	s.opt.SetLR(s.LRAt(s.count))
}

func (s *StepLR) StepSize() int {
	return s.stepSize
}

func (s *StepLR) Gamma() float64 {
	return s.gamma
}

