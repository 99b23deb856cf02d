package efficientad

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

// StepOutput carries the differentiable total loss and the logged scalars.
type StepOutput struct {
	Loss        *tensor.Tensor
	Student     float64
	Autoencoder float64
	Combined    float64
	Total       float64
}

// StepController runs one training step: it draws an auxiliary batch, runs
// the model and sums the three losses.
type StepController struct {
	model   Model
	aux     *Cycler
	metrics MetricLogger
}

func NewStepController(model Model, aux *Cycler, metrics MetricLogger) *StepController {
	if metrics == nil {
		metrics = NewLogrusMetrics(nil)
	}
	return &StepController{model: model, aux: aux, metrics: metrics}
}

func (s *StepController) Step(batch *data.Batch) (*StepOutput, error) {
	if batch == nil || batch.Image == nil {
		return nil, errors.New("training step requires an image batch")
	}
	auxBatch, err := s.aux.NextBatch()
	if err != nil {
		return nil, err
	}
	losses, err := s.model.TrainingLosses(batch.Image, auxBatch.Image)
	if err != nil {
		return nil, errors.Wrap(err, "training forward")
	}
	sum, err := tensor.Add(losses.Student, losses.Autoencoder)
	if err != nil {
		return nil, errors.Wrap(err, "sum losses")
	}
	total, err := tensor.Add(sum, losses.Combined)
	if err != nil {
		return nil, errors.Wrap(err, "sum losses")
	}
	out := &StepOutput{
		Loss:        total,
		Student:     scalar(losses.Student),
		Autoencoder: scalar(losses.Autoencoder),
		Combined:    scalar(losses.Combined),
		Total:       scalar(total),
	}
	s.metrics.Log(MetricStudent, out.Student)
	s.metrics.Log(MetricAutoencoder, out.Autoencoder)
	s.metrics.Log(MetricCombined, out.Combined)
	s.metrics.Log(MetricTotal, out.Total)
	return out, nil
}

func scalar(t *tensor.Tensor) float64 {
	return t.Data()[0]
}
