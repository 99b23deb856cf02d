// Package efficientad orchestrates EfficientAd training: teacher channel
// statistics, map quantile calibration, the auxiliary image stream, per-step
// loss composition and the optimizer plan.
package efficientad

import (
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/tensor"
)

// Losses are the three scalar training losses returned by the model.
type Losses struct {
	Student     *tensor.Tensor
	Autoencoder *tensor.Tensor
	Combined    *tensor.Tensor
}

// Prediction holds [batch, 1, height, width] score maps. AnomalyMap is the
// equal-weight mix of the two maps, normalized only when requested.
type Prediction struct {
	MapStudent     *tensor.Tensor
	MapAutoencoder *tensor.Tensor
	AnomalyMap     *tensor.Tensor
}

// Model is the teacher/student/autoencoder forward interface.
type Model interface {
	// TeacherFeatures returns raw teacher activations for images.
	TeacherFeatures(images *tensor.Tensor) (*tensor.Tensor, error)
	// TrainingLosses runs the training forward pass on a primary and an auxiliary batch.
	TrainingLosses(images, auxiliary *tensor.Tensor) (*Losses, error)
	Predict(images *tensor.Tensor, normalize bool) (*Prediction, error)
	StudentParameters() []*tensor.Tensor
	AutoencoderParameters() []*tensor.Tensor
}

// ModelSize selects the patch description network variant.
type ModelSize string

const (
	ModelSizeSmall  ModelSize = "small"
	ModelSizeMedium ModelSize = "medium"
)

func (s ModelSize) Valid() bool {
	return s == ModelSizeSmall || s == ModelSizeMedium
}

const progressEvery = 50

func componentLogger(log *logrus.Entry, component string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", component)
}
