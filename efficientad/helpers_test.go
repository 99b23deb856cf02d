package efficientad

import (
	"io"
	"math"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

// stubModel returns its inputs as teacher features and score maps and fixed
// scalar losses.
type stubModel struct {
	losses       [3]float64
	teacherCalls int
	predictCalls int
	trainCalls   int
	lastAux      *tensor.Tensor
	student      []*tensor.Tensor
	autoencoder  []*tensor.Tensor
}

func (m *stubModel) TeacherFeatures(images *tensor.Tensor) (*tensor.Tensor, error) {
	m.teacherCalls++
	return images, nil
}

func (m *stubModel) TrainingLosses(images, auxiliary *tensor.Tensor) (*Losses, error) {
	m.trainCalls++
	m.lastAux = auxiliary
	return &Losses{
		Student:     tensor.MustNew([]float64{m.losses[0]}, 1),
		Autoencoder: tensor.MustNew([]float64{m.losses[1]}, 1),
		Combined:    tensor.MustNew([]float64{m.losses[2]}, 1),
	}, nil
}

func (m *stubModel) Predict(images *tensor.Tensor, normalize bool) (*Prediction, error) {
	m.predictCalls++
	pred := &Prediction{
		MapStudent:     images,
		MapAutoencoder: tensor.MulScalar(images, 2),
	}
	if normalize {
		pred.AnomalyMap = tensor.Full(0.5, images.Shape()...)
	}
	return pred, nil
}

func (m *stubModel) StudentParameters() []*tensor.Tensor {
	return m.student
}

func (m *stubModel) AutoencoderParameters() []*tensor.Tensor {
	return m.autoencoder
}

func sample(label int, values ...float64) *data.Sample {
	return &data.Sample{Image: tensor.MustNew(values, 1, 1, len(values)), Label: label}
}

func loaderOf(batchSize int, samples ...*data.Sample) *data.Loader {
	l, err := data.NewLoader(data.NewInMemory(samples...), data.LoaderConfig{BatchSize: batchSize})
	if err != nil {
		panic(err)
	}
	return l
}

type emptyIterable struct{}

func (emptyIterable) Iter() data.Iterator { return emptyIterator{} }

type emptyIterator struct{}

func (emptyIterator) Next() (*data.Batch, error) { return nil, io.EOF }

type recordingMetrics struct {
	values map[string]float64
	order  []string
}

func (r *recordingMetrics) Log(name string, value float64) {
	if r.values == nil {
		r.values = map[string]float64{}
	}
	r.values[name] = value
	r.order = append(r.order, name)
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
