package pdn

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/efficientad"
	"github.com/youngquan/anomalib/loss"
	"github.com/youngquan/anomalib/nn"
	"github.com/youngquan/anomalib/tensor"
)

const (
	hardQuantile = 0.999
	mapPadding   = 4
)

// Config describes the three networks of a Model.
type Config struct {
	Size        efficientad.ModelSize
	OutChannels int
	// Width overrides the hidden width of the PDNs; zero keeps the standard width.
	Width int
	// AutoencoderWidth overrides the autoencoder bottleneck width.
	AutoencoderWidth int
	Padding          bool
	PadMaps          bool
	Seed             int64
}

// Model holds a frozen teacher, a student with twice the teacher's output
// channels and an autoencoder. It reads channel statistics and quantiles
// from the shared normalization state.
type Model struct {
	cfg     Config
	teacher *PDN
	student *PDN
	ae      *Autoencoder
	state   *efficientad.NormalizationState
	rng     *rand.Rand
}

var _ efficientad.Model = (*Model)(nil)

func NewModel(cfg Config, state *efficientad.NormalizationState) (*Model, error) {
	if state == nil {
		return nil, errors.New("model requires a normalization state")
	}
	teacher, err := NewPDN(cfg.Size, cfg.OutChannels, cfg.Width, cfg.Padding)
	if err != nil {
		return nil, errors.Wrap(err, "teacher")
	}
	teacher.Freeze()
	student, err := NewPDN(cfg.Size, 2*cfg.OutChannels, cfg.Width, cfg.Padding)
	if err != nil {
		return nil, errors.Wrap(err, "student")
	}
	return &Model{
		cfg:     cfg,
		teacher: teacher,
		student: student,
		ae:      NewAutoencoder(cfg.OutChannels, cfg.AutoencoderWidth),
		state:   state,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (m *Model) TeacherFeatures(images *tensor.Tensor) (*tensor.Tensor, error) {
	return m.teacher.Forward(images)
}

// normalizedTeacher applies the channel statistics when they are set.
func (m *Model) normalizedTeacher(images *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.teacher.Forward(images)
	if err != nil {
		return nil, errors.Wrap(err, "teacher forward")
	}
	if !m.state.HasChannelStats() {
		return out, nil
	}
	return tensor.NormalizeChannels(out, m.state.ChannelMean(), m.state.ChannelStd())
}

func (m *Model) studentHalves(images *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	out, err := m.student.Forward(images)
	if err != nil {
		return nil, nil, errors.Wrap(err, "student forward")
	}
	c := m.cfg.OutChannels
	parts, err := tensor.Split(1, []int{c, c}, out)
	if err != nil {
		return nil, nil, err
	}
	return parts[0], parts[1], nil
}

// TrainingLosses returns the hard-mined student loss with the auxiliary
// penalty, the autoencoder loss and the student-autoencoder loss.
func (m *Model) TrainingLosses(images, auxiliary *tensor.Tensor) (*efficientad.Losses, error) {
	teacherOut, err := m.normalizedTeacher(images)
	if err != nil {
		return nil, err
	}
	studentOut, _, err := m.studentHalves(images)
	if err != nil {
		return nil, err
	}
	distance, err := squaredDistance(teacherOut, studentOut)
	if err != nil {
		return nil, err
	}
	lossHard, err := hardMeanLoss(distance)
	if err != nil {
		return nil, err
	}
	penaltyOut, _, err := m.studentHalves(auxiliary)
	if err != nil {
		return nil, errors.Wrap(err, "auxiliary")
	}
	lossStudent, err := tensor.Add(lossHard, tensor.Mean(tensor.Pow(penaltyOut, 2)))
	if err != nil {
		return nil, err
	}

	shape := images.Shape()
	augmented := randomAugment(images, m.rng)
	mapH, mapW := m.teacher.OutputSize(shape[2], shape[3])
	aeOut, err := m.ae.Forward(augmented, mapH, mapW)
	if err != nil {
		return nil, errors.Wrap(err, "autoencoder forward")
	}
	teacherAug, err := m.normalizedTeacher(augmented)
	if err != nil {
		return nil, err
	}
	_, studentAE, err := m.studentHalves(augmented)
	if err != nil {
		return nil, err
	}
	lossAE, err := loss.MSE(aeOut, teacherAug)
	if err != nil {
		return nil, err
	}
	lossSTAE, err := loss.MSE(studentAE, aeOut)
	if err != nil {
		return nil, err
	}
	return &efficientad.Losses{
		Student:     lossStudent,
		Autoencoder: lossAE,
		Combined:    lossSTAE,
	}, nil
}

// Predict returns the student and autoencoder maps resized to the input
// size, and their equal-weight combination. Maps are quantile-normalized
// only when normalize is set and the quantiles are known.
func (m *Model) Predict(images *tensor.Tensor, normalize bool) (*efficientad.Prediction, error) {
	shape := images.Shape()
	teacherOut, err := m.normalizedTeacher(images)
	if err != nil {
		return nil, err
	}
	studentST, studentAE, err := m.studentHalves(images)
	if err != nil {
		return nil, err
	}
	mapH, mapW := m.teacher.OutputSize(shape[2], shape[3])
	aeOut, err := m.ae.Forward(images, mapH, mapW)
	if err != nil {
		return nil, errors.Wrap(err, "autoencoder forward")
	}
	mapST, err := m.scoreMap(teacherOut, studentST, shape[2], shape[3])
	if err != nil {
		return nil, err
	}
	mapAE, err := m.scoreMap(aeOut, studentAE, shape[2], shape[3])
	if err != nil {
		return nil, err
	}
	if q, ok := m.state.Quantiles(); ok && normalize {
		mapST = normalizeMap(mapST, q.QaStudent, q.QbStudent)
		mapAE = normalizeMap(mapAE, q.QaAutoencoder, q.QbAutoencoder)
	}
	combined, err := tensor.Add(tensor.MulScalar(mapST, 0.5), tensor.MulScalar(mapAE, 0.5))
	if err != nil {
		return nil, err
	}
	return &efficientad.Prediction{
		MapStudent:     mapST,
		MapAutoencoder: mapAE,
		AnomalyMap:     combined,
	}, nil
}

func (m *Model) scoreMap(a, b *tensor.Tensor, h, w int) (*tensor.Tensor, error) {
	distance, err := squaredDistance(a.Detach(), b.Detach())
	if err != nil {
		return nil, err
	}
	out, err := tensor.MeanChannels(distance)
	if err != nil {
		return nil, err
	}
	if m.cfg.PadMaps {
		if out, err = tensor.Pad2D(out, mapPadding); err != nil {
			return nil, err
		}
	}
	return tensor.ResizeBilinear(out, h, w)
}

func (m *Model) StudentParameters() []*tensor.Tensor {
	return m.student.Parameters()
}

func (m *Model) AutoencoderParameters() []*tensor.Tensor {
	return m.ae.Parameters()
}

// LoadTeacher reads pretrained teacher weights saved with nn.SaveModule.
func (m *Model) LoadTeacher(path string) error {
	if err := nn.LoadModule(path, m.teacher); err != nil {
		return err
	}
	m.teacher.Freeze()
	return nil
}

func (m *Model) Teacher() *PDN {
	return m.teacher
}

// SaveTrainable writes the student and autoencoder parameters.
func (m *Model) SaveTrainable(path string) error {
	state := map[string]*tensor.Tensor{}
	m.student.StateDict("student", state)
	m.ae.StateDict("ae", state)
	return tensor.SaveTensors(path, state)
}

func (m *Model) LoadTrainable(path string) error {
	state, err := tensor.LoadTensors(path)
	if err != nil {
		return err
	}
	if err := m.student.LoadState("student", state); err != nil {
		return errors.Wrap(err, "student")
	}
	return errors.Wrap(m.ae.LoadState("ae", state), "autoencoder")
}

func squaredDistance(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(a, b)
	if err != nil {
		return nil, err
	}
	return tensor.Pow(diff, 2), nil
}

// hardMeanLoss averages the elements at or above the 0.999 quantile of distance.
func hardMeanLoss(distance *tensor.Tensor) (*tensor.Tensor, error) {
	values := distance.Data()
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	threshold := efficientad.Quantile(sorted, hardQuantile)
	mask := make([]float64, len(values))
	count := 0
	for i, v := range values {
		if v >= threshold {
			mask[i] = 1
			count++
		}
	}
	selected, err := tensor.Mul(distance, tensor.MustNew(mask, distance.Shape()...))
	if err != nil {
		return nil, err
	}
	return tensor.MulScalar(tensor.Sum(selected), 1/float64(count)), nil
}

// normalizeMap rescales m to 0.1 * (m - qa) / (qb - qa).
func normalizeMap(m *tensor.Tensor, qa, qb float64) *tensor.Tensor {
	return tensor.MulScalar(tensor.AddScalar(m, -qa), 0.1/(qb-qa))
}
