package efficientad

import (
	"os"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/tensor"
)

// Quantiles are the map normalization bounds of both scoring branches.
type Quantiles struct {
	QaStudent     float64
	QbStudent     float64
	QaAutoencoder float64
	QbAutoencoder float64
}

// NormalizationState is shared by the calibration passes, which write it, and
// the model forward pass, which reads it. Channel statistics and quantiles are
// each replaced as a whole; a group is never half set.
type NormalizationState struct {
	mean         []float64
	std          []float64
	quantiles    Quantiles
	hasChannels  bool
	hasQuantiles bool
}

func NewNormalizationState() *NormalizationState {
	return &NormalizationState{}
}

func (s *NormalizationState) SetChannelStats(mean, std []float64) error {
	if len(mean) == 0 || len(mean) != len(std) {
		return errors.Errorf("channel statistics need matching non-empty mean/std, got %d/%d", len(mean), len(std))
	}
	s.mean = append([]float64(nil), mean...)
	s.std = append([]float64(nil), std...)
	s.hasChannels = true
	return nil
}

func (s *NormalizationState) SetQuantiles(q Quantiles) {
	s.quantiles = q
	s.hasQuantiles = true
}

func (s *NormalizationState) HasChannelStats() bool {
	return s.hasChannels
}

func (s *NormalizationState) HasQuantiles() bool {
	return s.hasQuantiles
}

// IsCalibrated reports whether both the channel statistics and the map quantiles are set.
func (s *NormalizationState) IsCalibrated() bool {
	return s.hasChannels && s.hasQuantiles
}

func (s *NormalizationState) ChannelMean() []float64 {
	return append([]float64(nil), s.mean...)
}

func (s *NormalizationState) ChannelStd() []float64 {
	return append([]float64(nil), s.std...)
}

func (s *NormalizationState) Channels() int {
	return len(s.mean)
}

func (s *NormalizationState) Quantiles() (Quantiles, bool) {
	return s.quantiles, s.hasQuantiles
}

// Reset returns the state to uncalibrated.
func (s *NormalizationState) Reset() {
	*s = NormalizationState{}
}

const (
	keyMean = "mean"
	keyStd  = "std"
	keyQaSt = "qa_st"
	keyQbSt = "qb_st"
	keyQaAe = "qa_ae"
	keyQbAe = "qb_ae"
)

// Save writes the state with the tensor JSON format. Channel statistics are
// stored with shape [1, channels, 1, 1].
func (s *NormalizationState) Save(path string) error {
	out := map[string]*tensor.Tensor{}
	if s.hasChannels {
		c := len(s.mean)
		out[keyMean] = tensor.MustNew(s.mean, 1, c, 1, 1)
		out[keyStd] = tensor.MustNew(s.std, 1, c, 1, 1)
	}
	if s.hasQuantiles {
		out[keyQaSt] = tensor.MustNew([]float64{s.quantiles.QaStudent}, 1)
		out[keyQbSt] = tensor.MustNew([]float64{s.quantiles.QbStudent}, 1)
		out[keyQaAe] = tensor.MustNew([]float64{s.quantiles.QaAutoencoder}, 1)
		out[keyQbAe] = tensor.MustNew([]float64{s.quantiles.QbAutoencoder}, 1)
	}
	if len(out) == 0 {
		return errors.New("normalization state is empty")
	}
	return errors.Wrap(tensor.SaveTensors(path, out), "save normalization state")
}

// LoadNormalizationState restores a state written by Save. A missing file
// yields an error satisfying os.IsNotExist.
func LoadNormalizationState(path string) (*NormalizationState, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	stored, err := tensor.LoadTensors(path)
	if err != nil {
		return nil, errors.Wrap(err, "load normalization state")
	}
	s := NewNormalizationState()
	mean, hasMean := stored[keyMean]
	std, hasStd := stored[keyStd]
	if hasMean != hasStd {
		return nil, errors.Wrap(ErrPartialState, "mean/std")
	}
	if hasMean {
		if err := s.SetChannelStats(mean.Data(), std.Data()); err != nil {
			return nil, err
		}
	}
	keys := []string{keyQaSt, keyQbSt, keyQaAe, keyQbAe}
	values := make([]float64, 0, len(keys))
	for _, k := range keys {
		if t, ok := stored[k]; ok {
			values = append(values, t.Data()[0])
		}
	}
	switch len(values) {
	case 0:
	case len(keys):
		s.SetQuantiles(Quantiles{
			QaStudent:     values[0],
			QbStudent:     values[1],
			QaAutoencoder: values[2],
			QbAutoencoder: values[3],
		})
	default:
		return nil, errors.Wrap(ErrPartialState, "quantiles")
	}
	return s, nil
}
