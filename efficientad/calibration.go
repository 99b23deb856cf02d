package efficientad

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

// Phase is the calibration progress of a NormalizationState.
type Phase int

const (
	PhaseUncalibrated Phase = iota
	PhaseChannelStatsReady
	PhaseQuantilesReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUncalibrated:
		return "uncalibrated"
	case PhaseChannelStatsReady:
		return "channel-stats-ready"
	case PhaseQuantilesReady:
		return "quantiles-ready"
	default:
		return "unknown"
	}
}

// Calibrator triggers the statistics passes at the training and validation
// lifecycle boundaries and writes the results into the shared state.
type Calibrator struct {
	model     Model
	state     *NormalizationState
	estimator *QuantileEstimator
	log       *logrus.Entry

	channelPasses  int
	quantilePasses int
}

func NewCalibrator(model Model, state *NormalizationState, estimator *QuantileEstimator, log *logrus.Entry) *Calibrator {
	if estimator == nil {
		estimator = NewQuantileEstimator(0)
	}
	return &Calibrator{
		model:     model,
		state:     state,
		estimator: estimator,
		log:       componentLogger(log, "calibration"),
	}
}

// OnTrainStart computes the teacher channel statistics unless they are
// already present, for example after restoring a saved state.
func (c *Calibrator) OnTrainStart(train data.Iterable) error {
	if c.state.HasChannelStats() {
		c.log.Info("teacher channel statistics already set, skipping")
		return nil
	}
	mean, std, err := TeacherChannelMeanStd(c.model, train, c.log)
	if err != nil {
		return errors.Wrap(err, "teacher channel statistics")
	}
	if err := c.state.SetChannelStats(mean, std); err != nil {
		return err
	}
	c.channelPasses++
	return nil
}

// OnValidationStart recomputes the map quantiles on every call.
func (c *Calibrator) OnValidationStart(validation data.Iterable) error {
	q, err := c.MapNormQuantiles(validation)
	if err != nil {
		return errors.Wrap(err, "map quantiles")
	}
	c.state.SetQuantiles(q)
	c.quantilePasses++
	c.log.WithFields(logrus.Fields{
		"qa_st": q.QaStudent, "qb_st": q.QbStudent,
		"qa_ae": q.QaAutoencoder, "qb_ae": q.QbAutoencoder,
	}).Info("map quantiles updated")
	return nil
}

// MapNormQuantiles runs the unnormalized forward pass on every normal image
// of the validation pass and returns the quantiles of both map branches.
func (c *Calibrator) MapNormQuantiles(validation data.Iterable) (Quantiles, error) {
	var samples []ScoredSample
	it := validation.Iter()
	batches := 0
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Quantiles{}, errors.Wrap(err, "read validation batch")
		}
		batches++
		images, err := tensor.Chunk(0, batch.Size(), batch.Image)
		if err != nil {
			return Quantiles{}, err
		}
		for i, label := range batch.Labels {
			if label != data.LabelNormal {
				continue
			}
			pred, err := c.model.Predict(images[i], false)
			if err != nil {
				return Quantiles{}, errors.Wrap(err, "forward pass")
			}
			samples = append(samples, ScoredSample{
				Label:          label,
				MapStudent:     pred.MapStudent,
				MapAutoencoder: pred.MapAutoencoder,
			})
		}
		if batches%progressEvery == 0 {
			c.log.WithField("batches", batches).Debug("map normalization quantiles")
		}
	}
	return c.estimator.MapQuantiles(samples)
}

// Phase derives the calibration phase from the shared state.
func (c *Calibrator) Phase() Phase {
	switch {
	case c.state.HasQuantiles():
		return PhaseQuantilesReady
	case c.state.HasChannelStats():
		return PhaseChannelStatsReady
	default:
		return PhaseUncalibrated
	}
}

// ChannelPasses is the number of channel statistic passes actually run.
func (c *Calibrator) ChannelPasses() int {
	return c.channelPasses
}

func (c *Calibrator) QuantilePasses() int {
	return c.quantilePasses
}

func (c *Calibrator) State() *NormalizationState {
	return c.state
}
