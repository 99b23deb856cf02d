package efficientad

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

// ChannelStats accumulates per-channel count, sum and sum of squares of
// [batch, channels, height, width] activations so the population mean and
// standard deviation can be computed without keeping the activations.
// The one-pass formula loses precision when a channel's mean is large
// relative to its spread: a constant of 1e8+0.3 yields a std of about 2.4.
type ChannelStats struct {
	count   int64
	sum     []float64
	sumSqr  []float64
	batches int
	clamped int
}

func NewChannelStats() *ChannelStats {
	return &ChannelStats{}
}

// Update folds one batch of activations into the accumulators. The channel
// count is fixed by the first batch.
func (c *ChannelStats) Update(activations *tensor.Tensor) error {
	sum, sumSqr, n, err := tensor.ChannelMoments(activations)
	if err != nil {
		return err
	}
	if c.sum == nil {
		c.sum = make([]float64, len(sum))
		c.sumSqr = make([]float64, len(sum))
	} else if len(sum) != len(c.sum) {
		return errors.Wrapf(ErrChannelMismatch, "got %d channels, want %d", len(sum), len(c.sum))
	}
	floats.Add(c.sum, sum)
	floats.Add(c.sumSqr, sumSqr)
	c.count += int64(n)
	c.batches++
	return nil
}

// Finalize returns mean = sum/n and std = sqrt(sum_sqr/n - mean^2) per
// channel. Variances that come out negative through rounding are clamped to
// zero and counted in Clamped.
func (c *ChannelStats) Finalize() ([]float64, []float64, error) {
	if c.sum == nil || c.count == 0 {
		return nil, nil, ErrNoBatches
	}
	n := float64(c.count)
	mean := append([]float64(nil), c.sum...)
	floats.Scale(1/n, mean)
	std := make([]float64, len(mean))
	c.clamped = 0
	for ch := range mean {
		variance := c.sumSqr[ch]/n - mean[ch]*mean[ch]
		if variance < 0 {
			variance = 0
			c.clamped++
		}
		std[ch] = math.Sqrt(variance)
	}
	return mean, std, nil
}

// Clamped is the number of channels whose variance was clamped by the last Finalize.
func (c *ChannelStats) Clamped() int {
	return c.clamped
}

func (c *ChannelStats) Batches() int {
	return c.batches
}

func (c *ChannelStats) Count() int64 {
	return c.count
}

// TeacherChannelMeanStd runs the teacher over one full pass of the loader and
// returns the channel-wise mean and std of its activations.
func TeacherChannelMeanStd(model Model, loader data.Iterable, log *logrus.Entry) ([]float64, []float64, error) {
	log = componentLogger(log, "calibration")
	stats := NewChannelStats()
	it := loader.Iter()
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "read training batch")
		}
		features, err := model.TeacherFeatures(batch.Image)
		if err != nil {
			return nil, nil, errors.Wrap(err, "teacher forward")
		}
		if err := stats.Update(features); err != nil {
			return nil, nil, err
		}
		if stats.Batches()%progressEvery == 0 {
			log.WithField("batches", stats.Batches()).Debug("teacher channel mean & std")
		}
	}
	mean, std, err := stats.Finalize()
	if err != nil {
		return nil, nil, err
	}
	if stats.Clamped() > 0 {
		log.WithField("channels", stats.Clamped()).Warn("negative channel variance clamped to zero")
	}
	log.WithFields(logrus.Fields{
		"batches":  stats.Batches(),
		"channels": len(mean),
		"elements": stats.Count(),
	}).Info("teacher channel statistics computed")
	return mean, std, nil
}
