package efficientad

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

const (
	// MaxQuantileElements caps how many map elements enter a quantile
	// computation. Larger inputs are reduced to a random subset of this size.
	MaxQuantileElements = 1 << 24

	QuantileA = 0.9
	QuantileB = 0.995
)

// QuantileEstimator computes the map normalization quantiles. Its random
// source only drives subsampling, so results are reproducible per seed.
type QuantileEstimator struct {
	maxElements int
	rng         *rand.Rand
	log         *logrus.Entry
}

func NewQuantileEstimator(seed int64) *QuantileEstimator {
	return &QuantileEstimator{
		maxElements: MaxQuantileElements,
		rng:         rand.New(rand.NewSource(seed)),
		log:         componentLogger(nil, "quantile"),
	}
}

// WithMaxElements overrides the subsampling ceiling.
func (q *QuantileEstimator) WithMaxElements(n int) *QuantileEstimator {
	if n > 0 {
		q.maxElements = n
	}
	return q
}

func (q *QuantileEstimator) WithLogger(log *logrus.Entry) *QuantileEstimator {
	q.log = componentLogger(log, "quantile")
	return q
}

// Quantiles flattens maps into one population and returns its 0.9 and 0.995
// quantiles. qa > qb is possible on degenerate inputs and is returned as is.
func (q *QuantileEstimator) Quantiles(maps []*tensor.Tensor) (float64, float64, error) {
	total := 0
	for _, m := range maps {
		if m == nil {
			return 0, 0, errors.New("nil map in quantile input")
		}
		total += m.Numel()
	}
	if total == 0 {
		return 0, 0, ErrNoNormalMaps
	}
	values := make([]float64, 0, total)
	for _, m := range maps {
		values = append(values, m.Data()...)
	}
	if len(values) > q.maxElements {
		q.log.WithFields(logrus.Fields{
			"elements": len(values),
			"kept":     q.maxElements,
		}).Debug("subsampling map elements for quantiles")
	}
	values = ReduceElements(values, q.maxElements, q.rng)
	sort.Float64s(values)
	return Quantile(values, QuantileA), Quantile(values, QuantileB), nil
}

// ScoredSample pairs the raw maps of one image with its label.
type ScoredSample struct {
	Label          int
	MapStudent     *tensor.Tensor
	MapAutoencoder *tensor.Tensor
}

// MapQuantiles computes Quantiles for both branches over the normal samples only.
func (q *QuantileEstimator) MapQuantiles(samples []ScoredSample) (Quantiles, error) {
	var student, autoencoder []*tensor.Tensor
	for _, s := range samples {
		if s.Label != data.LabelNormal {
			continue
		}
		student = append(student, s.MapStudent)
		autoencoder = append(autoencoder, s.MapAutoencoder)
	}
	if len(student) == 0 {
		return Quantiles{}, ErrNoNormalMaps
	}
	var out Quantiles
	var err error
	if out.QaStudent, out.QbStudent, err = q.Quantiles(student); err != nil {
		return Quantiles{}, errors.Wrap(err, "student map quantiles")
	}
	if out.QaAutoencoder, out.QbAutoencoder, err = q.Quantiles(autoencoder); err != nil {
		return Quantiles{}, errors.Wrap(err, "autoencoder map quantiles")
	}
	if out.QaStudent > out.QbStudent || out.QaAutoencoder > out.QbAutoencoder {
		q.log.WithFields(logrus.Fields{
			"qa_st": out.QaStudent, "qb_st": out.QbStudent,
			"qa_ae": out.QaAutoencoder, "qb_ae": out.QbAutoencoder,
		}).Info("map quantiles are inverted")
	}
	return out, nil
}

// ReduceElements returns values unchanged when it holds at most max elements.
// Otherwise it returns max elements drawn uniformly without replacement. The
// draw is a partial shuffle of values in place; the result aliases values.
func ReduceElements(values []float64, max int, rng *rand.Rand) []float64 {
	if max <= 0 || len(values) <= max {
		return values
	}
	for i := 0; i < max; i++ {
		j := i + rng.Intn(len(values)-i)
		values[i], values[j] = values[j], values[i]
	}
	return values[:max]
}

// Quantile returns the q-quantile of sorted values with linear interpolation
// between the two closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
