package tensor

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// In-place updates bypass the graph. Optimizers use them on parameter values
// and on their moment buffers.

func (t *Tensor) Scale(v float64) {
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] *= v
		}
	})
}

// AddScaled adds alpha*other to t.
func (t *Tensor) AddScaled(other *Tensor, alpha float64) error {
	return t.updateWith(other, func(x, y float64) float64 { return x + alpha*y })
}

// MulInPlace multiplies t by other elementwise.
func (t *Tensor) MulInPlace(other *Tensor) error {
	return t.updateWith(other, mul)
}

func (t *Tensor) updateWith(other *Tensor, f func(x, y float64) float64) error {
	if err := ensureSameShape(t, other); err != nil {
		return errors.Wrap(err, "in-place update")
	}
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] = f(t.data[i], other.data[i])
		}
	})
	return nil
}
