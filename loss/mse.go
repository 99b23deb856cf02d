// Package loss holds the distillation losses shared by the networks.
package loss

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/tensor"
)

// MSE is the mean over all elements of (pred - target)^2. Both operands must
// have the same shape; gradients flow into whichever of them requires one.
func MSE(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return nil, errors.Wrap(err, "mse")
	}
	return tensor.Mean(tensor.Pow(diff, 2)), nil
}
