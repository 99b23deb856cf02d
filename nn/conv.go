package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/tensor"
)

// Conv2d is a 2-D convolution over [batch, channels, height, width] inputs.
// Weights use He initialization drawn from the package-level tensor RNG.
type Conv2d struct {
	inChannels  int
	outChannels int
	kernelH     int
	kernelW     int
	strideH     int
	strideW     int
	padH        int
	padW        int
	weight      *tensor.Tensor
	bias        *tensor.Tensor
}

func NewConv2d(inChannels, outChannels, kernelH, kernelW int, strideH, strideW, padH, padW int, withBias bool) *Conv2d {
	if strideH <= 0 {
		strideH = 1
	}
	if strideW <= 0 {
		strideW = 1
	}
	w := tensor.Randn(outChannels, inChannels, kernelH, kernelW)
	w.Scale(math.Sqrt(2.0 / float64(inChannels*kernelH*kernelW)))
	w.SetRequiresGrad(true)
	var b *tensor.Tensor
	if withBias {
		b = tensor.Zeros(outChannels)
		b.SetRequiresGrad(true)
	}
	return &Conv2d{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelH:     kernelH,
		kernelW:     kernelW,
		strideH:     strideH,
		strideW:     strideW,
		padH:        padH,
		padW:        padW,
		weight:      w,
		bias:        b,
	}
}

func (c *Conv2d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.Conv2D(input, c.weight, c.bias, c.strideH, c.strideW, c.padH, c.padW)
	if err != nil {
		return nil, errors.Wrapf(err, "conv2d %d->%d", c.inChannels, c.outChannels)
	}
	return out, nil
}

func (c *Conv2d) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{c.weight}
	if c.bias != nil {
		params = append(params, c.bias)
	}
	return params
}

func (c *Conv2d) ZeroGrad() {
	for _, p := range c.Parameters() {
		p.ZeroGrad()
	}
}

func (c *Conv2d) Weight() *tensor.Tensor {
	return c.weight
}

func (c *Conv2d) Bias() *tensor.Tensor {
	return c.bias
}

func (c *Conv2d) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[JoinPrefix(prefix, "weight")] = c.weight.Clone()
	if c.bias != nil {
		state[JoinPrefix(prefix, "bias")] = c.bias.Clone()
	}
}

func (c *Conv2d) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return errors.New("state dict is nil")
	}
	if err := loadInto(c.weight, JoinPrefix(prefix, "weight"), state); err != nil {
		return err
	}
	if c.bias == nil {
		return nil
	}
	return loadInto(c.bias, JoinPrefix(prefix, "bias"), state)
}

func loadInto(dst *tensor.Tensor, key string, state map[string]*tensor.Tensor) error {
	src, ok := state[key]
	if !ok {
		return errors.Errorf("missing %s", key)
	}
	return errors.Wrapf(tensor.CopyInto(dst, src), "load %s", key)
}
