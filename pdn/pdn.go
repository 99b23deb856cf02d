// Package pdn implements the patch description networks and the
// autoencoder that make up an EfficientAd model.
package pdn

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/efficientad"
	"github.com/youngquan/anomalib/nn"
	"github.com/youngquan/anomalib/tensor"
)

var (
	imagenetMean = []float64{0.485, 0.456, 0.406}
	imagenetStd  = []float64{0.229, 0.224, 0.225}
)

// stage is one spatial step of a network, used to derive output sizes.
type stage struct {
	kernel, stride, pad int
}

func (s stage) apply(n int) int {
	return (n+2*s.pad-s.kernel)/s.stride + 1
}

// PDN is a patch description network. Inputs are [batch, 3, h, w] images in
// [0, 1]; they are ImageNet-normalized before the first convolution.
type PDN struct {
	net    *nn.Sequential
	stages []stage
}

// NewPDN builds the small or medium network. width overrides the first
// hidden width (128 for small, 256 for medium) and is doubled after the
// first pooling stage; zero keeps the standard width. With padding false the
// convolutions and poolings use no padding.
func NewPDN(size efficientad.ModelSize, outChannels, width int, padding bool) (*PDN, error) {
	if outChannels <= 0 {
		return nil, errors.Errorf("output channels must be positive, got %d", outChannels)
	}
	p := 0
	if padding {
		p = 1
	}
	switch size {
	case efficientad.ModelSizeSmall:
		if width <= 0 {
			width = 128
		}
		stages := []stage{{4, 1, 3 * p}, {2, 2, p}, {4, 1, 3 * p}, {2, 2, p}, {3, 1, p}, {4, 1, 0}}
		net := nn.NewSequential(
			nn.NewConv2d(3, width, 4, 4, 1, 1, 3*p, 3*p, true), nn.Relu(),
			nn.NewAvgPool2d(2, 2, 2, 2, p, p),
			nn.NewConv2d(width, 2*width, 4, 4, 1, 1, 3*p, 3*p, true), nn.Relu(),
			nn.NewAvgPool2d(2, 2, 2, 2, p, p),
			nn.NewConv2d(2*width, 2*width, 3, 3, 1, 1, p, p, true), nn.Relu(),
			nn.NewConv2d(2*width, outChannels, 4, 4, 1, 1, 0, 0, true),
		)
		return &PDN{net: net, stages: stages}, nil
	case efficientad.ModelSizeMedium:
		if width <= 0 {
			width = 256
		}
		stages := []stage{{4, 1, 3 * p}, {2, 2, p}, {4, 1, 3 * p}, {2, 2, p}, {1, 1, 0}, {3, 1, p}, {4, 1, 0}, {1, 1, 0}}
		net := nn.NewSequential(
			nn.NewConv2d(3, width, 4, 4, 1, 1, 3*p, 3*p, true), nn.Relu(),
			nn.NewAvgPool2d(2, 2, 2, 2, p, p),
			nn.NewConv2d(width, 2*width, 4, 4, 1, 1, 3*p, 3*p, true), nn.Relu(),
			nn.NewAvgPool2d(2, 2, 2, 2, p, p),
			nn.NewConv2d(2*width, 2*width, 1, 1, 1, 1, 0, 0, true), nn.Relu(),
			nn.NewConv2d(2*width, 2*width, 3, 3, 1, 1, p, p, true), nn.Relu(),
			nn.NewConv2d(2*width, outChannels, 4, 4, 1, 1, 0, 0, true), nn.Relu(),
			nn.NewConv2d(outChannels, outChannels, 1, 1, 1, 1, 0, 0, true),
		)
		return &PDN{net: net, stages: stages}, nil
	default:
		return nil, errors.Errorf("unknown model size %q", size)
	}
}

func (p *PDN) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := tensor.NormalizeChannels(input, imagenetMean, imagenetStd)
	if err != nil {
		return nil, errors.Wrap(err, "imagenet normalization")
	}
	return p.net.Forward(x)
}

func (p *PDN) Parameters() []*tensor.Tensor {
	return p.net.Parameters()
}

func (p *PDN) ZeroGrad() {
	p.net.ZeroGrad()
}

func (p *PDN) StateDict(prefix string, state map[string]*tensor.Tensor) {
	p.net.StateDict(prefix, state)
}

func (p *PDN) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return p.net.LoadState(prefix, state)
}

// OutputSize is the spatial size of the feature map for an h x w input.
func (p *PDN) OutputSize(h, w int) (int, int) {
	for _, s := range p.stages {
		h, w = s.apply(h), s.apply(w)
	}
	return h, w
}

// Freeze stops gradient tracking on every parameter.
func (p *PDN) Freeze() {
	nn.Freeze(p.net)
}
