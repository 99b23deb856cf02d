package pdn

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/nn"
	"github.com/youngquan/anomalib/tensor"
)

// Autoencoder compresses the image with strided convolutions and decodes it
// into a feature map the size of the teacher output.
type Autoencoder struct {
	encoder *nn.Sequential
	decoder *nn.Sequential
}

// NewAutoencoder builds the autoencoder. width is the bottleneck width; zero
// selects 64.
func NewAutoencoder(outChannels, width int) *Autoencoder {
	if width <= 0 {
		width = 64
	}
	half := width / 2
	if half == 0 {
		half = 1
	}
	return &Autoencoder{
		encoder: nn.NewSequential(
			nn.NewConv2d(3, half, 4, 4, 2, 2, 1, 1, true), nn.Relu(),
			nn.NewConv2d(half, width, 4, 4, 2, 2, 1, 1, true), nn.Relu(),
			nn.NewConv2d(width, width, 4, 4, 2, 2, 1, 1, true), nn.Relu(),
		),
		decoder: nn.NewSequential(
			nn.NewConv2d(width, width, 3, 3, 1, 1, 1, 1, true), nn.Relu(),
			nn.NewConv2d(width, outChannels, 3, 3, 1, 1, 1, 1, true),
		),
	}
}

// Forward maps images to [batch, outChannels, outH, outW].
func (a *Autoencoder) Forward(input *tensor.Tensor, outH, outW int) (*tensor.Tensor, error) {
	x, err := tensor.NormalizeChannels(input, imagenetMean, imagenetStd)
	if err != nil {
		return nil, errors.Wrap(err, "imagenet normalization")
	}
	code, err := a.encoder.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	up, err := tensor.UpsampleNearest(code, outH, outW)
	if err != nil {
		return nil, errors.Wrap(err, "upsample")
	}
	return a.decoder.Forward(up)
}

func (a *Autoencoder) Parameters() []*tensor.Tensor {
	return append(a.encoder.Parameters(), a.decoder.Parameters()...)
}

func (a *Autoencoder) ZeroGrad() {
	a.encoder.ZeroGrad()
	a.decoder.ZeroGrad()
}

func (a *Autoencoder) StateDict(prefix string, state map[string]*tensor.Tensor) {
	a.encoder.StateDict(nn.JoinPrefix(prefix, "encoder"), state)
	a.decoder.StateDict(nn.JoinPrefix(prefix, "decoder"), state)
}

func (a *Autoencoder) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if err := a.encoder.LoadState(nn.JoinPrefix(prefix, "encoder"), state); err != nil {
		return err
	}
	return a.decoder.LoadState(nn.JoinPrefix(prefix, "decoder"), state)
}

