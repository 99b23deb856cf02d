package tensor

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// ChannelMoments reduces a [batch, channels, height, width] tensor over every
// axis except the channel axis. It returns the per-channel sum, the
// per-channel sum of squares and the number of elements folded into each
// channel.
func ChannelMoments(t *Tensor) ([]float64, []float64, int, error) {
	if len(t.shape) != 4 {
		return nil, nil, 0, errors.New("ChannelMoments expects shape [batch, channels, height, width]")
	}
	batch, channels := t.shape[0], t.shape[1]
	plane := t.shape[2] * t.shape[3]
	sum := make([]float64, channels)
	sumSqr := make([]float64, channels)
	parallel.For(channels, func(start, end int) {
		for c := start; c < end; c++ {
			s, sq := 0.0, 0.0
			for n := 0; n < batch; n++ {
				base := (n*channels + c) * plane
				for _, v := range t.data[base : base+plane] {
					s += v
					sq += v * v
				}
			}
			sum[c] = s
			sumSqr[c] = sq
		}
	})
	return sum, sumSqr, batch * plane, nil
}

// NormalizeChannels computes (t - mean[c]) / std[c] for every channel c.
// The result never tracks gradients.
func NormalizeChannels(t *Tensor, mean, std []float64) (*Tensor, error) {
	if len(t.shape) != 4 {
		return nil, errors.New("NormalizeChannels expects shape [batch, channels, height, width]")
	}
	channels := t.shape[1]
	if len(mean) != channels || len(std) != channels {
		return nil, errors.New("NormalizeChannels statistics do not match channel count")
	}
	plane := t.shape[2] * t.shape[3]
	out := Zeros(t.shape...)
	parallel.For(t.shape[0]*channels, func(start, end int) {
		for idx := start; idx < end; idx++ {
			c := idx % channels
			base := idx * plane
			for i := base; i < base+plane; i++ {
				out.data[i] = (t.data[i] - mean[c]) / std[c]
			}
		}
	})
	return out, nil
}

// MeanChannels averages over the channel axis and keeps it as a singleton,
// producing [batch, 1, height, width].
func MeanChannels(t *Tensor) (*Tensor, error) {
	if len(t.shape) != 4 {
		return nil, errors.New("MeanChannels expects shape [batch, channels, height, width]")
	}
	batch, channels := t.shape[0], t.shape[1]
	plane := t.shape[2] * t.shape[3]
	out := Zeros(batch, 1, t.shape[2], t.shape[3])
	scale := 1.0 / float64(channels)
	parallel.For(batch, func(start, end int) {
		for n := start; n < end; n++ {
			dst := out.data[n*plane : (n+1)*plane]
			for c := 0; c < channels; c++ {
				base := (n*channels + c) * plane
				for i, v := range t.data[base : base+plane] {
					dst[i] += v * scale
				}
			}
		}
	})
	if !t.requiresGrad {
		return out, nil
	}
	out.requiresGrad = true
	out.parents = []*Tensor{t}
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			g := Zeros(t.shape...)
			parallel.For(batch, func(start, end int) {
				for n := start; n < end; n++ {
					src := grad.data[n*plane : (n+1)*plane]
					for c := 0; c < channels; c++ {
						base := (n*channels + c) * plane
						for i, v := range src {
							g.data[base+i] = v * scale
						}
					}
				}
			})
			accumulate(grads, t, g)
		},
	}
	return out, nil
}

// UpsampleNearest resizes the spatial axes of a [batch, channels, h, w]
// tensor to outH x outW by nearest-neighbour lookup.
func UpsampleNearest(input *Tensor, outH, outW int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, errors.New("UpsampleNearest expects shape [batch, channels, height, width]")
	}
	if outH <= 0 || outW <= 0 {
		return nil, errors.New("UpsampleNearest output size must be positive")
	}
	planes := input.shape[0] * input.shape[1]
	inH, inW := input.shape[2], input.shape[3]
	srcIdx := make([]int, outH*outW)
	for oh := 0; oh < outH; oh++ {
		ih := oh * inH / outH
		for ow := 0; ow < outW; ow++ {
			iw := ow * inW / outW
			srcIdx[oh*outW+ow] = ih*inW + iw
		}
	}
	out := Zeros(input.shape[0], input.shape[1], outH, outW)
	parallel.For(planes, func(start, end int) {
		for p := start; p < end; p++ {
			srcBase := p * inH * inW
			dstBase := p * outH * outW
			for i, s := range srcIdx {
				out.data[dstBase+i] = input.data[srcBase+s]
			}
		}
	})
	if !input.requiresGrad {
		return out, nil
	}
	out.requiresGrad = true
	out.parents = []*Tensor{input}
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			g := Zeros(input.shape...)
			parallel.For(planes, func(start, end int) {
				for p := start; p < end; p++ {
					srcBase := p * inH * inW
					dstBase := p * outH * outW
					for i, s := range srcIdx {
						g.data[srcBase+s] += grad.data[dstBase+i]
					}
				}
			})
			accumulate(grads, input, g)
		},
	}
	return out, nil
}
