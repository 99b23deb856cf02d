package tensor

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// convGeometry holds the sizes of one Conv2D call.
type convGeometry struct {
	batch, inC, inH, inW   int
	outC, kH, kW           int
	strideH, strideW       int
	padH, padW, outH, outW int
}

// taps calls visit with the flat input and weight index of every kernel tap
// of output position (n, oc, oh, ow) that lands inside the input.
func (g *convGeometry) taps(n, oc, oh, ow int, visit func(inIdx, wIdx int)) {
	for ic := 0; ic < g.inC; ic++ {
		for kh := 0; kh < g.kH; kh++ {
			ih := oh*g.strideH - g.padH + kh
			if ih < 0 || ih >= g.inH {
				continue
			}
			inRow := ((n*g.inC+ic)*g.inH + ih) * g.inW
			wRow := ((oc*g.inC+ic)*g.kH + kh) * g.kW
			for kw := 0; kw < g.kW; kw++ {
				iw := ow*g.strideW - g.padW + kw
				if iw < 0 || iw >= g.inW {
					continue
				}
				visit(inRow+iw, wRow+kw)
			}
		}
	}
}

// outputs calls visit for every output position of sample n and channel oc
// with its flat output index.
func (g *convGeometry) outputs(n, oc int, visit func(oh, ow, outIdx int)) {
	base := (n*g.outC + oc) * g.outH * g.outW
	for oh := 0; oh < g.outH; oh++ {
		for ow := 0; ow < g.outW; ow++ {
			visit(oh, ow, base+oh*g.outW+ow)
		}
	}
}

// Conv2D performs a 2D convolution with optional bias.
// Input shape: [batch, in_channels, in_h, in_w]
// Weight shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape (optional): [out_channels]
func Conv2D(input, weight, bias *Tensor, strideH, strideW, padH, padW int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, errors.Errorf("Conv2D expects input shape [batch, channels, height, width], got %v", input.shape)
	}
	if len(weight.shape) != 4 {
		return nil, errors.Errorf("Conv2D expects weight shape [out_channels, in_channels, kernel_h, kernel_w], got %v", weight.shape)
	}
	if bias != nil && (len(bias.shape) != 1 || bias.shape[0] != weight.shape[0]) {
		return nil, errors.Errorf("Conv2D bias shape %v does not match %d output channels", bias.shape, weight.shape[0])
	}
	if weight.shape[1] != input.shape[1] {
		return nil, errors.Errorf("Conv2D kernel expects %d input channels, got %d", weight.shape[1], input.shape[1])
	}
	if strideH <= 0 || strideW <= 0 {
		return nil, errors.New("stride must be positive")
	}
	g := &convGeometry{
		batch: input.shape[0], inC: input.shape[1], inH: input.shape[2], inW: input.shape[3],
		outC: weight.shape[0], kH: weight.shape[2], kW: weight.shape[3],
		strideH: strideH, strideW: strideW, padH: padH, padW: padW,
	}
	g.outH = (g.inH+2*padH-g.kH)/strideH + 1
	g.outW = (g.inW+2*padW-g.kW)/strideW + 1
	if g.outH <= 0 || g.outW <= 0 {
		return nil, errors.Errorf("Conv2D output size %dx%d is empty", g.outH, g.outW)
	}

	out := Zeros(g.batch, g.outC, g.outH, g.outW)
	parallel.For(g.batch*g.outC, func(start, end int) {
		for job := start; job < end; job++ {
			n, oc := job/g.outC, job%g.outC
			g.outputs(n, oc, func(oh, ow, outIdx int) {
				acc := 0.0
				g.taps(n, oc, oh, ow, func(inIdx, wIdx int) {
					acc += input.data[inIdx] * weight.data[wIdx]
				})
				if bias != nil {
					acc += bias.data[oc]
				}
				out.data[outIdx] = acc
			})
		}
	})

	withBias := bias != nil && bias.requiresGrad
	var parents []*Tensor
	for _, p := range []*Tensor{input, weight} {
		if p.requiresGrad {
			parents = append(parents, p)
		}
	}
	if withBias {
		parents = append(parents, bias)
	}
	if len(parents) == 0 {
		return out, nil
	}

	out.requiresGrad = true
	out.parents = parents
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			if input.requiresGrad {
				// Samples own disjoint slices of the input gradient.
				gInput := Zeros(input.shape...)
				parallel.For(g.batch, func(start, end int) {
					for n := start; n < end; n++ {
						for oc := 0; oc < g.outC; oc++ {
							g.outputs(n, oc, func(oh, ow, outIdx int) {
								gVal := grad.data[outIdx]
								g.taps(n, oc, oh, ow, func(inIdx, wIdx int) {
									gInput.data[inIdx] += weight.data[wIdx] * gVal
								})
							})
						}
					}
				})
				accumulate(grads, input, gInput)
			}
			if weight.requiresGrad {
				// Output channels own disjoint slices of the weight gradient.
				gWeight := Zeros(weight.shape...)
				parallel.For(g.outC, func(start, end int) {
					for oc := start; oc < end; oc++ {
						for n := 0; n < g.batch; n++ {
							g.outputs(n, oc, func(oh, ow, outIdx int) {
								gVal := grad.data[outIdx]
								g.taps(n, oc, oh, ow, func(inIdx, wIdx int) {
									gWeight.data[wIdx] += input.data[inIdx] * gVal
								})
							})
						}
					}
				})
				accumulate(grads, weight, gWeight)
			}
			if withBias {
				gBias := Zeros(bias.shape...)
				for n := 0; n < g.batch; n++ {
					for oc := 0; oc < g.outC; oc++ {
						g.outputs(n, oc, func(_, _, outIdx int) {
							gBias.data[oc] += grad.data[outIdx]
						})
					}
				}
				accumulate(grads, bias, gBias)
			}
		},
	}
	return out, nil
}
