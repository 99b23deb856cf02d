package tensor

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// AvgPool2D applies 2D average pooling on the input tensor.
// Input shape: [batch, channels, in_h, in_w]
//
// Padded cells count as zeros, so every window is divided by
// kernelH*kernelW. Windows must overlap the input.
func AvgPool2D(input *Tensor, kernelH, kernelW, strideH, strideW, padH, padW int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, errors.New("AvgPool2D expects input shape [batch, channels, height, width]")
	}
	if kernelH <= 0 || kernelW <= 0 {
		return nil, errors.New("kernel size must be positive")
	}
	if strideH <= 0 || strideW <= 0 {
		return nil, errors.New("stride must be positive")
	}
	if padH < 0 || padW < 0 || 2*padH > kernelH || 2*padW > kernelW {
		return nil, errors.New("padding must be between zero and half the kernel size")
	}
	batch := input.shape[0]
	channels := input.shape[1]
	inH := input.shape[2]
	inW := input.shape[3]
	outH := (inH+2*padH-kernelH)/strideH + 1
	outW := (inW+2*padW-kernelW)/strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, errors.New("invalid output size")
	}
	area := float64(kernelH * kernelW)

	// window visits the in-bounds input offsets of the window at (oh, ow).
	window := func(inBase, oh, ow int, visit func(idx int)) int {
		cells := 0
		ih0 := oh*strideH - padH
		iw0 := ow*strideW - padW
		for ih := max(ih0, 0); ih < min(ih0+kernelH, inH); ih++ {
			row := inBase + ih*inW
			for iw := max(iw0, 0); iw < min(iw0+kernelW, inW); iw++ {
				visit(row + iw)
				cells++
			}
		}
		return cells
	}

	out := Zeros(batch, channels, outH, outW)
	var empty int32
	parallel.For(batch*channels, func(start, end int) {
		for nc := start; nc < end; nc++ {
			inBase := nc * inH * inW
			outBase := nc * outH * outW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := 0.0
					if window(inBase, oh, ow, func(idx int) { sum += input.data[idx] }) == 0 {
						atomic.StoreInt32(&empty, 1)
						return
					}
					out.data[outBase+oh*outW+ow] = sum / area
				}
			}
		}
	})
	if atomic.LoadInt32(&empty) == 1 {
		return nil, errors.New("AvgPool2D kernel has no overlap with input")
	}

	if !input.requiresGrad {
		return out, nil
	}

	out.requiresGrad = true
	out.parents = []*Tensor{input}
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			gInput := Zeros(input.shape...)
			// Channels never share input cells, so each worker owns its slice of gInput.
			parallel.For(batch*channels, func(start, end int) {
				for nc := start; nc < end; nc++ {
					inBase := nc * inH * inW
					outBase := nc * outH * outW
					for oh := 0; oh < outH; oh++ {
						for ow := 0; ow < outW; ow++ {
							share := grad.data[outBase+oh*outW+ow] / area
							if share == 0 {
								continue
							}
							window(inBase, oh, ow, func(idx int) { gInput.data[idx] += share })
						}
					}
				}
			})
			accumulate(grads, input, gInput)
		},
	}

	return out, nil
}
