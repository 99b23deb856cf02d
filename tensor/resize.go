package tensor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// Pad2D surrounds the spatial axes of a [batch, channels, h, w] tensor with
// pad zeros on every side. The result never tracks gradients.
func Pad2D(input *Tensor, pad int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, errors.New("Pad2D expects shape [batch, channels, height, width]")
	}
	if pad < 0 {
		return nil, errors.New("Pad2D padding must be non-negative")
	}
	planes := input.shape[0] * input.shape[1]
	inH, inW := input.shape[2], input.shape[3]
	outH, outW := inH+2*pad, inW+2*pad
	out := Zeros(input.shape[0], input.shape[1], outH, outW)
	parallel.For(planes, func(start, end int) {
		for p := start; p < end; p++ {
			for h := 0; h < inH; h++ {
				src := (p*inH + h) * inW
				dst := (p*outH+h+pad)*outW + pad
				copy(out.data[dst:dst+inW], input.data[src:src+inW])
			}
		}
	})
	return out, nil
}

// ResizeBilinear resamples the spatial axes of a [batch, channels, h, w]
// tensor with half-pixel centres, the convention of bilinear interpolation
// without corner alignment. The result never tracks gradients.
func ResizeBilinear(input *Tensor, outH, outW int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, errors.New("ResizeBilinear expects shape [batch, channels, height, width]")
	}
	if outH <= 0 || outW <= 0 {
		return nil, errors.New("ResizeBilinear output size must be positive")
	}
	planes := input.shape[0] * input.shape[1]
	inH, inW := input.shape[2], input.shape[3]
	h0, h1, hl := bilinearTaps(inH, outH)
	w0, w1, wl := bilinearTaps(inW, outW)
	out := Zeros(input.shape[0], input.shape[1], outH, outW)
	parallel.For(planes, func(start, end int) {
		for p := start; p < end; p++ {
			src := input.data[p*inH*inW : (p+1)*inH*inW]
			dst := out.data[p*outH*outW : (p+1)*outH*outW]
			for oh := 0; oh < outH; oh++ {
				top := src[h0[oh]*inW : (h0[oh]+1)*inW]
				bottom := src[h1[oh]*inW : (h1[oh]+1)*inW]
				for ow := 0; ow < outW; ow++ {
					t := top[w0[ow]] + (top[w1[ow]]-top[w0[ow]])*wl[ow]
					b := bottom[w0[ow]] + (bottom[w1[ow]]-bottom[w0[ow]])*wl[ow]
					dst[oh*outW+ow] = t + (b-t)*hl[oh]
				}
			}
		}
	})
	return out, nil
}

func bilinearTaps(in, out int) ([]int, []int, []float64) {
	lo := make([]int, out)
	hi := make([]int, out)
	lambda := make([]float64, out)
	scale := float64(in) / float64(out)
	for o := 0; o < out; o++ {
		src := (float64(o)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i := int(math.Floor(src))
		if i > in-1 {
			i = in - 1
		}
		lo[o] = i
		hi[o] = i
		if i < in-1 {
			hi[o] = i + 1
		}
		lambda[o] = src - float64(i)
	}
	return lo, hi, lambda
}
