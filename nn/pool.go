package nn

import "github.com/youngquan/anomalib/tensor"

// AvgPool2d averages kernelH x kernelW windows. Padded cells count as zeros.
type AvgPool2d struct {
	kernelH int
	kernelW int
	strideH int
	strideW int
	padH    int
	padW    int
}

// NewAvgPool2d defaults a non-positive stride to the kernel size.
func NewAvgPool2d(kernelH, kernelW, strideH, strideW, padH, padW int) *AvgPool2d {
	if strideH <= 0 {
		strideH = kernelH
	}
	if strideW <= 0 {
		strideW = kernelW
	}
	return &AvgPool2d{
		kernelH: kernelH,
		kernelW: kernelW,
		strideH: strideH,
		strideW: strideW,
		padH:    padH,
		padW:    padW,
	}
}

func (a *AvgPool2d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.AvgPool2D(input, a.kernelH, a.kernelW, a.strideH, a.strideW, a.padH, a.padW)
}

func (a *AvgPool2d) Parameters() []*tensor.Tensor {
	return nil
}

func (a *AvgPool2d) ZeroGrad() {}
