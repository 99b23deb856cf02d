package tensor

func Relu(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return max(x, 0) },
		func(_, y float64) float64 {
			if y > 0 {
				return 1
			}
			return 0
		})
}
