package tensor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// Binary operations require equal shapes; there is no broadcasting.

func Add(a, b *Tensor) (*Tensor, error) {
	return binary("add", a, b,
		func(x, y float64) float64 { return x + y },
		func(grad *Tensor) *Tensor { return grad },
		func(grad *Tensor) *Tensor { return grad })
}

func Sub(a, b *Tensor) (*Tensor, error) {
	return binary("sub", a, b,
		func(x, y float64) float64 { return x - y },
		func(grad *Tensor) *Tensor { return grad },
		func(grad *Tensor) *Tensor { return mapValues(grad, func(g float64) float64 { return -g }) })
}

func Mul(a, b *Tensor) (*Tensor, error) {
	return binary("mul", a, b, mul,
		func(grad *Tensor) *Tensor { return zipValues(grad, b, mul) },
		func(grad *Tensor) *Tensor { return zipValues(grad, a, mul) })
}

func Div(a, b *Tensor) (*Tensor, error) {
	return binary("div", a, b,
		func(x, y float64) float64 { return x / y },
		func(grad *Tensor) *Tensor {
			return zipValues(grad, b, func(g, y float64) float64 { return g / y })
		},
		func(grad *Tensor) *Tensor {
			out := zipValues(grad, a, mul)
			for i, y := range b.data {
				out.data[i] = -out.data[i] / (y * y)
			}
			return out
		})
}

func Pow(a *Tensor, exponent float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return math.Pow(x, exponent) },
		func(x, _ float64) float64 { return exponent * math.Pow(x, exponent-1) })
}

func AddScalar(a *Tensor, value float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return x + value },
		func(_, _ float64) float64 { return 1 })
}

func MulScalar(a *Tensor, value float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return x * value },
		func(_, _ float64) float64 { return value })
}

// Sum reduces a to a tensor of shape [1].
func Sum(a *Tensor) *Tensor {
	return reduce(a, 1)
}

// Mean reduces a to its average, shape [1].
func Mean(a *Tensor) *Tensor {
	return reduce(a, 1/float64(a.Numel()))
}

func reduce(a *Tensor, scale float64) *Tensor {
	total := 0.0
	for _, v := range a.data {
		total += v
	}
	out := MustNew([]float64{total * scale}, 1)
	if !a.requiresGrad {
		return out
	}
	out.requiresGrad = true
	out.parents = []*Tensor{a}
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			accumulate(grads, a, Full(grad.data[0]*scale, a.shape...))
		},
	}
	return out
}

func mul(x, y float64) float64 { return x * y }

// binary computes f over a and b. gradA and gradB map the output gradient to
// the gradient of each operand and only run for operands that track gradients.
func binary(op string, a, b *Tensor, f func(x, y float64) float64, gradA, gradB func(grad *Tensor) *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, errors.Wrap(err, op)
	}
	out := zipValues(a, b, f)
	var parents []*Tensor
	if a.requiresGrad {
		parents = append(parents, a)
	}
	if b.requiresGrad {
		parents = append(parents, b)
	}
	if len(parents) == 0 {
		return out, nil
	}
	out.requiresGrad = true
	out.parents = parents
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			if a.requiresGrad {
				accumulate(grads, a, gradA(grad))
			}
			if b.requiresGrad {
				accumulate(grads, b, gradB(grad))
			}
		},
	}
	return out, nil
}

// unary computes f over a. df returns the local derivative from the input
// and output value of each element.
func unary(a *Tensor, f func(x float64) float64, df func(x, y float64) float64) *Tensor {
	out := mapValues(a, f)
	if !a.requiresGrad {
		return out
	}
	out.requiresGrad = true
	out.parents = []*Tensor{a}
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			local := zipValues(a, out, df)
			accumulate(grads, a, zipValues(grad, local, mul))
		},
	}
	return out
}

// mapValues and zipValues build untracked tensors of a's shape.
func mapValues(a *Tensor, f func(x float64) float64) *Tensor {
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = f(a.data[i])
		}
	})
	return out
}

func zipValues(a, b *Tensor, f func(x, y float64) float64) *Tensor {
	if err := ensureSameShape(a, b); err != nil {
		panic(err)
	}
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = f(a.data[i], b.data[i])
		}
	})
	return out
}

func ensureSameShape(a, b *Tensor) error {
	if !sameExcept(a.shape, b.shape, -1) {
		return errors.Errorf("shape mismatch: %v vs %v", a.shape, b.shape)
	}
	return nil
}

// sameExcept reports whether a and b have the same rank and agree on every
// dimension other than skip.
func sameExcept(a, b []int, skip int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if i != skip && a[i] != b[i] {
			return false
		}
	}
	return true
}
