// Package tensor is a float64 n-dimensional array with reverse-mode
// automatic differentiation.
package tensor

import "github.com/pkg/errors"

// Tensor is a dense row-major array. Operations on tensors that require
// gradients record a node so Backward can walk the graph.
type Tensor struct {
	data         []float64
	shape        []int
	grad         *Tensor
	requiresGrad bool
	node         *node
	parents      []*Tensor
}

type node struct {
	backward func(grad *Tensor, grads map[*Tensor]*Tensor)
}

func numel(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

// New copies data into a tensor of the given shape.
func New(data []float64, shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.New("shape is required")
	}
	for _, dim := range shape {
		if dim <= 0 {
			return nil, errors.Errorf("invalid shape %v", shape)
		}
	}
	if n := numel(shape); n != len(data) {
		return nil, errors.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{
		data:  append([]float64(nil), data...),
		shape: append([]int(nil), shape...),
	}, nil
}

func MustNew(data []float64, shape ...int) *Tensor {
	t, err := New(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func Zeros(shape ...int) *Tensor {
	return MustNew(make([]float64, numel(shape)), shape...)
}

func Full(value float64, shape ...int) *Tensor {
	data := make([]float64, numel(shape))
	for i := range data {
		data[i] = value
	}
	return MustNew(data, shape...)
}

// Clone copies values and shape. The clone is detached from the graph.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		data:  append([]float64(nil), t.data...),
		shape: append([]int(nil), t.shape...),
	}
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) Numel() int {
	return len(t.data)
}

// Data returns a copy of the values.
func (t *Tensor) Data() []float64 {
	return append([]float64(nil), t.data...)
}

// SetData overwrites the values in place.
func (t *Tensor) SetData(values []float64) error {
	if len(values) != len(t.data) {
		return errors.Errorf("SetData: got %d values for %d elements", len(values), len(t.data))
	}
	copy(t.data, values)
	return nil
}

func (t *Tensor) SetRequiresGrad(v bool) {
	t.requiresGrad = v
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) Grad() *Tensor {
	if t.grad == nil {
		return nil
	}
	return t.grad.Clone()
}

func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

func (t *Tensor) Detach() *Tensor {
	return t.Clone()
}

// CopyInto copies the values of src into dst. Shapes must match.
func CopyInto(dst, src *Tensor) error {
	if dst == nil || src == nil {
		return errors.New("CopyInto requires non-nil tensors")
	}
	if err := ensureSameShape(dst, src); err != nil {
		return errors.Wrap(err, "CopyInto")
	}
	copy(dst.data, src.data)
	return nil
}
