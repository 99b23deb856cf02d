package tensor

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

// layout views a tensor as [outer, axis, inner] around one axis.
type layout struct {
	outer int
	inner int
}

func layoutAround(shape []int, axis int) layout {
	l := layout{outer: 1, inner: 1}
	for i, dim := range shape {
		switch {
		case i < axis:
			l.outer *= dim
		case i > axis:
			l.inner *= dim
		}
	}
	return l
}

// copySlab copies n entries along the axis from src at srcOff to dst at
// dstOff. dstLen and srcLen are the axis lengths of the two tensors.
func (l layout) copySlab(dst []float64, dstLen, dstOff int, src []float64, srcLen, srcOff, n int) {
	width := n * l.inner
	parallel.For(l.outer, func(start, end int) {
		for o := start; o < end; o++ {
			d := (o*dstLen + dstOff) * l.inner
			s := (o*srcLen + srcOff) * l.inner
			copy(dst[d:d+width], src[s:s+width])
		}
	})
}

func normalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, errors.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}

// Concat joins tensors along axis. All other dimensions must agree.
func Concat(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("concat needs at least one tensor")
	}
	base := tensors[0]
	axis, err := normalizeAxis(axis, len(base.shape))
	if err != nil {
		return nil, errors.Wrap(err, "concat")
	}
	shape := append([]int(nil), base.shape...)
	shape[axis] = 0
	for _, t := range tensors {
		if !sameExcept(t.shape, base.shape, axis) {
			return nil, errors.Errorf("concat: shape %v does not match %v off axis %d", t.shape, base.shape, axis)
		}
		shape[axis] += t.shape[axis]
	}
	out := Zeros(shape...)
	l := layoutAround(shape, axis)
	offsets := make([]int, len(tensors))
	var parents []*Tensor
	off := 0
	for i, t := range tensors {
		offsets[i] = off
		l.copySlab(out.data, shape[axis], off, t.data, t.shape[axis], 0, t.shape[axis])
		off += t.shape[axis]
		if t.requiresGrad {
			parents = append(parents, t)
		}
	}
	if len(parents) == 0 {
		return out, nil
	}
	out.requiresGrad = true
	out.parents = parents
	out.node = &node{
		backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
			for i, t := range tensors {
				if !t.requiresGrad {
					continue
				}
				g := Zeros(t.shape...)
				l.copySlab(g.data, t.shape[axis], 0, grad.data, shape[axis], offsets[i], t.shape[axis])
				accumulate(grads, t, g)
			}
		},
	}
	return out, nil
}

// Split cuts t along axis into consecutive parts of the given sizes.
func Split(axis int, sizes []int, t *Tensor) ([]*Tensor, error) {
	if len(sizes) == 0 {
		return nil, errors.New("split needs at least one size")
	}
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "split")
	}
	length := t.shape[axis]
	total := 0
	for _, size := range sizes {
		if size <= 0 {
			return nil, errors.Errorf("split size %d is not positive", size)
		}
		total += size
	}
	if total != length {
		return nil, errors.Errorf("split sizes sum to %d, axis %d has length %d", total, axis, length)
	}
	l := layoutAround(t.shape, axis)
	parts := make([]*Tensor, len(sizes))
	off := 0
	for i, size := range sizes {
		shape := append([]int(nil), t.shape...)
		shape[axis] = size
		part := Zeros(shape...)
		l.copySlab(part.data, size, 0, t.data, length, off, size)
		if t.requiresGrad {
			partOff := off
			size := size
			part.requiresGrad = true
			part.parents = []*Tensor{t}
			part.node = &node{
				backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
					g := Zeros(t.shape...)
					l.copySlab(g.data, length, partOff, grad.data, size, 0, size)
					accumulate(grads, t, g)
				},
			}
		}
		parts[i] = part
		off += size
	}
	return parts, nil
}

// Chunk splits t into parts pieces along axis. The first len%parts pieces
// are one longer than the rest.
func Chunk(axis int, parts int, t *Tensor) ([]*Tensor, error) {
	if parts <= 0 {
		return nil, errors.Errorf("chunk count %d is not positive", parts)
	}
	axis, err := normalizeAxis(axis, len(t.shape))
	if err != nil {
		return nil, errors.Wrap(err, "chunk")
	}
	length := t.shape[axis]
	sizes := make([]int, parts)
	for i := range sizes {
		sizes[i] = length / parts
		if i < length%parts {
			sizes[i]++
		}
	}
	return Split(axis, sizes, t)
}

// Stack joins equally shaped tensors along a new axis.
func Stack(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("stack needs at least one tensor")
	}
	base := tensors[0]
	rank := len(base.shape)
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		return nil, errors.Errorf("stack axis out of range for rank %d", rank)
	}
	lifted := make([]*Tensor, len(tensors))
	for i, t := range tensors {
		if err := ensureSameShape(t, base); err != nil {
			return nil, errors.Wrap(err, "stack")
		}
		lifted[i] = insertAxis(t, axis)
	}
	return Concat(axis, lifted...)
}

// insertAxis returns a view of t with a length-one axis at position axis.
// The view shares t's data.
func insertAxis(t *Tensor, axis int) *Tensor {
	shape := make([]int, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	view := &Tensor{data: t.data, shape: shape}
	if t.requiresGrad {
		view.requiresGrad = true
		view.parents = []*Tensor{t}
		view.node = &node{
			backward: func(grad *Tensor, grads map[*Tensor]*Tensor) {
				accumulate(grads, t, &Tensor{data: grad.data, shape: t.shape})
			},
		}
	}
	return view
}
