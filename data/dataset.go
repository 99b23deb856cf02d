// Package data provides the datasets and batch loaders consumed by the
// EfficientAd training and calibration passes.
package data

import (
	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/tensor"
)

// LabelNormal marks a sample without anomalies.
const LabelNormal = 0

// Sample is a single image with shape [channels, height, width].
type Sample struct {
	Image *tensor.Tensor
	Label int
	Path  string
}

// Batch holds collated samples. Image has shape [batch, channels, height, width].
// AnomalyMaps is filled by the validation step.
type Batch struct {
	Image       *tensor.Tensor
	Labels      []int
	Paths       []string
	AnomalyMaps *tensor.Tensor
}

func (b *Batch) Size() int {
	if b == nil || b.Image == nil {
		return 0
	}
	return b.Image.Shape()[0]
}

// Dataset is a finite, indexable collection of samples. Loaders call Item
// from several goroutines at once.
type Dataset interface {
	Len() int
	Item(index int) (*Sample, error)
}

// Iterator yields batches for one pass. Next returns io.EOF once the pass is over.
type Iterator interface {
	Next() (*Batch, error)
}

// Iterable produces a fresh Iterator for every pass.
type Iterable interface {
	Iter() Iterator
}

// Collate stacks samples into a batch.
func Collate(samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("cannot collate an empty sample list")
	}
	images := make([]*tensor.Tensor, len(samples))
	b := &Batch{
		Labels: make([]int, len(samples)),
		Paths:  make([]string, len(samples)),
	}
	for i, s := range samples {
		images[i] = s.Image
		b.Labels[i] = s.Label
		b.Paths[i] = s.Path
	}
	stacked, err := tensor.Stack(0, images...)
	if err != nil {
		return nil, errors.Wrap(err, "stack batch images")
	}
	b.Image = stacked
	return b, nil
}

// InMemory is a slice-backed dataset.
type InMemory struct {
	samples []*Sample
}

func NewInMemory(samples ...*Sample) *InMemory {
	return &InMemory{samples: append([]*Sample(nil), samples...)}
}

func (d *InMemory) Len() int {
	return len(d.samples)
}

func (d *InMemory) Item(index int) (*Sample, error) {
	if index < 0 || index >= len(d.samples) {
		return nil, errors.Errorf("index %d out of range [0, %d)", index, len(d.samples))
	}
	return d.samples[index], nil
}
