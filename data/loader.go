package data

import (
	"io"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/internal/parallel"
)

type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Seed      int64
}

// Loader groups a dataset into batches. Every call to Iter starts a new pass
// and, when shuffling is enabled, draws a new permutation.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	dropLast  bool
	rng       *rand.Rand
}

func NewLoader(dataset Dataset, cfg LoaderConfig) (*Loader, error) {
	if dataset == nil {
		return nil, errors.New("loader requires a dataset")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Loader{
		dataset:   dataset,
		batchSize: cfg.BatchSize,
		shuffle:   cfg.Shuffle,
		dropLast:  cfg.DropLast,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Len returns the number of batches in one pass.
func (l *Loader) Len() int {
	n := l.dataset.Len()
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

func (l *Loader) Dataset() Dataset {
	return l.dataset
}

func (l *Loader) Iter() Iterator {
	indices := make([]int, l.dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
	return &loaderIterator{loader: l, indices: indices}
}

type loaderIterator struct {
	loader   *Loader
	indices  []int
	position int
}

func (it *loaderIterator) Next() (*Batch, error) {
	remaining := len(it.indices) - it.position
	if remaining <= 0 {
		return nil, io.EOF
	}
	size := it.loader.batchSize
	if remaining < size {
		if it.loader.dropLast {
			it.position = len(it.indices)
			return nil, io.EOF
		}
		size = remaining
	}
	batch := it.indices[it.position : it.position+size]
	samples := make([]*Sample, size)
	errs := make([]error, size)
	parallel.For(size, func(start, end int) {
		for i := start; i < end; i++ {
			samples[i], errs[i] = it.loader.dataset.Item(batch[i])
		}
	})
	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "load item %d", batch[i])
		}
	}
	it.position += size
	return Collate(samples)
}
