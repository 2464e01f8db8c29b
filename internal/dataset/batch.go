// Package dataset provides finite, restartable batch loaders for the
// training driver, backed by WebDataset shards or synthetic data.
package dataset

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShortBatch is returned when a batch lacks an input or a target.
var ErrShortBatch = errors.New("dataset: batch needs at least one input and a target")

// Batch is an ordered sequence of tensors whose last element is the target.
type Batch []*mat.Dense

// Inputs returns every tensor but the last.
func (b Batch) Inputs() []*mat.Dense {
	if len(b) == 0 {
		return nil
	}
	return b[:len(b)-1]
}

// Target returns the last tensor.
func (b Batch) Target() *mat.Dense {
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

// Split returns inputs and target, or ErrShortBatch.
func (b Batch) Split() ([]*mat.Dense, *mat.Dense, error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("%w (got %d tensors)", ErrShortBatch, len(b))
	}
	return b.Inputs(), b.Target(), nil
}

// Loader is a finite sequence of batches whose length is known up front.
// Every call to Iterate starts a new pass.
type Loader interface {
	Len() int
	Iterate(ctx context.Context) Iterator
}

// Iterator walks one pass over a Loader.
//
//	it := loader.Iterate(ctx)
//	defer it.Close()
//	for it.Next() {
//		use(it.Batch())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Batch() Batch
	Err() error
	Close() error
}
