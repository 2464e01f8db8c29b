package dataset

import (
	"fmt"
	"math/rand"
)

// SyntheticOptions describes a Gaussian-blob classification set.
type SyntheticOptions struct {
	Samples  int
	Classes  int
	Features int
	// Noise is the standard deviation around each class centre.
	Noise float64
	// Seed fixes the class centres. NoiseSeed fixes the per-sample noise, so
	// two sets can share centres and still hold different samples.
	Seed      int64
	NoiseSeed int64
}

// NewSynthetic builds a loader over separable blobs, one per class. Sample i
// has label i % Classes, so every class is represented once Samples >= Classes.
func NewSynthetic(opts SyntheticOptions, loader LoaderOptions) (*MemoryLoader, error) {
	if opts.Samples <= 0 || opts.Classes <= 0 || opts.Features <= 0 {
		return nil, fmt.Errorf("synthetic: samples, classes and features must be > 0 (got %d, %d, %d)",
			opts.Samples, opts.Classes, opts.Features)
	}
	if opts.Noise < 0 {
		opts.Noise = 0
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	centres := make([][]float64, opts.Classes)
	for c := range centres {
		centres[c] = make([]float64, opts.Features)
		for j := range centres[c] {
			centres[c][j] = rng.Float64()
		}
	}

	noise := rand.New(rand.NewSource(opts.NoiseSeed))
	features := make([][]float64, opts.Samples)
	labels := make([]int, opts.Samples)
	for i := range features {
		label := i % opts.Classes
		row := make([]float64, opts.Features)
		for j := range row {
			row[j] = centres[label][j] + noise.NormFloat64()*opts.Noise
		}
		features[i] = row
		labels[i] = label
	}
	return NewMemoryLoader(features, labels, loader)
}
