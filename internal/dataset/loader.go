package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// LoaderOptions controls how a MemoryLoader slices its samples into batches.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	// Prefetch is the number of batches prepared ahead of the consumer.
	Prefetch int
}

// MemoryLoader serves batches of [n, width] features and [n, 1] labels from
// samples held in memory. The final batch may be smaller than BatchSize.
type MemoryLoader struct {
	features [][]float64
	labels   []int
	width    int
	opts     LoaderOptions
	rng      *rand.Rand
}

// NewMemoryLoader validates the samples and builds a loader over them.
func NewMemoryLoader(features [][]float64, labels []int, opts LoaderOptions) (*MemoryLoader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("loader: %d feature rows but %d labels", len(features), len(labels))
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	width := 0
	if len(features) > 0 {
		width = len(features[0])
		if width == 0 {
			return nil, errors.New("loader: samples have no features")
		}
	}
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf("loader: sample %d has %d features, want %d", i, len(row), width)
		}
	}
	return &MemoryLoader{
		features: features,
		labels:   labels,
		width:    width,
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Len returns the number of batches in one pass.
func (l *MemoryLoader) Len() int {
	return (len(l.features) + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Samples returns the number of samples in one pass.
func (l *MemoryLoader) Samples() int { return len(l.features) }

// Width returns the number of features per sample.
func (l *MemoryLoader) Width() int { return l.width }

// Iterate starts a new pass. With Shuffle set every pass draws a fresh
// permutation from the loader's seeded source.
func (l *MemoryLoader) Iterate(ctx context.Context) Iterator {
	order := make([]int, len(l.features))
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &prefetchIterator{
		batches: make(chan Batch, l.opts.Prefetch),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go it.produce(ctx, l.Len(), func(i int) Batch {
		start := i * l.opts.BatchSize
		end := start + l.opts.BatchSize
		if end > len(order) {
			end = len(order)
		}
		return l.batch(order[start:end])
	})
	return it
}

func (l *MemoryLoader) batch(idx []int) Batch {
	x := mat.NewDense(len(idx), l.width, nil)
	y := mat.NewDense(len(idx), 1, nil)
	for row, i := range idx {
		x.SetRow(row, l.features[i])
		y.Set(row, 0, float64(l.labels[i]))
	}
	return Batch{x, y}
}

type prefetchIterator struct {
	batches chan Batch
	done    chan struct{}
	cancel  context.CancelFunc

	// err is written by produce before batches is closed.
	err      error
	finished bool
	current  Batch
}

func (it *prefetchIterator) produce(ctx context.Context, n int, build func(int) Batch) {
	defer close(it.done)
	defer close(it.batches)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			it.err = err
			return
		}
		b := build(i)
		select {
		case <-ctx.Done():
			it.err = ctx.Err()
			return
		case it.batches <- b:
		}
	}
}

func (it *prefetchIterator) Next() bool {
	b, ok := <-it.batches
	if !ok {
		it.current = nil
		it.finished = true
		return false
	}
	it.current = b
	return true
}

func (it *prefetchIterator) Batch() Batch { return it.current }

// Err reports why the pass stopped early. It is nil until Next returns false.
func (it *prefetchIterator) Err() error {
	if !it.finished {
		return nil
	}
	return it.err
}

// Close stops the producer and waits for it to exit.
func (it *prefetchIterator) Close() error {
	it.cancel()
	<-it.done
	return nil
}

// ShardOptions configures LoadShards.
type ShardOptions struct {
	Sampler     SamplerOptions
	FeatureGrid int
	Loader      LoaderOptions
}

// LoadShards reads every shard once, decodes images into grid features and
// returns a loader over the result. Samples whose image cannot be decoded
// are skipped.
func LoadShards(ctx context.Context, opts ShardOptions) (*MemoryLoader, error) {
	samples, err := ReadAll(ctx, opts.Sampler)
	if err != nil {
		return nil, err
	}
	features := make([][]float64, 0, len(samples))
	labels := make([]int, 0, len(samples))
	skipped := 0
	for _, s := range samples {
		f, err := ExtractFeatures(s.Image, opts.FeatureGrid)
		if err != nil {
			skipped++
			klog.V(2).Infof("skip sample shard=%s key=%s: %v", s.Shard, s.Key, err)
			continue
		}
		features = append(features, f)
		labels = append(labels, s.Label)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("load shards: none of %d samples decoded", len(samples))
	}
	klog.Infof("loaded shards=%d samples=%d skipped=%d", countShards(opts.Sampler.Roots), len(features), skipped)
	return NewMemoryLoader(features, labels, opts.Loader)
}

func countShards(roots map[string][]string) int {
	n := 0
	for _, shards := range roots {
		n += len(shards)
	}
	return n
}
