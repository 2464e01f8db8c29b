package dataset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func rows(n, width int) ([][]float64, []int) {
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := range features {
		features[i] = make([]float64, width)
		for j := range features[i] {
			features[i][j] = float64(i)
		}
		labels[i] = i % 3
	}
	return features, labels
}

func collect(t *testing.T, l Loader) []Batch {
	t.Helper()
	it := l.Iterate(context.Background())
	defer it.Close()
	var out []Batch
	for it.Next() {
		out = append(out, it.Batch())
	}
	require.NoError(t, it.Err())
	return out
}

func TestMemoryLoaderLenAndBatches(t *testing.T) {
	features, labels := rows(7, 2)
	l, err := NewMemoryLoader(features, labels, LoaderOptions{BatchSize: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 7, l.Samples())
	assert.Equal(t, 2, l.Width())

	batches := collect(t, l)
	require.Len(t, batches, 3)

	inputs, target, err := batches[2].Split()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	r, c := inputs[0].Dims()
	assert.Equal(t, []int{1, 2}, []int{r, c})
	assert.Equal(t, 6.0, inputs[0].At(0, 0))
	assert.Equal(t, 0.0, target.At(0, 0))
}

func TestMemoryLoaderIsRestartable(t *testing.T) {
	features, labels := rows(5, 1)
	l, err := NewMemoryLoader(features, labels, LoaderOptions{BatchSize: 2, Prefetch: 2})
	require.NoError(t, err)

	first := collect(t, l)
	second := collect(t, l)
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, mat.Equal(first[i][0], second[i][0]))
		assert.True(t, mat.Equal(first[i][1], second[i][1]))
	}
}

func TestMemoryLoaderShuffleKeepsEverySample(t *testing.T) {
	features, labels := rows(10, 1)
	l, err := NewMemoryLoader(features, labels, LoaderOptions{BatchSize: 4, Shuffle: true, Seed: 3})
	require.NoError(t, err)

	var seen []float64
	for _, b := range collect(t, l) {
		r, _ := b[0].Dims()
		for i := 0; i < r; i++ {
			seen = append(seen, b[0].At(i, 0))
		}
	}
	assert.ElementsMatch(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestMemoryLoaderCancelledContext(t *testing.T) {
	features, labels := rows(10, 1)
	l, err := NewMemoryLoader(features, labels, LoaderOptions{BatchSize: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := l.Iterate(ctx)
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	assert.Less(t, n, 10)
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestMemoryLoaderCloseEarly(t *testing.T) {
	features, labels := rows(10, 1)
	l, err := NewMemoryLoader(features, labels, LoaderOptions{BatchSize: 1})
	require.NoError(t, err)

	it := l.Iterate(context.Background())
	require.True(t, it.Next())
	require.NoError(t, it.Close())
}

func TestNewMemoryLoaderValidation(t *testing.T) {
	_, err := NewMemoryLoader(nil, nil, LoaderOptions{})
	assert.Error(t, err)

	_, err = NewMemoryLoader([][]float64{{1}}, nil, LoaderOptions{BatchSize: 1})
	assert.Error(t, err)

	_, err = NewMemoryLoader([][]float64{{1}, {1, 2}}, []int{0, 1}, LoaderOptions{BatchSize: 1})
	assert.Error(t, err)

	empty, err := NewMemoryLoader(nil, nil, LoaderOptions{BatchSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, collect(t, empty))
}

func TestBatchSplit(t *testing.T) {
	_, _, err := Batch{mat.NewDense(1, 1, nil)}.Split()
	assert.ErrorIs(t, err, ErrShortBatch)
	assert.Nil(t, Batch(nil).Target())
	assert.Nil(t, Batch(nil).Inputs())
}

func TestNewSynthetic(t *testing.T) {
	l, err := NewSynthetic(SyntheticOptions{Samples: 12, Classes: 3, Features: 4, Noise: 0.1, Seed: 1},
		LoaderOptions{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 4, l.Width())

	again, err := NewSynthetic(SyntheticOptions{Samples: 12, Classes: 3, Features: 4, Noise: 0.1, Seed: 1},
		LoaderOptions{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, l.features, again.features)

	_, err = NewSynthetic(SyntheticOptions{}, LoaderOptions{BatchSize: 1})
	assert.Error(t, err)
}

func TestNewSyntheticNoiseSeed(t *testing.T) {
	build := func(noise float64, noiseSeed int64) [][]float64 {
		l, err := NewSynthetic(SyntheticOptions{Samples: 6, Classes: 3, Features: 4, Noise: noise, Seed: 1, NoiseSeed: noiseSeed},
			LoaderOptions{BatchSize: 6})
		require.NoError(t, err)
		return l.features
	}

	// Without noise every sample sits on its class centre, whatever the noise seed.
	assert.Equal(t, build(0, 1), build(0, 2))
	assert.NotEqual(t, build(0.1, 1), build(0.1, 2))
	assert.Equal(t, build(0.1, 1), build(0.1, 1))
}

func TestLoadShards(t *testing.T) {
	dir := t.TempDir()
	white := grayPNG(t, 8, func(x, y int) uint8 { return 255 })
	black := grayPNG(t, 8, func(x, y int) uint8 { return 0 })
	shard := writeShard(t, dir, "shard-000000.tar", map[string]filePair{
		"000001": {imageExt: ".png", image: white, label: 1},
		"000002": {imageExt: ".png", image: black, label: 0},
		"000003": {imageExt: ".jpg", image: []byte("broken"), label: 2},
	})

	l, err := LoadShards(context.Background(), ShardOptions{
		Sampler:     SamplerOptions{Roots: map[string][]string{dir: {shard}}},
		FeatureGrid: 4,
		Loader:      LoaderOptions{BatchSize: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Samples(), "undecodable sample is skipped")
	assert.Equal(t, 16, l.Width())
	assert.Equal(t, 1, l.Len())
	assert.ElementsMatch(t, []int{0, 1}, l.labels)
}

func TestLoadShardsNothingDecodes(t *testing.T) {
	dir := t.TempDir()
	shard := writeShard(t, filepath.Join(dir, "r"), "shard-000000.tar", map[string]filePair{
		"000001": {imageExt: ".png", image: []byte("x"), label: 1},
	})
	_, err := LoadShards(context.Background(), ShardOptions{
		Sampler: SamplerOptions{Roots: map[string][]string{dir: {shard}}},
		Loader:  LoaderOptions{BatchSize: 1},
	})
	assert.Error(t, err)
}
