package logsink

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradloop/internal/metrics"
)

type failingSink struct{ err error }

func (f failingSink) Report(context.Context, metrics.Stats, int) error { return f.err }

func TestMemoryCopiesRecords(t *testing.T) {
	var m Memory
	stats := metrics.Stats{"loss": 1}
	require.NoError(t, m.Report(context.Background(), stats, 3))
	stats["loss"] = 9

	got := m.Records()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Index)
	assert.Equal(t, 1.0, got[0].Stats["loss"])

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.Index)
}

func TestMemoryLastEmpty(t *testing.T) {
	var m Memory
	_, ok := m.Last()
	assert.False(t, ok)
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	var a, b Memory
	boom := errors.New("boom")
	multi := Multi{&a, failingSink{boom}, &b, Klog{Split: "train"}}

	err := multi.Report(context.Background(), metrics.Stats{"loss": 1}, 0)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

func TestSQLiteStoreSeries(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NotEmpty(t, store.RunID())

	train := store.Sink("train")
	test := store.Sink("test")
	require.NoError(t, train.Report(ctx, metrics.Stats{"loss": 3, "accuracy": 0.1}, 2))
	require.NoError(t, train.Report(ctx, metrics.Stats{"loss": 1, "accuracy": 0.5}, 0))
	require.NoError(t, test.Report(ctx, metrics.Stats{"loss": 2}, 4))

	series, err := store.Series(ctx, "train", "loss")
	require.NoError(t, err)
	assert.Equal(t, []Point{{Step: 0, Value: 1}, {Step: 2, Value: 3}}, series)

	series, err = store.Series(ctx, "test", "loss")
	require.NoError(t, err)
	assert.Equal(t, []Point{{Step: 4, Value: 2}}, series)

	series, err = store.Series(ctx, "test", "accuracy")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestSQLiteStoreSeparatesRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metrics.db")

	first, err := OpenStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Sink("train").Report(ctx, metrics.Stats{"loss": 1}, 0))
	require.NoError(t, first.Close())

	second, err := OpenStore(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.RunID(), second.RunID())

	series, err := second.Series(ctx, "train", "loss")
	require.NoError(t, err)
	assert.Empty(t, series)

	runs, err := second.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.RunID(), second.RunID()}, runs)

	series, err = second.RunSeries(ctx, first.RunID(), "train", "loss")
	require.NoError(t, err)
	assert.Equal(t, []Point{{Step: 0, Value: 1}}, series)
}
