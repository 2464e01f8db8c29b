package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gradloop/internal/config"
	"gradloop/internal/dataset"
	"gradloop/internal/logsink"
	"gradloop/internal/model"
)

func TestRunSyntheticRecordsMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Epochs = 2
	cfg.FeatureGrid = 4
	cfg.NumClasses = 3
	cfg.Accelerate = true
	cfg.MetricsDB = filepath.Join(t.TempDir(), "metrics.db")
	require.NoError(t, cfg.Validate())

	require.NoError(t, run(context.Background(), cfg))

	ctx := context.Background()
	store, err := logsink.OpenStore(ctx, cfg.MetricsDB)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	trainBatches := (syntheticTrainSamples + cfg.BatchSize - 1) / cfg.BatchSize
	series, err := store.RunSeries(ctx, runs[0], "test", "loss")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 2*trainBatches, series[0].Step)
	assert.Equal(t, 3*trainBatches, series[1].Step)

	accuracy, err := store.RunSeries(ctx, runs[0], "test", "accuracy")
	require.NoError(t, err)
	assert.Len(t, accuracy, 2)
}

func TestLoadersSynthetic(t *testing.T) {
	cfg := config.Default()
	cfg.FeatureGrid = 2
	cfg.BatchSize = 100

	train, test, err := loaders(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, train.Width())
	assert.Equal(t, (syntheticTrainSamples+99)/100, train.Len())
	assert.Equal(t, (syntheticTestSamples+99)/100, test.Len())
}

func TestLoadersSyntheticTestIsNotTrain(t *testing.T) {
	cfg := config.Default()
	cfg.FeatureGrid = 2
	cfg.BatchSize = syntheticTestSamples
	cfg.Shuffle = false

	train, test, err := loaders(context.Background(), cfg)
	require.NoError(t, err)

	trainBatch := firstBatch(t, train)
	testBatch := firstBatch(t, test)
	assert.True(t, mat.Equal(trainBatch.Target(), testBatch.Target()), "labels follow i mod classes in both sets")
	assert.False(t, mat.Equal(trainBatch.Inputs()[0], testBatch.Inputs()[0]), "test features must not repeat train features")
}

func firstBatch(t *testing.T, l dataset.Loader) dataset.Batch {
	t.Helper()
	it := l.Iterate(context.Background())
	defer it.Close()
	require.True(t, it.Next())
	require.NoError(t, it.Err())
	return it.Batch()
}

// frozenModel satisfies model.Model without exposing parameters.
type frozenModel struct{ model.Model }

func TestOptimizer(t *testing.T) {
	cfg := config.Default()
	clf := model.NewSoftmaxClassifier(3, 4, 0, 1)

	opt, err := optimizer(clf, cfg)
	require.NoError(t, err)
	assert.NotNil(t, opt)

	_, err = optimizer(frozenModel{}, cfg)
	assert.Error(t, err)
}

func TestRunRejectsUnknownDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Epochs = 0
	cfg.FeatureGrid = 2
	cfg.Accelerate = true
	cfg.Device = "tpu"
	assert.Error(t, run(context.Background(), cfg))
}
