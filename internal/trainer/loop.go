// Package trainer drives epochs of training and evaluation over externally
// supplied model, optimizer, loaders and loggers.
package trainer

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"gradloop/internal/dataset"
	"gradloop/internal/metrics"
	"gradloop/internal/model"
	"gradloop/internal/progress"
)

// Run trains and evaluates for epochs 1..cfg.Epochs and returns the last
// epoch's averaged test statistics (nil when no epoch ran).
//
// Test statistics are reported at index (epoch+1)*trainLoader.Len() so they
// line up just after the epoch's final training step.
func Run(ctx context.Context, cfg *RunConfig, job Job) (metrics.Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	bars := displays(job.Progress)

	outer := bars.New(cfg.Epochs, "epochs")
	defer outer.Close()

	var testStats metrics.Stats
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := TrainEpoch(ctx, epoch, job.Model, job.TrainLoader, job.Optimizer, job.TrainLogger, cfg, bars); err != nil {
			return nil, err
		}
		stats, err := TestEpoch(ctx, epoch, job.Model, job.TestLoader, cfg, bars)
		if err != nil {
			return nil, err
		}
		testStats = stats

		index := (epoch + 1) * job.TrainLoader.Len()
		if err := job.TestLogger.Report(ctx, testStats, index); err != nil {
			return nil, fmt.Errorf("trainer: epoch %d: report test stats: %w", epoch, err)
		}

		desc := metrics.Format(testStats, "test_")
		outer.Describe(desc)
		if err := outer.Add(1); err != nil {
			klog.V(3).Infof("progress: %v", err)
		}
		klog.V(1).Infof("epoch=%d step=%d %s", epoch, index, desc)
	}
	return testStats, nil
}

// TrainEpoch runs one optimisation pass over loader. Every cfg.LogFrequency
// batches the current batch's statistics are reported to logger at index
// epoch*loader.Len()+batchIdx. The first error aborts the pass.
func TrainEpoch(
	ctx context.Context,
	epoch int,
	m model.Model,
	loader dataset.Loader,
	opt model.Optimizer,
	logger Logger,
	cfg *RunConfig,
	bars progress.Factory,
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.Train()
	total := loader.Len()
	bar := displays(bars).New(total, fmt.Sprintf("train %d", epoch))
	defer bar.Close()

	var window metrics.Window
	it := loader.Iterate(ctx)
	defer it.Close()

	batchIdx := 0
	startData := time.Now()
	for it.Next() {
		dataTime := time.Since(startData)
		startCompute := time.Now()

		inputs, target, err := prepare(it.Batch(), cfg)
		if err != nil {
			return stepErr("train", epoch, batchIdx, err)
		}

		opt.ZeroGrad()
		output, err := m.Forward(inputs)
		if err != nil {
			return stepErr("train", epoch, batchIdx, fmt.Errorf("forward: %w", err))
		}
		loss, stats, err := m.Loss(output, target, inputs)
		if err != nil {
			return stepErr("train", epoch, batchIdx, fmt.Errorf("loss: %w", err))
		}
		if err := loss.Backward(); err != nil {
			return stepErr("train", epoch, batchIdx, fmt.Errorf("backward: %w", err))
		}
		if err := opt.Step(); err != nil {
			return stepErr("train", epoch, batchIdx, fmt.Errorf("optimizer step: %w", err))
		}

		rows, _ := target.Dims()
		window.Record(rows, dataTime, time.Since(startCompute))

		bar.Describe(metrics.Format(stats, ""))
		if err := bar.Add(1); err != nil {
			klog.V(3).Infof("progress: %v", err)
		}

		if batchIdx%cfg.LogFrequency == 0 {
			index := epoch*total + batchIdx
			if err := logger.Report(ctx, stats, index); err != nil {
				return stepErr("train", epoch, batchIdx, fmt.Errorf("report: %w", err))
			}
			if v := klog.V(2); v.Enabled() {
				v.Infof("epoch=%d step=%d %s", epoch, index, metrics.Format(window.Snapshot().Stats(), ""))
			}
		}

		batchIdx++
		startData = time.Now()
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("trainer: train epoch %d: %w", epoch, err)
	}
	return nil
}

// TestEpoch runs one evaluation pass over loader and returns the statistics
// averaged over its batches. An empty loader yields empty statistics.
func TestEpoch(
	ctx context.Context,
	epoch int,
	m model.Model,
	loader dataset.Loader,
	cfg *RunConfig,
	bars progress.Factory,
) (metrics.Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.Eval()
	total := loader.Len()
	bar := displays(bars).New(total, fmt.Sprintf("test %d", epoch))
	defer bar.Close()

	it := loader.Iterate(ctx)
	defer it.Close()

	summary := metrics.Stats{}
	batchIdx := 0
	for it.Next() {
		inputs, target, err := prepare(it.Batch(), cfg)
		if err != nil {
			return nil, stepErr("test", epoch, batchIdx, err)
		}
		output, err := m.Forward(inputs)
		if err != nil {
			return nil, stepErr("test", epoch, batchIdx, fmt.Errorf("forward: %w", err))
		}
		_, stats, err := m.Loss(output, target, inputs)
		if err != nil {
			return nil, stepErr("test", epoch, batchIdx, fmt.Errorf("loss: %w", err))
		}

		summary = metrics.Merge(summary, stats)
		bar.Describe(metrics.Format(stats, ""))
		if err := bar.Add(1); err != nil {
			klog.V(3).Infof("progress: %v", err)
		}
		batchIdx++
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("trainer: test epoch %d: %w", epoch, err)
	}

	return metrics.Scale(summary, total), nil
}

// prepare places the batch on the configured device, wraps every tensor for
// gradient tracking and splits it into inputs and target by position.
func prepare(batch dataset.Batch, cfg *RunConfig) ([]*model.Variable, *model.Variable, error) {
	if len(batch) < 2 {
		_, _, err := batch.Split()
		return nil, nil, err
	}
	vars := make([]*model.Variable, len(batch))
	for i, t := range batch {
		if cfg.Accelerate {
			placed, err := cfg.Device.Place(t)
			if err != nil {
				return nil, nil, fmt.Errorf("place on %s: %w", cfg.Device.Name(), err)
			}
			t = placed
		}
		vars[i] = model.NewVariable(t)
	}
	return vars[:len(vars)-1], vars[len(vars)-1], nil
}

func stepErr(pass string, epoch, batchIdx int, err error) error {
	return fmt.Errorf("trainer: %s epoch %d batch %d: %w", pass, epoch, batchIdx, err)
}
