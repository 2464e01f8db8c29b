package trainer

import (
	"context"
	"errors"
	"fmt"

	"gradloop/internal/dataset"
	"gradloop/internal/device"
	"gradloop/internal/metrics"
	"gradloop/internal/model"
	"gradloop/internal/progress"
)

// Logger persists a statistics record at a step index.
type Logger interface {
	Report(ctx context.Context, stats metrics.Stats, index int) error
}

// RunConfig captures the knobs required by the training loop. It is built
// once and must not be modified while a run is in progress.
type RunConfig struct {
	Epochs int
	// LogFrequency is the number of training batches between logger reports.
	LogFrequency int
	// Accelerate places every batch tensor on Device before it is used.
	Accelerate bool
	Device     device.Device
}

// Validate verifies the config is runnable.
func (c *RunConfig) Validate() error {
	if c == nil {
		return errors.New("trainer: run config is nil")
	}
	if c.Epochs < 0 {
		return fmt.Errorf("trainer: epochs must be >= 0 (got %d)", c.Epochs)
	}
	if c.LogFrequency <= 0 {
		return fmt.Errorf("trainer: log frequency must be > 0 (got %d)", c.LogFrequency)
	}
	if c.Accelerate && c.Device == nil {
		return errors.New("trainer: accelerate set without a device")
	}
	return nil
}

// Job bundles the collaborators of a run.
type Job struct {
	Model       model.Model
	Optimizer   model.Optimizer
	TrainLoader dataset.Loader
	TestLoader  dataset.Loader
	TrainLogger Logger
	TestLogger  Logger
	// Progress draws pass progress; nil disables it.
	Progress progress.Factory
}

func (j *Job) validate() error {
	switch {
	case j.Model == nil:
		return errors.New("trainer: model is nil")
	case j.Optimizer == nil:
		return errors.New("trainer: optimizer is nil")
	case j.TrainLoader == nil:
		return errors.New("trainer: train loader is nil")
	case j.TestLoader == nil:
		return errors.New("trainer: test loader is nil")
	case j.TrainLogger == nil:
		return errors.New("trainer: train logger is nil")
	case j.TestLogger == nil:
		return errors.New("trainer: test logger is nil")
	}
	return nil
}

func displays(f progress.Factory) progress.Factory {
	if f == nil {
		return progress.Nop{}
	}
	return f
}
