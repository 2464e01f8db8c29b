// Package config loads the YAML run configuration and applies CLI overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainRoots []string `yaml:"train_roots"`
	TestRoots  []string `yaml:"test_roots"`
	// Synthetic replaces the shard roots with generated blobs.
	Synthetic bool `yaml:"synthetic"`

	Epochs       int    `yaml:"epochs"`
	LogFrequency int    `yaml:"log_frequency"`
	Accelerate   bool   `yaml:"accelerate"`
	Device       string `yaml:"device"`

	BatchSize   int   `yaml:"batch_size"`
	NumWorkers  int   `yaml:"num_workers"`
	Shuffle     bool  `yaml:"shuffle"`
	Seed        int64 `yaml:"seed"`
	FeatureGrid int   `yaml:"feature_grid"`
	NumClasses  int   `yaml:"num_classes"`

	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	Dropout      float64 `yaml:"dropout"`

	// MetricsDB is the SQLite file metrics are written to; empty disables it.
	MetricsDB string `yaml:"metrics_db"`
}

// Overrides captures CLI supplied values. Zero values (and a negative
// Epochs) leave the loaded config untouched.
type Overrides struct {
	Epochs       int
	LogFrequency int
	Accelerate   bool
	BatchSize    int
	NumWorkers   int
	Seed         int64
	Synthetic    bool
	MetricsDB    string
}

// Default returns a config that trains on synthetic data.
func Default() *Config {
	cfg := &Config{Synthetic: true, Epochs: 10, Shuffle: true}
	cfg.applyDefaults()
	return cfg
}

// Load reads a Config from YAML. Callers validate after applying overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogFrequency <= 0 {
		c.LogFrequency = 10
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 2
	}
	if c.FeatureGrid <= 0 {
		c.FeatureGrid = 16
	}
	if c.NumClasses <= 0 {
		c.NumClasses = 10
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
}

// ApplyOverrides updates cfg using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs >= 0 {
		c.Epochs = o.Epochs
	}
	if o.LogFrequency > 0 {
		c.LogFrequency = o.LogFrequency
	}
	if o.Accelerate {
		c.Accelerate = true
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Synthetic {
		c.Synthetic = true
	}
	if o.MetricsDB != "" {
		c.MetricsDB = o.MetricsDB
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !c.Synthetic && (len(c.TrainRoots) == 0 || len(c.TestRoots) == 0) {
		return errors.New("train_roots and test_roots must be set unless synthetic is enabled")
	}
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must be >= 0 (got %d)", c.Epochs)
	}
	if c.LogFrequency <= 0 {
		return fmt.Errorf("log_frequency must be > 0 (got %d)", c.LogFrequency)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1) (got %g)", c.Dropout)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", c.NumClasses)
	}
	return nil
}
