package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"gradloop/internal/config"
	"gradloop/internal/dataset"
	"gradloop/internal/device"
	"gradloop/internal/logsink"
	"gradloop/internal/metrics"
	"gradloop/internal/model"
	"gradloop/internal/optim"
	"gradloop/internal/progress"
	"gradloop/internal/trainer"
)

const (
	syntheticTrainSamples = 2048
	syntheticTestSamples  = 512
	syntheticNoise        = 0.15
)

func main() {
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "", "Path to YAML config (synthetic defaults when empty)")
	epochs := flag.Int("epochs", -1, "Number of epochs")
	logFrequency := flag.Int("log-frequency", 0, "Report train stats every N batches")
	accelerate := flag.Bool("accelerate", false, "Place batches on the configured device")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of shard reader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	synthetic := flag.Bool("synthetic", false, "Train on generated data instead of shards")
	metricsDB := flag.String("db", "", "SQLite file to record metrics in")
	flag.Parse()
	defer klog.Flush()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			klog.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	cfg.ApplyOverrides(config.Overrides{
		Epochs:       *epochs,
		LogFrequency: *logFrequency,
		Accelerate:   *accelerate,
		BatchSize:    *batchSize,
		NumWorkers:   *numWorkers,
		Seed:         *seed,
		Synthetic:    *synthetic,
		MetricsDB:    *metricsDB,
	})

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.Errorf("training failed: %v", err)
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	trainLoader, testLoader, err := loaders(ctx, cfg)
	if err != nil {
		return err
	}
	klog.Infof("train batches=%d test batches=%d features=%d", trainLoader.Len(), testLoader.Len(), trainLoader.Width())

	runCfg := &trainer.RunConfig{
		Epochs:       cfg.Epochs,
		LogFrequency: cfg.LogFrequency,
		Accelerate:   cfg.Accelerate,
	}
	if cfg.Accelerate {
		dev, err := device.Lookup(cfg.Device)
		if err != nil {
			return err
		}
		runCfg.Device = dev
	}

	clf := model.NewSoftmaxClassifier(cfg.NumClasses, trainLoader.Width(), cfg.Dropout, cfg.Seed)
	opt, err := optimizer(clf, cfg)
	if err != nil {
		return err
	}

	trainSinks := logsink.Multi{logsink.Klog{Split: "train", Level: 1}}
	testSinks := logsink.Multi{logsink.Klog{Split: "test"}}
	if cfg.MetricsDB != "" {
		store, err := logsink.OpenStore(ctx, cfg.MetricsDB)
		if err != nil {
			return err
		}
		defer store.Close()
		klog.Infof("recording metrics db=%s run=%s", cfg.MetricsDB, store.RunID())
		trainSinks = append(trainSinks, store.Sink("train"))
		testSinks = append(testSinks, store.Sink("test"))
	}

	last, err := trainer.Run(ctx, runCfg, trainer.Job{
		Model:       clf,
		Optimizer:   opt,
		TrainLoader: trainLoader,
		TestLoader:  testLoader,
		TrainLogger: trainSinks,
		TestLogger:  testSinks,
		Progress:    progress.Bars{Writer: os.Stderr},
	})
	if err != nil {
		return err
	}
	klog.Infof("finished epochs=%d %s", cfg.Epochs, metrics.Format(last, "test_"))
	return nil
}

// optimizer builds SGD over the trainable parameters of m.
func optimizer(m model.Model, cfg *config.Config) (model.Optimizer, error) {
	p, ok := m.(model.Parameterized)
	if !ok {
		return nil, fmt.Errorf("model %T exposes no parameters to optimize", m)
	}
	return optim.NewSGD(p.Parameters(), optim.SGDConfig{LR: cfg.LearningRate, Momentum: cfg.Momentum}), nil
}

// loaders builds the train and test loaders. Synthetic sets share class
// centres but draw their noise from different seeds.
func loaders(ctx context.Context, cfg *config.Config) (*dataset.MemoryLoader, *dataset.MemoryLoader, error) {
	trainOpts := dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Shuffle:   cfg.Shuffle,
		Seed:      cfg.Seed,
		Prefetch:  cfg.NumWorkers,
	}
	testOpts := dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Prefetch:  cfg.NumWorkers,
	}

	if cfg.Synthetic {
		features := cfg.FeatureGrid * cfg.FeatureGrid
		train, err := dataset.NewSynthetic(dataset.SyntheticOptions{
			Samples: syntheticTrainSamples, Classes: cfg.NumClasses, Features: features,
			Noise: syntheticNoise, Seed: cfg.Seed, NoiseSeed: cfg.Seed + 1,
		}, trainOpts)
		if err != nil {
			return nil, nil, err
		}
		test, err := dataset.NewSynthetic(dataset.SyntheticOptions{
			Samples: syntheticTestSamples, Classes: cfg.NumClasses, Features: features,
			Noise: syntheticNoise, Seed: cfg.Seed, NoiseSeed: cfg.Seed + 2,
		}, testOpts)
		if err != nil {
			return nil, nil, err
		}
		return train, test, nil
	}

	train, err := shardLoader(ctx, cfg, cfg.TrainRoots, trainOpts)
	if err != nil {
		return nil, nil, err
	}
	test, err := shardLoader(ctx, cfg, cfg.TestRoots, testOpts)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func shardLoader(ctx context.Context, cfg *config.Config, roots []string, opts dataset.LoaderOptions) (*dataset.MemoryLoader, error) {
	shards, err := dataset.DiscoverByRoot(roots)
	if err != nil {
		return nil, err
	}
	for root, paths := range shards {
		klog.Infof("root=%s shards=%d", root, len(paths))
	}
	return dataset.LoadShards(ctx, dataset.ShardOptions{
		Sampler: dataset.SamplerOptions{
			Roots:      shards,
			Seed:       cfg.Seed,
			NumWorkers: cfg.NumWorkers,
		},
		FeatureGrid: cfg.FeatureGrid,
		Loader:      opts,
	})
}
