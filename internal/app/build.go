package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tsawler/go-trainloop/checkpoints"
	"github.com/tsawler/go-trainloop/config"
	"github.com/tsawler/go-trainloop/datasets"
	"github.com/tsawler/go-trainloop/layers"
	"github.com/tsawler/go-trainloop/optimizer"
	"github.com/tsawler/go-trainloop/training"
)

// blobsBox bounds the cluster centers of generated blobs.
const blobsBox = 10.0

func buildDataset(d *config.Data, seed int64) (training.Dataset, error) {
	switch d.Kind {
	case "linear":
		ds, _, err := datasets.Linear(datasets.LinearConfig{
			Samples:  d.Samples,
			Features: d.Features,
			Noise:    d.Noise,
			Seed:     seed,
		})
		if err != nil {
			return nil, err
		}
		return ds, nil
	default:
		ds, err := datasets.Blobs(datasets.BlobsConfig{
			Samples:  d.Samples,
			Features: d.Features,
			Classes:  d.Classes,
			Spread:   d.Spread,
			Box:      blobsBox,
			Seed:     seed,
		})
		if err != nil {
			return nil, err
		}
		return ds, nil
	}
}

// buildLoaders batches ds. The validation loader is nil unless the run holds
// out a fraction of the data; it is never shuffled.
func buildLoaders(d *config.Data, ds training.Dataset, seed int64) (train, validation *training.DataLoader, err error) {
	trainSet := ds
	if d.ValidationFraction > 0 {
		t, v, err := training.SplitDataset(ds, d.ValidationFraction, seed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to split dataset: %w", err)
		}
		trainSet = t
		validation, err = training.NewDataLoader(v, d.BatchSize, false, seed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create validation loader: %w", err)
		}
	}

	train, err = training.NewDataLoader(trainSet, d.BatchSize, *d.Shuffle, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create training loader: %w", err)
	}
	return train, validation, nil
}

// buildModel assembles an MLP: one dense layer per hidden size, each followed
// by the activation and optional dropout, then a dense output layer.
func buildModel(m *config.Model, features, outputs int, seed int64) (*layers.ModelBuilder, *layers.Sequential, error) {
	builder := layers.NewModelBuilder(features)
	for i, size := range m.Hidden {
		builder.AddDense(size, true, fmt.Sprintf("dense%d", i))
		switch m.Activation {
		case "tanh":
			builder.AddTanh("")
		case "sigmoid":
			builder.AddSigmoid("")
		default:
			builder.AddReLU("")
		}
		if m.Dropout > 0 {
			builder.AddDropout(m.Dropout, "")
		}
	}
	builder.AddDense(outputs, true, "output")

	model, err := builder.Build(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build model: %w", err)
	}
	return builder, model, nil
}

func buildCriterion(d *config.Data) training.Criterion {
	if d.Classification() {
		return training.NewCrossEntropyLoss()
	}
	return training.NewMSELoss("mean")
}

func buildScheduler(s *config.Scheduler, opt training.Optimizer) (*training.EpochScheduler, error) {
	strategy, err := training.NewLRScheduler(s.Settings())
	if err != nil {
		return nil, err
	}
	return training.NewEpochScheduler(strategy, opt)
}

func buildCheckpointManager(c *config.Checkpoint, runID string, opt optimizer.Optimizer, history func() []float64, logger *slog.Logger) (*checkpoints.Manager, error) {
	format, err := checkpoints.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	return checkpoints.NewManager(checkpoints.ManagerConfig{
		SaveDirectory:   c.Directory,
		FilenamePattern: checkpoints.DefaultManagerConfig().FilenamePattern,
		Format:          format,
		MaxCheckpoints:  *c.MaxKeep,
		SaveBest:        *c.SaveBest,
		BestMetric:      c.BestMetric,
		HigherIsBetter:  c.HigherIsBetter,
		Description:     c.Description,
		Tags:            c.Tags,
		RunID:           runID,
	},
		checkpoints.WithOptimizer(opt),
		checkpoints.WithLossHistory(history),
		checkpoints.WithManagerLogger(logger),
	)
}

// startVisualization connects to the plotting sidecar, launching it when the
// run allows. An unreachable sidecar is only logged: each failed plot is
// logged again and training carries on. The returned func stops a sidecar
// this process started.
func startVisualization(ctx context.Context, v *config.Visualization, logger *slog.Logger) (*training.PlottingService, func(), error) {
	serviceConfig := training.DefaultPlottingServiceConfig()
	serviceConfig.BaseURL = v.URL
	serviceConfig.Timeout = v.TimeoutDuration()
	service := training.NewPlottingService(serviceConfig)
	service.Enable()

	sidecarConfig := training.DefaultSidecarConfig()
	sidecarConfig.AutoStart = v.AutoStart
	sidecarConfig.Command = v.Command
	sidecarConfig.Dir = v.Dir
	sidecarConfig.StartTimeout = v.StartTimeoutDuration()
	sidecar, err := training.NewSidecarManager(service, sidecarConfig, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure plotting sidecar: %w", err)
	}
	if err := sidecar.EnsureRunning(ctx); err != nil {
		logger.Warn("plotting sidecar unavailable", "url", v.URL, "error", err)
	}

	stop := func() {
		if err := sidecar.Stop(); err != nil {
			logger.Warn("failed to stop plotting sidecar", "error", err)
		}
	}
	return service, stop, nil
}

// cadenceOptions turns the run's optional intervals into Train options.
func cadenceOptions(run *config.Run) []training.TrainOption {
	var opts []training.TrainOption
	if run.EvalEvery != nil {
		opts = append(opts, training.WithEvalEvery(*run.EvalEvery))
	}
	if run.CheckpointEvery != nil {
		opts = append(opts, training.WithCheckpointEvery(*run.CheckpointEvery))
	}
	if run.VisualizeEvery != nil {
		opts = append(opts, training.WithVisualizeEvery(*run.VisualizeEvery))
	}
	return opts
}
