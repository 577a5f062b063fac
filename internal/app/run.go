package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tsawler/go-trainloop/checkpoints"
	"github.com/tsawler/go-trainloop/dashboard"
	"github.com/tsawler/go-trainloop/optimizer"
	"github.com/tsawler/go-trainloop/training"
)

// Result summarizes a finished, or failed, run.
type Result struct {
	RunID       string
	LossHistory []float64
	Checkpoints []string // periodic checkpoints still on disk
	ResumedFrom int      // epochs completed by the checkpoint this run resumed, if any
}

// Run builds every collaborator the run file asks for and trains the model.
// On a training failure the result still holds the losses of every completed
// epoch.
func (a *App) Run(ctx context.Context) (*Result, error) {
	run := a.run
	runID := uuid.New().String()
	logger := a.logger.With("run", run.Name, "run_id", runID)

	ds, err := buildDataset(run.Data, run.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build dataset: %w", err)
	}
	trainLoader, validationLoader, err := buildLoaders(run.Data, ds, run.Seed)
	if err != nil {
		return nil, err
	}

	features, outputs := ds.Dims()
	numClasses := 0
	if run.Data.Classification() {
		outputs, numClasses = run.Data.Classes, run.Data.Classes
	}
	builder, model, err := buildModel(run.Model, features, outputs, run.Seed)
	if err != nil {
		return nil, err
	}
	criterion := buildCriterion(run.Data)

	opt, err := optimizer.New(run.Optimizer.Name, model.Parameters(), run.Optimizer.LearningRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	if a.config.Progress {
		training.NewModelArchitecturePrinter(run.Name).PrintArchitecture(a.errW, builder, model)
	}

	policy, err := training.ParseNonFinitePolicy(run.NonFinite)
	if err != nil {
		return nil, err
	}

	curves := newCurveRecorder(run.Name, opt)
	sinks := training.MultiProgress{training.NewLogProgress(logger, 10), curves}
	if a.config.Progress {
		sinks = append(sinks, training.NewTerminalProgress(a.errW, a.config.Color))
	}

	// engine is assigned below; the checkpoint manager reads its history lazily.
	var engine *training.SupervisedEngine
	engineOpts := []training.EngineOption{
		training.WithLogger(logger),
		training.WithNonFinitePolicy(policy),
	}
	if run.MaxGradNorm > 0 {
		engineOpts = append(engineOpts, training.WithStepOptions(training.WithMaxGradNorm(run.MaxGradNorm)))
	}

	// Built before any resume so the schedule's base rate is the configured one.
	var scheduler *training.EpochScheduler
	if run.Scheduler != nil {
		scheduler, err = buildScheduler(run.Scheduler, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		engineOpts = append(engineOpts, training.WithScheduler(scheduler))
	}

	var evaluator *training.LossEvaluator
	if validationLoader != nil {
		evaluator, err = training.NewLossEvaluator(criterion, validationLoader, numClasses)
		if err != nil {
			return nil, fmt.Errorf("failed to create evaluator: %w", err)
		}
		curves.evaluator = evaluator
		engineOpts = append(engineOpts, training.WithEvaluator(curves))
	}

	var manager *checkpoints.Manager
	if run.Checkpoint != nil {
		manager, err = buildCheckpointManager(run.Checkpoint, runID, opt, func() []float64 {
			return engine.LossHistory()
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
		}
		if path := run.Checkpoint.Resume; path != "" {
			checkpoint, err := manager.Load(path)
			if err != nil {
				return nil, err
			}
			if err := manager.Restore(checkpoint, model); err != nil {
				return nil, err
			}
			if scheduler != nil {
				if err := scheduler.Resume(checkpoint.TrainingState.Epoch); err != nil {
					return nil, fmt.Errorf("failed to resume scheduler: %w", err)
				}
			}
			logger.Info("resumed from checkpoint", "path", path, "epoch", checkpoint.TrainingState.Epoch)
		}
		engineOpts = append(engineOpts, training.WithCheckpointer(manager))
	}

	var plotting *training.PlottingService
	if v := run.Visualization; v != nil {
		service, stop, err := startVisualization(ctx, v, logger)
		if err != nil {
			return nil, err
		}
		defer stop()
		plotting = service
		engineOpts = append(engineOpts, training.WithVisualizer(
			training.NewSidecarVisualizer(service, run.Name, v.Parameter, v.Shape, v.Height, v.Width),
		))
	}

	if db := run.Dashboard; db != nil {
		sink, err := dashboard.Dial(ctx, dashboard.Config{
			URL:       db.URL,
			Namespace: db.Namespace,
			Timeout:   db.TimeoutDuration(),
			RunID:     runID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to dashboard: %w", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	engineOpts = append(engineOpts, training.WithProgress(sinks))
	engine, err = training.NewSupervisedEngine(criterion, opt, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create training engine: %w", err)
	}

	var batches training.BatchSource = trainLoader
	if run.Data.Prefetch > 0 {
		prefetcher, err := training.NewPrefetchLoader(trainLoader, run.Data.Prefetch)
		if err != nil {
			return nil, err
		}
		defer prefetcher.Stop()
		batches = prefetcher
	}

	logger.Info("run configured",
		"epochs", run.Epochs,
		"train_examples", trainLoader.NumExamples(),
		"prefetch", run.Data.Prefetch,
		"parameters", training.CountParameters(model),
		"optimizer", run.Optimizer.Name,
	)
	_, trainErr := engine.Train(model, batches, run.Epochs, cadenceOptions(run)...)

	result := &Result{RunID: runID, LossHistory: engine.LossHistory()}
	if manager != nil {
		result.Checkpoints = manager.SavedFiles()
		result.ResumedFrom = manager.EpochOffset()
	}

	a.printHistory(engine.History(), result.ResumedFrom)

	if plotting != nil && len(result.LossHistory) > 0 {
		sendSummaryPlots(plotting, curves, evaluator, logger)
	}

	if trainErr != nil {
		return result, fmt.Errorf("training failed: %w", trainErr)
	}
	logger.Info("training finished", "epochs", len(result.LossHistory))
	return result, nil
}

// printHistory reports this run's losses numbered after the offset epochs of
// a resumed run.
func (a *App) printHistory(history *training.LossHistory, offset int) {
	fmt.Fprintln(a.outW, "Loss history:")
	for i, loss := range history.Values() {
		fmt.Fprintf(a.outW, "  epoch %d: %.6f\n", offset+i+1, loss)
	}
	if best, epoch, ok := history.Best(); ok {
		fmt.Fprintf(a.outW, "Best: epoch %d, loss %.6f\n", offset+epoch, best)
	}
}
