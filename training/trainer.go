package training

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tsawler/go-trainloop/layers"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Engine trains a model for a number of epochs and keeps the loss history of
// every epoch it has completed.
type Engine interface {
	Train(model layers.Module, source BatchSource, epochs int, opts ...TrainOption) (layers.Module, error)
	LossHistory() []float64
}

// SupervisedEngine is the standard Engine for labelled data.
//
// The loss history is cumulative: a second Train call on the same engine
// appends to the entries recorded by the first. Create a new engine for an
// independent run.
//
// A SupervisedEngine is not safe for concurrent use.
type SupervisedEngine struct {
	criterion    Criterion
	optimizer    Optimizer
	step         StepFunc
	stepOpts     []StepOption
	scheduler    Scheduler
	evaluator    Evaluator
	checkpointer Checkpointer
	visualizer   Visualizer
	progress     ProgressSink
	logger       *slog.Logger
	nonFinite    NonFinitePolicy

	history LossHistory
}

// EngineOption configures a SupervisedEngine.
type EngineOption func(*SupervisedEngine)

// WithScheduler advances sched once after every epoch.
func WithScheduler(sched Scheduler) EngineOption {
	return func(e *SupervisedEngine) {
		e.scheduler = sched
	}
}

// WithEvaluator sets the collaborator used when WithEvalEvery is passed to Train.
func WithEvaluator(ev Evaluator) EngineOption {
	return func(e *SupervisedEngine) {
		e.evaluator = ev
	}
}

// WithCheckpointer sets the collaborator used when WithCheckpointEvery is passed to Train.
func WithCheckpointer(cp Checkpointer) EngineOption {
	return func(e *SupervisedEngine) {
		e.checkpointer = cp
	}
}

// WithVisualizer sets the collaborator used when WithVisualizeEvery is passed to Train.
func WithVisualizer(v Visualizer) EngineOption {
	return func(e *SupervisedEngine) {
		e.visualizer = v
	}
}

// WithProgress reports epoch and batch progress to sink.
func WithProgress(sink ProgressSink) EngineOption {
	return func(e *SupervisedEngine) {
		e.progress = sink
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *SupervisedEngine) {
		e.logger = logger
	}
}

// WithNonFinitePolicy decides how NaN or infinite batch losses are handled.
func WithNonFinitePolicy(p NonFinitePolicy) EngineOption {
	return func(e *SupervisedEngine) {
		e.nonFinite = p
	}
}

// WithStep replaces the default SupervisedStep.
func WithStep(step StepFunc) EngineOption {
	return func(e *SupervisedEngine) {
		e.step = step
	}
}

// WithStepOptions passes options to the default SupervisedStep.
func WithStepOptions(opts ...StepOption) EngineOption {
	return func(e *SupervisedEngine) {
		e.stepOpts = append(e.stepOpts, opts...)
	}
}

// NewSupervisedEngine creates an engine that optimizes criterion with optimizer.
func NewSupervisedEngine(criterion Criterion, optimizer Optimizer, opts ...EngineOption) (*SupervisedEngine, error) {
	e := &SupervisedEngine{
		criterion: criterion,
		optimizer: optimizer,
		logger:    discardLogger,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.step == nil {
		if criterion == nil || optimizer == nil {
			return nil, fmt.Errorf("%w: criterion and optimizer are required", ErrInvalidConfig)
		}
		e.step = SupervisedStep(criterion, optimizer, e.stepOpts...)
	}
	if e.logger == nil {
		e.logger = discardLogger
	}
	if e.progress == nil {
		e.progress = nopProgress{}
	}

	return e, nil
}

// TrainOption configures a single Train call.
type TrainOption func(*trainConfig)

type trainConfig struct {
	evalEvery       *int
	checkpointEvery *int
	visualizeEvery  *int
}

// WithEvalEvery evaluates after every epoch whose number is a multiple of n.
func WithEvalEvery(n int) TrainOption {
	return func(c *trainConfig) {
		c.evalEvery = Every(n)
	}
}

// WithCheckpointEvery saves a checkpoint after every epoch whose number is a multiple of n.
func WithCheckpointEvery(n int) TrainOption {
	return func(c *trainConfig) {
		c.checkpointEvery = Every(n)
	}
}

// WithVisualizeEvery renders the weights after every epoch whose number is a multiple of n.
func WithVisualizeEvery(n int) TrainOption {
	return func(c *trainConfig) {
		c.visualizeEvery = Every(n)
	}
}

// LossHistory returns a copy of the per-epoch training losses recorded so far.
func (e *SupervisedEngine) LossHistory() []float64 {
	return e.history.Values()
}

// History gives read access to the recorded losses.
func (e *SupervisedEngine) History() *LossHistory {
	return &e.history
}

// Train puts model into training mode and runs epochs full passes over
// source. The model is left in training mode. Arguments and cadence settings
// are checked before anything runs; those failures wrap ErrInvalidConfig and
// leave the model untouched. After the first epoch starts, failures are
// *EpochError and the history holds every epoch completed before it. The
// returned model is always the one passed in.
func (e *SupervisedEngine) Train(model layers.Module, source BatchSource, epochs int, opts ...TrainOption) (layers.Module, error) {
	var cfg trainConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	cadence := &Cadence{
		EvalEvery:       cfg.evalEvery,
		CheckpointEvery: cfg.checkpointEvery,
		VisualizeEvery:  cfg.visualizeEvery,
		Evaluator:       e.evaluator,
		Checkpointer:    e.checkpointer,
		Visualizer:      e.visualizer,
		Logger:          e.logger,
	}
	if err := e.validate(model, source, epochs, cadence); err != nil {
		return model, err
	}

	model.Train()

	driver := &EpochDriver{
		Step:      e.step,
		Progress:  e.progress,
		NonFinite: e.nonFinite,
	}

	batches := 0
	if bc, ok := source.(batchCounter); ok {
		batches = bc.NumBatches()
	}

	e.logger.Info("training started",
		"epochs", epochs,
		"examples", source.NumExamples(),
		"batches", batches,
		"recorded_epochs", e.history.Len())

	for epoch := 1; epoch <= epochs; epoch++ {
		start := time.Now()
		e.progress.StartEpoch(epoch, epochs, batches)

		loss, err := driver.RunEpoch(model, source)
		if err != nil {
			return model, epochFailure(epoch, err)
		}

		if e.scheduler != nil {
			if err := e.scheduler.Advance(); err != nil {
				return model, &EpochError{Epoch: epoch, Err: fmt.Errorf("failed to advance scheduler: %w", err)}
			}
		}

		e.history.append(loss)
		e.progress.FinishEpoch(epoch, loss)

		attrs := []any{"epoch", epoch, "loss", loss, "elapsed", time.Since(start)}
		if e.optimizer != nil {
			attrs = append(attrs, "lr", e.optimizer.LearningRate())
		}
		e.logger.Info("epoch complete", attrs...)

		result, err := cadence.OnEpochComplete(epoch, model)
		if err != nil {
			return model, &EpochError{Epoch: epoch, Err: err}
		}
		e.logger.Debug("cadence",
			"epoch", epoch,
			"evaluated", result.Evaluated,
			"checkpointed", result.Checkpointed,
			"visualized", result.Visualized)
	}

	return model, nil
}

func (e *SupervisedEngine) validate(model layers.Module, source BatchSource, epochs int, cadence *Cadence) error {
	if model == nil {
		return fmt.Errorf("%w: model is nil", ErrInvalidConfig)
	}
	if source == nil {
		return fmt.Errorf("%w: batch source is nil", ErrInvalidConfig)
	}
	if epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, epochs)
	}
	return cadence.Validate()
}

func epochFailure(epoch int, err error) error {
	var be *batchError
	if errors.As(err, &be) {
		return &EpochError{Epoch: epoch, Batch: be.batch, Err: be.err}
	}
	return &EpochError{Epoch: epoch, Err: err}
}
