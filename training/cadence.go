package training

import (
	"fmt"
	"log/slog"

	"github.com/tsawler/go-trainloop/layers"
)

// Cadence decides, per completed epoch, whether to evaluate, checkpoint and
// visualize. A nil interval means "never". It is shared by every engine variant.
type Cadence struct {
	EvalEvery       *int
	CheckpointEvery *int
	VisualizeEvery  *int

	Evaluator    Evaluator
	Checkpointer Checkpointer
	Visualizer   Visualizer

	Logger *slog.Logger
}

// CadenceResult reports what fired for one epoch.
type CadenceResult struct {
	Evaluated    bool
	Stats        Stats
	Checkpointed bool
	Visualized   bool
}

// Every returns a pointer to n for use as a cadence interval.
func Every(n int) *int {
	return &n
}

// Validate rejects non-positive intervals and intervals without a collaborator.
func (c *Cadence) Validate() error {
	checks := []struct {
		name     string
		interval *int
		present  bool
	}{
		{"eval_every", c.EvalEvery, c.Evaluator != nil},
		{"checkpoint_every", c.CheckpointEvery, c.Checkpointer != nil},
		{"visualize_every", c.VisualizeEvery, c.Visualizer != nil},
	}
	for _, chk := range checks {
		if chk.interval == nil {
			continue
		}
		if *chk.interval <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, chk.name, *chk.interval)
		}
		if !chk.present {
			return fmt.Errorf("%w: %s is set but no collaborator is configured", ErrInvalidConfig, chk.name)
		}
	}
	return nil
}

func due(interval *int, epoch int) bool {
	return interval != nil && epoch%*interval == 0
}

// OnEpochComplete runs the collaborators that are due for epoch (1-based).
// Evaluation always happens before checkpointing so a checkpoint taken in the
// same epoch carries that epoch's stats. Evaluator and checkpoint errors are
// returned; visualization errors are logged and dropped.
func (c *Cadence) OnEpochComplete(epoch int, model layers.Module) (CadenceResult, error) {
	var result CadenceResult
	logger := c.logger()

	if due(c.EvalEvery, epoch) {
		stats, err := c.Evaluator.Evaluate(model)
		if err != nil {
			return result, fmt.Errorf("evaluation failed: %w", err)
		}
		result.Evaluated = true
		result.Stats = stats
		logger.Info("evaluation complete", "epoch", epoch, "stats", stats)
	}

	if due(c.CheckpointEvery, epoch) {
		if err := c.Checkpointer.Save(epoch, model, result.Stats); err != nil {
			return result, fmt.Errorf("checkpoint failed: %w", err)
		}
		result.Checkpointed = true
		logger.Debug("checkpoint saved", "epoch", epoch, "with_stats", result.Stats != nil)
	}

	if due(c.VisualizeEvery, epoch) {
		if err := c.Visualizer.Visualize(epoch, layers.Snapshot(model)); err != nil {
			logger.Warn("visualization failed", "epoch", epoch, "error", err)
		} else {
			result.Visualized = true
		}
	}

	return result, nil
}

func (c *Cadence) logger() *slog.Logger {
	if c.Logger == nil {
		return discardLogger
	}
	return c.Logger
}
