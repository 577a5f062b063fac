package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tsawler/go-trainloop/checkpoints"
	"github.com/tsawler/go-trainloop/training"
)

var (
	optimizerNames  = map[string]bool{"sgd": true, "adam": true, "rmsprop": true, "adagrad": true}
	activationNames = map[string]bool{"relu": true, "tanh": true, "sigmoid": true}
)

// Validate reports the first setting that cannot produce a working run.
// Cadence intervals must be positive and need the block that serves them.
func (r *Run) Validate() error {
	if r.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", r.Epochs)
	}
	if _, err := training.ParseNonFinitePolicy(r.NonFinite); err != nil {
		return err
	}
	if r.MaxGradNorm < 0 {
		return fmt.Errorf("max_grad_norm cannot be negative, got %v", r.MaxGradNorm)
	}

	cadence := []struct {
		name     string
		interval *int
		served   bool
		needs    string
	}{
		{"eval_every", r.EvalEvery, r.Data != nil && r.Data.ValidationFraction > 0, "data.validation_fraction"},
		{"checkpoint_every", r.CheckpointEvery, r.Checkpoint != nil, "a checkpoint block"},
		{"visualize_every", r.VisualizeEvery, r.Visualization != nil, "a visualization block"},
	}
	for _, c := range cadence {
		if c.interval == nil {
			continue
		}
		if *c.interval <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.name, *c.interval)
		}
		if !c.served {
			return fmt.Errorf("%s requires %s", c.name, c.needs)
		}
	}

	if r.Data != nil {
		if err := r.Data.validate(); err != nil {
			return fmt.Errorf("data: %w", err)
		}
	}
	if r.Model != nil {
		if err := r.Model.validate(); err != nil {
			return fmt.Errorf("model: %w", err)
		}
	}
	if r.Optimizer != nil {
		if !optimizerNames[r.Optimizer.Name] {
			return fmt.Errorf("optimizer: unknown optimizer %q", r.Optimizer.Name)
		}
		if r.Optimizer.LearningRate <= 0 {
			return fmt.Errorf("optimizer: learning_rate must be positive, got %v", r.Optimizer.LearningRate)
		}
	}
	if r.Scheduler != nil {
		if _, err := training.NewLRScheduler(r.Scheduler.Settings()); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	if c := r.Checkpoint; c != nil {
		if c.Directory == "" {
			return fmt.Errorf("checkpoint: directory is required")
		}
		if _, err := checkpoints.ParseFormat(c.Format); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		if c.MaxKeep != nil && *c.MaxKeep < 0 {
			return fmt.Errorf("checkpoint: max_keep cannot be negative, got %d", *c.MaxKeep)
		}
	}
	if v := r.Visualization; v != nil {
		if v.Parameter == "" {
			return fmt.Errorf("visualization: parameter is required")
		}
		if err := checkURL(v.URL); err != nil {
			return fmt.Errorf("visualization: %w", err)
		}
		if err := checkDuration("timeout", v.Timeout); err != nil {
			return fmt.Errorf("visualization: %w", err)
		}
		if err := checkDuration("start_timeout", v.StartTimeout); err != nil {
			return fmt.Errorf("visualization: %w", err)
		}
		if v.AutoStart && len(v.Command) == 0 {
			return fmt.Errorf("visualization: auto_start requires a command")
		}
	}
	if db := r.Dashboard; db != nil {
		if err := checkURL(db.URL); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		if err := checkDuration("timeout", db.Timeout); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
	}
	return nil
}

func (d *Data) validate() error {
	switch d.Kind {
	case "blobs":
		if d.Classes <= 0 {
			return fmt.Errorf("classes must be positive, got %d", d.Classes)
		}
	case "linear":
	default:
		return fmt.Errorf("unknown dataset kind %q", d.Kind)
	}
	if d.Samples <= 0 || d.Features <= 0 {
		return fmt.Errorf("samples and features must be positive, got %d and %d", d.Samples, d.Features)
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", d.BatchSize)
	}
	if d.Prefetch < 0 {
		return fmt.Errorf("prefetch must not be negative, got %d", d.Prefetch)
	}
	if d.ValidationFraction < 0 || d.ValidationFraction >= 1 {
		return fmt.Errorf("validation_fraction must be in [0, 1), got %v", d.ValidationFraction)
	}
	return nil
}

func (m *Model) validate() error {
	for i, h := range m.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden layer %d size must be positive, got %d", i, h)
		}
	}
	if !activationNames[m.Activation] {
		return fmt.Errorf("unknown activation %q", m.Activation)
	}
	if m.Dropout < 0 || m.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", m.Dropout)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q needs a scheme and a host", raw)
	}
	return nil
}

func checkDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}
