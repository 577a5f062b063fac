package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/floats"
)

// StepFunc performs one optimization step on a batch and returns its loss.
type StepFunc func(model layers.Module, batch *Batch) (float64, error)

// StepOption configures SupervisedStep.
type StepOption func(*stepConfig)

type stepConfig struct {
	maxGradNorm float64
}

// WithMaxGradNorm rescales gradients so their global L2 norm does not exceed
// maxNorm before the optimizer update. Zero disables clipping.
func WithMaxGradNorm(maxNorm float64) StepOption {
	return func(c *stepConfig) {
		c.maxGradNorm = maxNorm
	}
}

// SupervisedStep returns the standard step: clear gradients, forward, compute
// the criterion, backpropagate, update.
func SupervisedStep(criterion Criterion, optimizer Optimizer, opts ...StepOption) StepFunc {
	var cfg stepConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(model layers.Module, batch *Batch) (float64, error) {
		if err := validateBatch(batch); err != nil {
			return 0, err
		}

		// Zero gradients
		optimizer.ZeroGrad()

		// Forward pass
		output, err := model.Forward(batch.Inputs)
		if err != nil {
			return 0, fmt.Errorf("forward pass failed: %w", err)
		}

		// Compute loss
		loss, err := criterion.Forward(output, batch.Labels)
		if err != nil {
			return 0, fmt.Errorf("loss computation failed: %w", err)
		}

		// Backward pass
		grad, err := criterion.Backward(output, batch.Labels)
		if err != nil {
			return 0, fmt.Errorf("loss gradient failed: %w", err)
		}
		if _, err := model.Backward(grad); err != nil {
			return 0, fmt.Errorf("backward pass failed: %w", err)
		}

		if cfg.maxGradNorm > 0 {
			clipGradNorm(model.Parameters(), cfg.maxGradNorm)
		}

		// Update parameters
		if err := optimizer.Step(); err != nil {
			return 0, fmt.Errorf("optimizer step failed: %w", err)
		}

		return loss, nil
	}
}

func validateBatch(batch *Batch) error {
	if batch == nil || batch.Inputs == nil || batch.Labels == nil {
		return ErrEmptyBatch
	}
	inRows, _ := batch.Inputs.Dims()
	labelRows, _ := batch.Labels.Dims()
	if inRows != labelRows {
		return fmt.Errorf("%w: inputs %d, labels %d", ErrShapeMismatch, inRows, labelRows)
	}
	if inRows == 0 {
		return ErrEmptyBatch
	}
	return nil
}

// clipGradNorm scales all gradients in place when their combined L2 norm exceeds maxNorm.
func clipGradNorm(params []*layers.Parameter, maxNorm float64) float64 {
	var sumSq float64
	for _, p := range params {
		n := floats.Norm(p.Grad.RawMatrix().Data, 2)
		sumSq += n * n
	}
	total := math.Sqrt(sumSq)
	if total > maxNorm {
		scale := maxNorm / (total + 1e-12)
		for _, p := range params {
			p.Grad.Scale(scale, p.Grad)
		}
	}
	return total
}
