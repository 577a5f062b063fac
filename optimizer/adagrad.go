package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// AdaGrad implements the AdaGrad optimizer: each weight's step is scaled by
// the inverse square root of its accumulated squared gradients.
type AdaGrad struct {
	base

	Epsilon     float64 // Small constant for numerical stability
	WeightDecay float64 // L2 regularization strength

	squaredGradSumBuffers []*mat.Dense
}

// AdaGradConfig holds configuration for AdaGrad optimizer
type AdaGradConfig struct {
	LearningRate float64 // Learning rate
	Epsilon      float64 // Small constant for numerical stability
	WeightDecay  float64 // L2 regularization strength
}

// DefaultAdaGradConfig returns default AdaGrad optimizer configuration
func DefaultAdaGradConfig() AdaGradConfig {
	return AdaGradConfig{
		LearningRate: 0.01,
		Epsilon:      1e-10,
		WeightDecay:  0.0,
	}
}

// NewAdaGrad creates a new AdaGrad optimizer over params
func NewAdaGrad(params []*layers.Parameter, config AdaGradConfig) (*AdaGrad, error) {
	b, err := newBase(params, config.LearningRate)
	if err != nil {
		return nil, err
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adagrad := &AdaGrad{
		base:        b,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
	}
	adagrad.squaredGradSumBuffers = adagrad.newBuffers()
	return adagrad, nil
}

// Step performs a single AdaGrad update
func (adagrad *AdaGrad) Step() error {
	for i, p := range adagrad.params {
		sum := adagrad.squaredGradSumBuffers[i].RawMatrix()
		r, c := p.Value.Dims()
		for row := 0; row < r; row++ {
			w := p.Value.RawRowView(row)
			g := p.Grad.RawRowView(row)
			for col := 0; col < c; col++ {
				grad := g[col] + adagrad.WeightDecay*w[col]
				k := row*sum.Stride + col
				sum.Data[k] += grad * grad
				w[col] -= adagrad.learningRate * grad / (math.Sqrt(sum.Data[k]) + adagrad.Epsilon)
			}
		}
	}
	adagrad.stepCount++
	return nil
}

// GetState extracts optimizer state for checkpointing
func (adagrad *AdaGrad) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "AdaGrad",
		Parameters: map[string]interface{}{
			"learning_rate": adagrad.learningRate,
			"epsilon":       adagrad.Epsilon,
			"weight_decay":  adagrad.WeightDecay,
			"step_count":    adagrad.stepCount,
		},
		StateData: extractBufferStates(adagrad.squaredGradSumBuffers, "squared_grad_sum"),
	}, nil
}

// LoadState restores optimizer state from a checkpoint
func (adagrad *AdaGrad) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdaGrad", state); err != nil {
		return err
	}

	adagrad.learningRate = extractFloatParam(state.Parameters, "learning_rate", adagrad.learningRate)
	adagrad.Epsilon = extractFloatParam(state.Parameters, "epsilon", adagrad.Epsilon)
	adagrad.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", adagrad.WeightDecay)
	adagrad.stepCount = extractUint64Param(state.Parameters, "step_count", 0)

	if err := restoreBufferStates(adagrad.squaredGradSumBuffers, state, "squared_grad_sum"); err != nil {
		return fmt.Errorf("failed to restore AdaGrad state: %w", err)
	}
	return nil
}
