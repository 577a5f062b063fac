package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// RMSProp implements the RMSProp optimizer
type RMSProp struct {
	base

	// Hyperparameters
	Alpha       float64 // Smoothing constant (typically 0.99)
	Epsilon     float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay float64 // L2 regularization coefficient
	Momentum    float64 // Momentum coefficient (0.0 for no momentum)
	Centered    bool    // Whether to use centered RMSProp (subtract mean of gradients)

	squaredGradAvgBuffers []*mat.Dense // Running average of squared gradients
	momentumBuffers       []*mat.Dense // Momentum buffers (if momentum > 0)
	gradientAvgBuffers    []*mat.Dense // Running average of gradients (if centered)
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSProp creates a new RMSProp optimizer over params
func NewRMSProp(params []*layers.Parameter, config RMSPropConfig) (*RMSProp, error) {
	b, err := newBase(params, config.LearningRate)
	if err != nil {
		return nil, err
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}

	rmsprop := &RMSProp{
		base:        b,
		Alpha:       config.Alpha,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		Momentum:    config.Momentum,
		Centered:    config.Centered,
	}
	rmsprop.squaredGradAvgBuffers = rmsprop.newBuffers()
	if config.Momentum > 0 {
		rmsprop.momentumBuffers = rmsprop.newBuffers()
	}
	if config.Centered {
		rmsprop.gradientAvgBuffers = rmsprop.newBuffers()
	}
	return rmsprop, nil
}

// Step performs a single RMSProp update
func (rmsprop *RMSProp) Step() error {
	for i, p := range rmsprop.params {
		sq := rmsprop.squaredGradAvgBuffers[i].RawMatrix()
		r, c := p.Value.Dims()

		for row := 0; row < r; row++ {
			w := p.Value.RawRowView(row)
			g := p.Grad.RawRowView(row)
			for col := 0; col < c; col++ {
				grad := g[col] + rmsprop.WeightDecay*w[col]
				k := row*sq.Stride + col

				sq.Data[k] = rmsprop.Alpha*sq.Data[k] + (1-rmsprop.Alpha)*grad*grad
				avg := sq.Data[k]
				if rmsprop.Centered {
					ga := rmsprop.gradientAvgBuffers[i].RawMatrix()
					ga.Data[k] = rmsprop.Alpha*ga.Data[k] + (1-rmsprop.Alpha)*grad
					avg -= ga.Data[k] * ga.Data[k]
				}
				denom := math.Sqrt(avg) + rmsprop.Epsilon

				if rmsprop.Momentum > 0 {
					mb := rmsprop.momentumBuffers[i].RawMatrix()
					mb.Data[k] = rmsprop.Momentum*mb.Data[k] + grad/denom
					w[col] -= rmsprop.learningRate * mb.Data[k]
				} else {
					w[col] -= rmsprop.learningRate * grad / denom
				}
			}
		}
	}
	rmsprop.stepCount++
	return nil
}

// GetState extracts optimizer state for checkpointing
func (rmsprop *RMSProp) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": rmsprop.learningRate,
			"alpha":         rmsprop.Alpha,
			"epsilon":       rmsprop.Epsilon,
			"weight_decay":  rmsprop.WeightDecay,
			"momentum":      rmsprop.Momentum,
			"centered":      rmsprop.Centered,
			"step_count":    rmsprop.stepCount,
		},
	}
	state.StateData = append(state.StateData, extractBufferStates(rmsprop.squaredGradAvgBuffers, "squared_grad_avg")...)
	state.StateData = append(state.StateData, extractBufferStates(rmsprop.momentumBuffers, "momentum")...)
	state.StateData = append(state.StateData, extractBufferStates(rmsprop.gradientAvgBuffers, "gradient_avg")...)
	return state, nil
}

// LoadState restores optimizer state from a checkpoint. Momentum and
// centering are fixed at construction; only their buffers are restored.
func (rmsprop *RMSProp) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	rmsprop.learningRate = extractFloatParam(state.Parameters, "learning_rate", rmsprop.learningRate)
	rmsprop.Alpha = extractFloatParam(state.Parameters, "alpha", rmsprop.Alpha)
	rmsprop.Epsilon = extractFloatParam(state.Parameters, "epsilon", rmsprop.Epsilon)
	rmsprop.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", rmsprop.WeightDecay)
	rmsprop.stepCount = extractUint64Param(state.Parameters, "step_count", 0)

	for stateType, buffers := range map[string][]*mat.Dense{
		"squared_grad_avg": rmsprop.squaredGradAvgBuffers,
		"momentum":         rmsprop.momentumBuffers,
		"gradient_avg":     rmsprop.gradientAvgBuffers,
	} {
		if buffers == nil {
			continue
		}
		if err := restoreBufferStates(buffers, state, stateType); err != nil {
			return fmt.Errorf("failed to restore RMSProp state: %w", err)
		}
	}
	return nil
}
