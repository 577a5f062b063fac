package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimizer with bias-corrected moment estimates
type Adam struct {
	base

	// Hyperparameters
	Beta1       float64 // Exponential decay rate for first moment estimates
	Beta2       float64 // Exponential decay rate for second moment estimates
	Epsilon     float64 // Small constant for numerical stability
	WeightDecay float64 // L2 regularization coefficient

	momentumBuffers []*mat.Dense // First moment (m_t)
	varianceBuffers []*mat.Dense // Second moment (v_t)
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdam creates a new Adam optimizer over params
func NewAdam(params []*layers.Parameter, config AdamConfig) (*Adam, error) {
	b, err := newBase(params, config.LearningRate)
	if err != nil {
		return nil, err
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &Adam{
		base:        b,
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
	}
	adam.momentumBuffers = adam.newBuffers()
	adam.varianceBuffers = adam.newBuffers()
	return adam, nil
}

// Step performs a single Adam update
func (adam *Adam) Step() error {
	adam.stepCount++
	t := float64(adam.stepCount)
	biasCorrection1 := 1 - math.Pow(adam.Beta1, t)
	biasCorrection2 := 1 - math.Pow(adam.Beta2, t)

	for i, p := range adam.params {
		m := adam.momentumBuffers[i].RawMatrix()
		v := adam.varianceBuffers[i].RawMatrix()
		r, c := p.Value.Dims()

		for row := 0; row < r; row++ {
			w := p.Value.RawRowView(row)
			g := p.Grad.RawRowView(row)
			for col := 0; col < c; col++ {
				grad := g[col] + adam.WeightDecay*w[col]
				k := row*m.Stride + col

				m.Data[k] = adam.Beta1*m.Data[k] + (1-adam.Beta1)*grad
				v.Data[k] = adam.Beta2*v.Data[k] + (1-adam.Beta2)*grad*grad

				mHat := m.Data[k] / biasCorrection1
				vHat := v.Data[k] / biasCorrection2
				w[col] -= adam.learningRate * mHat / (math.Sqrt(vHat) + adam.Epsilon)
			}
		}
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (adam *Adam) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.learningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.stepCount,
		},
	}
	state.StateData = append(state.StateData, extractBufferStates(adam.momentumBuffers, "momentum")...)
	state.StateData = append(state.StateData, extractBufferStates(adam.varianceBuffers, "variance")...)
	return state, nil
}

// LoadState restores optimizer state from a checkpoint
func (adam *Adam) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.learningRate = extractFloatParam(state.Parameters, "learning_rate", adam.learningRate)
	adam.Beta1 = extractFloatParam(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloatParam(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloatParam(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.stepCount = extractUint64Param(state.Parameters, "step_count", 0)

	if err := restoreBufferStates(adam.momentumBuffers, state, "momentum"); err != nil {
		return fmt.Errorf("failed to restore Adam state: %w", err)
	}
	if err := restoreBufferStates(adam.varianceBuffers, state, "variance"); err != nil {
		return fmt.Errorf("failed to restore Adam state: %w", err)
	}
	return nil
}
