package optimizer

import (
	"fmt"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// SGD implements stochastic gradient descent with optional momentum,
// dampening, Nesterov momentum and L2 weight decay.
type SGD struct {
	base

	// Hyperparameters
	Momentum    float64 // Momentum coefficient (0 for vanilla SGD)
	Dampening   float64 // Dampening applied to the gradient in the momentum update
	WeightDecay float64 // L2 regularization coefficient
	Nesterov    bool    // Whether to use Nesterov momentum

	// Momentum buffers (only if momentum > 0)
	momentumBuffers []*mat.Dense
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		Dampening:    0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGD creates a new SGD optimizer over params
func NewSGD(params []*layers.Parameter, config SGDConfig) (*SGD, error) {
	b, err := newBase(params, config.LearningRate)
	if err != nil {
		return nil, err
	}

	// Validate configuration parameters
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.Dampening < 0 || config.Dampening > 1.0 {
		return nil, fmt.Errorf("dampening must be in [0, 1]: %f", config.Dampening)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum and zero dampening")
	}

	sgd := &SGD{
		base:        b,
		Momentum:    config.Momentum,
		Dampening:   config.Dampening,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
	}
	if config.Momentum > 0 {
		sgd.momentumBuffers = sgd.newBuffers()
	}
	return sgd, nil
}

// Step applies one update: w -= lr * d, where d is the (momentum-adjusted) gradient.
func (sgd *SGD) Step() error {
	for i, p := range sgd.params {
		d := mat.DenseCopyOf(p.Grad)
		if sgd.WeightDecay != 0 {
			d.Add(d, scaled(sgd.WeightDecay, p.Value))
		}

		if sgd.Momentum > 0 {
			buf := sgd.momentumBuffers[i]
			if sgd.stepCount == 0 {
				buf.Copy(d)
			} else {
				buf.Scale(sgd.Momentum, buf)
				buf.Add(buf, scaled(1-sgd.Dampening, d))
			}
			if sgd.Nesterov {
				d.Add(d, scaled(sgd.Momentum, buf))
			} else {
				d.Copy(buf)
			}
		}

		p.Value.Sub(p.Value, scaled(sgd.learningRate, d))
	}
	sgd.stepCount++
	return nil
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.learningRate,
			"momentum":      sgd.Momentum,
			"dampening":     sgd.Dampening,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.stepCount,
		},
	}
	if sgd.momentumBuffers != nil {
		state.StateData = extractBufferStates(sgd.momentumBuffers, "momentum")
	}
	return state, nil
}

// LoadState restores optimizer state from a checkpoint
func (sgd *SGD) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.learningRate = extractFloatParam(state.Parameters, "learning_rate", sgd.learningRate)
	sgd.Momentum = extractFloatParam(state.Parameters, "momentum", sgd.Momentum)
	sgd.Dampening = extractFloatParam(state.Parameters, "dampening", sgd.Dampening)
	sgd.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.stepCount = extractUint64Param(state.Parameters, "step_count", 0)

	if sgd.Momentum > 0 {
		if sgd.momentumBuffers == nil {
			sgd.momentumBuffers = sgd.newBuffers()
		}
		if err := restoreBufferStates(sgd.momentumBuffers, state, "momentum"); err != nil {
			return fmt.Errorf("failed to restore SGD state: %w", err)
		}
	}
	return nil
}

func scaled(f float64, m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}
