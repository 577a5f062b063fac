package optimizer

import (
	"fmt"

	"github.com/tsawler/go-trainloop/layers"
)

// Optimizer defines the common interface for all optimizers. It satisfies
// training.Optimizer and adds state save/restore for checkpointing.
type Optimizer interface {
	// ZeroGrad resets the gradients of every managed parameter
	ZeroGrad()

	// Step performs a single optimization step from the accumulated gradients
	Step() error

	// LearningRate returns the current learning rate
	LearningRate() float64

	// SetLearningRate updates the learning rate
	SetLearningRate(lr float64)

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState struct {
	Type       string                 `json:"type" msgpack:"type"`             // "Adam", "SGD", etc.
	Parameters map[string]interface{} `json:"parameters" msgpack:"parameters"` // Hyperparameters
	StateData  []StateTensor          `json:"state_data" msgpack:"state_data"` // Per-parameter buffers
}

// StateTensor is one named optimizer buffer, such as "momentum_0".
type StateTensor struct {
	Name      string    `json:"name" msgpack:"name"`
	Shape     []int     `json:"shape" msgpack:"shape"`
	Data      []float64 `json:"data" msgpack:"data"`
	StateType string    `json:"state_type" msgpack:"state_type"`
}

// New builds an optimizer by name ("sgd", "adam", "rmsprop" or "adagrad")
// with its default configuration and the given learning rate.
func New(name string, params []*layers.Parameter, lr float64) (Optimizer, error) {
	switch name {
	case "sgd":
		cfg := DefaultSGDConfig()
		cfg.LearningRate = lr
		return NewSGD(params, cfg)
	case "adam":
		cfg := DefaultAdamConfig()
		cfg.LearningRate = lr
		return NewAdam(params, cfg)
	case "rmsprop":
		cfg := DefaultRMSPropConfig()
		cfg.LearningRate = lr
		return NewRMSProp(params, cfg)
	case "adagrad":
		cfg := DefaultAdaGradConfig()
		cfg.LearningRate = lr
		return NewAdaGrad(params, cfg)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// base holds the managed parameters and the fields every optimizer shares.
type base struct {
	params       []*layers.Parameter
	learningRate float64
	stepCount    uint64
}

func newBase(params []*layers.Parameter, lr float64) (base, error) {
	if len(params) == 0 {
		return base{}, fmt.Errorf("no parameters provided")
	}
	if lr < 0 {
		return base{}, fmt.Errorf("learning rate cannot be negative: %f", lr)
	}
	return base{params: params, learningRate: lr}, nil
}

func (b *base) ZeroGrad() {
	for _, p := range b.params {
		p.ZeroGrad()
	}
}

func (b *base) LearningRate() float64 {
	return b.learningRate
}

func (b *base) SetLearningRate(lr float64) {
	b.learningRate = lr
}

func (b *base) GetStepCount() uint64 {
	return b.stepCount
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
