package layers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Sequential chains modules; Forward runs them in order and Backward in reverse.
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a container starting in training mode.
func NewSequential(modules ...Module) *Sequential {
	s := &Sequential{modules: modules}
	s.Train()
	return s
}

// Modules returns the contained modules.
func (s *Sequential) Modules() []Module {
	return s.modules
}

func (s *Sequential) Forward(input *mat.Dense) (*mat.Dense, error) {
	out := input
	for i, m := range s.modules {
		var err error
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("forward pass failed at module %d: %w", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	grad := gradOutput
	for i := len(s.modules) - 1; i >= 0; i-- {
		var err error
		grad, err = s.modules[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("backward pass failed at module %d: %w", i, err)
		}
	}
	return grad, nil
}

func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }
