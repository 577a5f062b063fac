package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// activation holds the mode flag shared by the parameter-free layers.
type activation struct {
	training bool
}

func (a *activation) Parameters() []*Parameter { return nil }
func (a *activation) Train()                   { a.training = true }
func (a *activation) Eval()                    { a.training = false }
func (a *activation) IsTraining() bool         { return a.training }

// ReLULayer applies max(0, x) element-wise.
type ReLULayer struct {
	activation
	input *mat.Dense
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLULayer {
	return &ReLULayer{activation: activation{training: true}}
}

func (r *ReLULayer) Forward(input *mat.Dense) (*mat.Dense, error) {
	r.input = input
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, input)
	return &out, nil
}

func (r *ReLULayer) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if r.input == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	var grad mat.Dense
	grad.Apply(func(i, j int, g float64) float64 {
		if r.input.At(i, j) > 0 {
			return g
		}
		return 0
	}, gradOutput)
	return &grad, nil
}

// TanhLayer applies tanh element-wise.
type TanhLayer struct {
	activation
	output *mat.Dense
}

// NewTanh creates a Tanh activation.
func NewTanh() *TanhLayer {
	return &TanhLayer{activation: activation{training: true}}
}

func (t *TanhLayer) Forward(input *mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, input)
	t.output = &out
	return &out, nil
}

func (t *TanhLayer) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if t.output == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	var grad mat.Dense
	grad.Apply(func(i, j int, g float64) float64 {
		y := t.output.At(i, j)
		return g * (1 - y*y)
	}, gradOutput)
	return &grad, nil
}

// SigmoidLayer applies 1/(1+e^-x) element-wise.
type SigmoidLayer struct {
	activation
	output *mat.Dense
}

// NewSigmoid creates a Sigmoid activation.
func NewSigmoid() *SigmoidLayer {
	return &SigmoidLayer{activation: activation{training: true}}
}

func (s *SigmoidLayer) Forward(input *mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, input)
	s.output = &out
	return &out, nil
}

func (s *SigmoidLayer) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if s.output == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	var grad mat.Dense
	grad.Apply(func(i, j int, g float64) float64 {
		y := s.output.At(i, j)
		return g * y * (1 - y)
	}, gradOutput)
	return &grad, nil
}

// DropoutLayer zeroes inputs with probability rate while training and scales the
// survivors by 1/(1-rate). In evaluation mode it is the identity.
type DropoutLayer struct {
	activation
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

// NewDropout creates a dropout layer. rate must be in [0, 1).
func NewDropout(rate float64, rng *rand.Rand) (*DropoutLayer, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %g", rate)
	}
	return &DropoutLayer{activation: activation{training: true}, rate: rate, rng: rng}, nil
}

func (d *DropoutLayer) Forward(input *mat.Dense) (*mat.Dense, error) {
	if !d.training || d.rate == 0 {
		d.mask = nil
		return input, nil
	}
	r, c := input.Dims()
	scale := 1 / (1 - d.rate)
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := mask.RawRowView(i)
		for j := range row {
			if d.rng.Float64() >= d.rate {
				row[j] = scale
			}
		}
	}
	d.mask = mask
	var out mat.Dense
	out.MulElem(input, mask)
	return &out, nil
}

func (d *DropoutLayer) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if d.mask == nil {
		return gradOutput, nil
	}
	var grad mat.Dense
	grad.MulElem(gradOutput, d.mask)
	return &grad, nil
}
