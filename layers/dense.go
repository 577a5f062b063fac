package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear implements a fully connected layer: y = xW + b.
// The weight has shape [inputSize, outputSize], so column j holds the incoming
// weights of output unit j.
type Linear struct {
	weight   *Parameter
	bias     *Parameter
	input    *mat.Dense
	training bool
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform weights and zero bias.
func NewLinear(name string, inputSize, outputSize int, bias bool, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer sizes must be positive, got %dx%d", inputSize, outputSize)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float64, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = (rng.Float64()*2.0 - 1.0) * bound
	}

	l := &Linear{
		weight:   NewParameter(name+".weight", mat.NewDense(inputSize, outputSize, weightData)),
		training: true,
	}
	if bias {
		l.bias = NewParameter(name+".bias", mat.NewDense(1, outputSize, nil))
	}
	return l, nil
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias returns the bias parameter, or nil when the layer has none.
func (l *Linear) Bias() *Parameter { return l.bias }

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *mat.Dense) (*mat.Dense, error) {
	inRows, inCols := input.Dims()
	wRows, wCols := l.weight.Value.Dims()
	if inCols != wRows {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", wRows, inCols)
	}

	l.input = input
	output := mat.NewDense(inRows, wCols, nil)
	output.Mul(input, l.weight.Value)
	if l.bias != nil {
		b := l.bias.Value.RawRowView(0)
		for i := 0; i < inRows; i++ {
			floats.Add(output.RawRowView(i), b)
		}
	}
	return output, nil
}

// Backward accumulates dW = xᵀg and db = Σg, and returns gWᵀ.
func (l *Linear) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	gRows, gCols := gradOutput.Dims()
	inRows, inCols := l.input.Dims()
	_, wCols := l.weight.Value.Dims()
	if gRows != inRows || gCols != wCols {
		return nil, fmt.Errorf("gradient shape mismatch: expected %dx%d, got %dx%d", inRows, wCols, gRows, gCols)
	}

	var dW mat.Dense
	dW.Mul(l.input.T(), gradOutput)
	l.weight.Grad.Add(l.weight.Grad, &dW)

	if l.bias != nil {
		db := l.bias.Grad.RawRowView(0)
		for i := 0; i < gRows; i++ {
			floats.Add(db, gradOutput.RawRowView(i))
		}
	}

	gradInput := mat.NewDense(gRows, inCols, nil)
	gradInput.Mul(gradOutput, l.weight.Value.T())
	return gradInput, nil
}

// Parameters returns the weight and, if present, the bias.
func (l *Linear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }
