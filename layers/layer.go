package layers

import (
	"fmt"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	Tanh
	Sigmoid
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Tanh:
		return "Tanh"
	case Sigmoid:
		return "Sigmoid"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// Parameter is a trainable matrix together with its accumulated gradient.
// Grad always has the same shape as Value.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter wraps value as a parameter with a zeroed gradient.
func NewParameter(name string, value *mat.Dense) *Parameter {
	r, c := value.Dims()
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  mat.NewDense(r, c, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Shape returns the parameter dimensions as a slice.
func (p *Parameter) Shape() []int {
	r, c := p.Value.Dims()
	return []int{r, c}
}

// Module is a stateful differentiable function. Backward must be called after
// Forward with the gradient of the loss with respect to Forward's output; it
// accumulates parameter gradients and returns the gradient with respect to the input.
type Module interface {
	Forward(input *mat.Dense) (*mat.Dense, error)
	Backward(gradOutput *mat.Dense) (*mat.Dense, error)
	Parameters() []*Parameter // Returns trainable parameters
	Train()                   // Sets module to training mode
	Eval()                    // Sets module to evaluation mode
	IsTraining() bool         // Returns true if in training mode
}

// ParameterSnapshot is a read-only copy of a parameter's values.
type ParameterSnapshot struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"` // row-major
}

// At returns the snapshot value at row i, column j.
func (s ParameterSnapshot) At(i, j int) float64 {
	return s.Data[i*s.Cols+j]
}

// Snapshot copies every parameter of m. The copies share no memory with the model.
func Snapshot(m Module) []ParameterSnapshot {
	params := m.Parameters()
	snaps := make([]ParameterSnapshot, 0, len(params))
	for _, p := range params {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, p.Value.RawRowView(i)...)
		}
		snaps = append(snaps, ParameterSnapshot{Name: p.Name, Rows: r, Cols: c, Data: data})
	}
	return snaps
}

// LayerSpec describes one layer for the ModelBuilder.
type LayerSpec struct {
	Type       LayerType
	Name       string
	OutputSize int     // Dense only
	UseBias    bool    // Dense only
	Rate       float64 // Dropout only
}

// ModelBuilder assembles a Sequential model from layer specs.
type ModelBuilder struct {
	inputSize int
	layers    []LayerSpec
}

// NewModelBuilder creates a builder for models taking inputSize features.
func NewModelBuilder(inputSize int) *ModelBuilder {
	return &ModelBuilder{inputSize: inputSize}
}

// AddDense appends a fully connected layer.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{Type: Dense, Name: name, OutputSize: outputSize, UseBias: useBias})
	return mb
}

// AddReLU appends a ReLU activation.
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{Type: ReLU, Name: name})
	return mb
}

// AddTanh appends a Tanh activation.
func (mb *ModelBuilder) AddTanh(name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{Type: Tanh, Name: name})
	return mb
}

// AddSigmoid appends a Sigmoid activation.
func (mb *ModelBuilder) AddSigmoid(name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{Type: Sigmoid, Name: name})
	return mb
}

// AddDropout appends a dropout layer that is active only in training mode.
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{Type: Dropout, Name: name, Rate: rate})
	return mb
}

// Build instantiates the model. seed drives weight initialization and dropout masks.
func (mb *ModelBuilder) Build(seed int64) (*Sequential, error) {
	if mb.inputSize <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %d", mb.inputSize)
	}
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("model has no layers")
	}

	rng := rand.New(rand.NewSource(seed))
	size := mb.inputSize
	modules := make([]Module, 0, len(mb.layers))
	for i, spec := range mb.layers {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s%d", strings.ToLower(spec.Type.String()), i)
		}
		switch spec.Type {
		case Dense:
			l, err := NewLinear(name, size, spec.OutputSize, spec.UseBias, rng)
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", name, err)
			}
			modules = append(modules, l)
			size = spec.OutputSize
		case ReLU:
			modules = append(modules, NewReLU())
		case Tanh:
			modules = append(modules, NewTanh())
		case Sigmoid:
			modules = append(modules, NewSigmoid())
		case Dropout:
			d, err := NewDropout(spec.Rate, rand.New(rand.NewSource(rng.Int63())))
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", name, err)
			}
			modules = append(modules, d)
		default:
			return nil, fmt.Errorf("unsupported layer type: %s", spec.Type)
		}
	}

	return NewSequential(modules...), nil
}

// Summary returns a one-line-per-layer description of the builder's layers.
func (mb *ModelBuilder) Summary() string {
	var sb strings.Builder
	size := mb.inputSize
	for _, spec := range mb.layers {
		switch spec.Type {
		case Dense:
			fmt.Fprintf(&sb, "(%s): Linear(in_features=%d, out_features=%d, bias=%t)\n", spec.Name, size, spec.OutputSize, spec.UseBias)
			size = spec.OutputSize
		case Dropout:
			fmt.Fprintf(&sb, "(%s): Dropout(p=%g)\n", spec.Name, spec.Rate)
		default:
			fmt.Fprintf(&sb, "(%s): %s()\n", spec.Name, spec.Type)
		}
	}
	return sb.String()
}
