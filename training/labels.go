package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LabelKind represents the semantic type of labels
type LabelKind int

const (
	ClassificationLabels LabelKind = iota // One class index per row
	RegressionLabels                      // One or more continuous targets per row
)

// String returns human-readable label kind name
func (k LabelKind) String() string {
	switch k {
	case ClassificationLabels:
		return "Classification"
	case RegressionLabels:
		return "Regression"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// ParseLabelKind maps "classification" and "regression" to label kinds.
func ParseLabelKind(s string) (LabelKind, error) {
	switch s {
	case "classification":
		return ClassificationLabels, nil
	case "regression":
		return RegressionLabels, nil
	default:
		return ClassificationLabels, fmt.Errorf("unknown label kind %q", s)
	}
}

// NewClassLabels packs class indices into the single-column label matrix
// expected by CrossEntropyLoss.
func NewClassLabels(classes []int) (*mat.Dense, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("classes cannot be empty")
	}
	data := make([]float64, len(classes))
	for i, c := range classes {
		if c < 0 {
			return nil, fmt.Errorf("class index %d at row %d is negative", c, i)
		}
		data[i] = float64(c)
	}
	return mat.NewDense(len(classes), 1, data), nil
}

// NewRegressionTargets reshapes values into rows of width targets each.
func NewRegressionTargets(values []float64, width int) (*mat.Dense, error) {
	if width <= 0 {
		return nil, fmt.Errorf("target width must be positive, got %d", width)
	}
	if len(values) == 0 || len(values)%width != 0 {
		return nil, fmt.Errorf("%d values cannot be split into rows of %d", len(values), width)
	}
	data := make([]float64, len(values))
	copy(data, values)
	return mat.NewDense(len(values)/width, width, data), nil
}

// OneHot expands single-column class labels into an N×numClasses indicator
// matrix, for training a classifier with MSELoss.
func OneHot(labels *mat.Dense, numClasses int) (*mat.Dense, error) {
	r, c := labels.Dims()
	if c != 1 {
		return nil, fmt.Errorf("labels must have one column, got %d", c)
	}
	out := mat.NewDense(r, numClasses, nil)
	for i := 0; i < r; i++ {
		v := labels.At(i, 0)
		class := int(v)
		if float64(class) != v || class < 0 || class >= numClasses {
			return nil, fmt.Errorf("label %v at row %d is not a class index in [0, %d)", v, i, numClasses)
		}
		out.Set(i, class, 1)
	}
	return out, nil
}
