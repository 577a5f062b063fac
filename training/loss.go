package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MSELoss implements Mean Squared Error loss function
type MSELoss struct {
	reduction string // "mean" or "sum"
}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss(reduction string) *MSELoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &MSELoss{reduction: reduction}
}

// Forward computes the MSE loss: L = (1/N) * sum((y_pred - y_true)^2)
func (mse *MSELoss) Forward(predicted, target *mat.Dense) (float64, error) {
	if err := sameShape(predicted, target); err != nil {
		return 0, err
	}

	var diff mat.Dense
	diff.Sub(predicted, target)
	data := diff.RawMatrix().Data
	sum := floats.Dot(data, data)

	if mse.reduction == "mean" {
		return sum / float64(len(data)), nil
	}
	return sum, nil
}

// Backward computes the MSE gradient: dL/dy_pred = 2 * (y_pred - y_true) / N
func (mse *MSELoss) Backward(predicted, target *mat.Dense) (*mat.Dense, error) {
	if err := sameShape(predicted, target); err != nil {
		return nil, err
	}

	r, c := predicted.Dims()
	scale := 2.0
	if mse.reduction == "mean" {
		scale /= float64(r * c)
	}

	grad := mat.NewDense(r, c, nil)
	grad.Sub(predicted, target)
	grad.Scale(scale, grad)
	return grad, nil
}

func sameShape(predicted, target *mat.Dense) error {
	pr, pc := predicted.Dims()
	tr, tc := target.Dims()
	if pr != tr || pc != tc {
		return fmt.Errorf("predicted and target must have the same shape: got %dx%d and %dx%d", pr, pc, tr, tc)
	}
	return nil
}

// CrossEntropyLoss combines softmax and negative log likelihood. Targets are a
// single column of class indices stored as floats.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new cross-entropy loss averaged over the batch.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes -mean(log(softmax(logits)[label])).
func (ce *CrossEntropyLoss) Forward(logits, target *mat.Dense) (float64, error) {
	labels, err := classLabels(logits, target)
	if err != nil {
		return 0, err
	}

	var total float64
	for i, label := range labels {
		row := logits.RawRowView(i)
		total += logSumExp(row) - row[label]
	}
	return total / float64(len(labels)), nil
}

// Backward returns (softmax(logits) - onehot(label)) / batchSize.
func (ce *CrossEntropyLoss) Backward(logits, target *mat.Dense) (*mat.Dense, error) {
	labels, err := classLabels(logits, target)
	if err != nil {
		return nil, err
	}

	r, c := logits.Dims()
	grad := mat.NewDense(r, c, nil)
	n := float64(r)
	for i, label := range labels {
		probs := grad.RawRowView(i)
		softmaxInto(probs, logits.RawRowView(i))
		probs[label] -= 1
		floats.Scale(1/n, probs)
	}
	return grad, nil
}

// Softmax returns row-wise class probabilities for logits.
func Softmax(logits *mat.Dense) *mat.Dense {
	r, c := logits.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		softmaxInto(out.RawRowView(i), logits.RawRowView(i))
	}
	return out
}

func classLabels(logits, target *mat.Dense) ([]int, error) {
	r, c := logits.Dims()
	tr, tc := target.Dims()
	if tr != r {
		return nil, fmt.Errorf("%w: logits %d, labels %d", ErrShapeMismatch, r, tr)
	}
	if tc != 1 {
		return nil, fmt.Errorf("labels must be a single column of class indices, got %d columns", tc)
	}

	labels := make([]int, r)
	for i := 0; i < r; i++ {
		v := target.At(i, 0)
		label := int(v)
		if float64(label) != v || label < 0 || label >= c {
			return nil, fmt.Errorf("label %v at row %d is not a class index in [0, %d)", v, i, c)
		}
		labels[i] = label
	}
	return labels, nil
}

func logSumExp(row []float64) float64 {
	maxVal := floats.Max(row)
	var sum float64
	for _, v := range row {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

func softmaxInto(dst, row []float64) {
	maxVal := floats.Max(row)
	var sum float64
	for j, v := range row {
		dst[j] = math.Exp(v - maxVal)
		sum += dst[j]
	}
	floats.Scale(1/sum, dst)
}
