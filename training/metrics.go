package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Classification Metrics
	Accuracy MetricType = iota
	MacroPrecision
	MacroRecall
	MacroF1

	// Regression Metrics
	MAE  // Mean Absolute Error
	MSE  // Mean Squared Error
	RMSE // Root Mean Squared Error
	R2   // R-squared
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MAE:
		return "MAE"
	case MSE:
		return "MSE"
	case RMSE:
		return "RMSE"
	case R2:
		return "R2"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds a batch of logits (one row per sample) and class-index labels.
func (cm *ConfusionMatrix) Update(logits, labels *mat.Dense) error {
	r, c := logits.Dims()
	if c != cm.NumClasses {
		return fmt.Errorf("class count mismatch: expected %d, got %d", cm.NumClasses, c)
	}
	idx, err := classLabels(logits, labels)
	if err != nil {
		return err
	}

	for i := 0; i < r; i++ {
		predClass := floats.MaxIdx(logits.RawRowView(i))
		cm.Matrix[idx[i]][predClass]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates a classification metric
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Accuracy:
		return cm.GetAccuracy()
	case MacroPrecision:
		return cm.macroAverage(cm.precision)
	case MacroRecall:
		return cm.macroAverage(cm.recall)
	case MacroF1:
		return cm.macroAverage(func(class int) float64 {
			p, r := cm.precision(class), cm.recall(class)
			if p+r == 0 {
				return 0
			}
			return 2 * p * r / (p + r)
		})
	default:
		return 0.0
	}
}

func (cm *ConfusionMatrix) precision(class int) float64 {
	predicted := 0
	for i := 0; i < cm.NumClasses; i++ {
		predicted += cm.Matrix[i][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(predicted)
}

func (cm *ConfusionMatrix) recall(class int) float64 {
	actual := 0
	for j := 0; j < cm.NumClasses; j++ {
		actual += cm.Matrix[class][j]
	}
	if actual == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(actual)
}

func (cm *ConfusionMatrix) macroAverage(perClass func(int) float64) float64 {
	if cm.NumClasses == 0 {
		return 0
	}
	var sum float64
	for class := 0; class < cm.NumClasses; class++ {
		sum += perClass(class)
	}
	return sum / float64(cm.NumClasses)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

// RegressionMetrics holds regression evaluation metrics
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
}

// CalculateRegressionMetrics compares predictions and true values element-wise.
func CalculateRegressionMetrics(predictions, trueValues []float64) (*RegressionMetrics, error) {
	if len(predictions) != len(trueValues) {
		return nil, fmt.Errorf("length mismatch: %d predictions, %d true values", len(predictions), len(trueValues))
	}
	if len(predictions) == 0 {
		return &RegressionMetrics{}, nil
	}

	n := float64(len(predictions))
	residuals := make([]float64, len(predictions))
	floats.SubTo(residuals, predictions, trueValues)

	mse := floats.Dot(residuals, residuals) / n
	mae := floats.Norm(residuals, 1) / n

	r2 := 0.0
	meanTrue := stat.Mean(trueValues, nil)
	var sumSqTotal float64
	for _, v := range trueValues {
		sumSqTotal += (v - meanTrue) * (v - meanTrue)
	}
	if sumSqTotal > 0 {
		r2 = 1.0 - (mse*n)/sumSqTotal
	}

	return &RegressionMetrics{
		MAE:  mae,
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		R2:   r2,
	}, nil
}
