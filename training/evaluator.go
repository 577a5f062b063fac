package training

import (
	"fmt"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// LossEvaluator scores a model on a held-out batch source.
//
// The model runs in evaluation mode and is put back into whatever mode it
// was in before, so training-only behavior such as dropout stays enabled for
// the epochs that follow.
type LossEvaluator struct {
	criterion  Criterion
	source     BatchSource
	numClasses int

	confusion *ConfusionMatrix
}

// NewLossEvaluator evaluates criterion over source. When numClasses is
// positive the model is treated as a classifier and accuracy and macro F1 are
// reported as well; otherwise regression metrics are reported.
func NewLossEvaluator(criterion Criterion, source BatchSource, numClasses int) (*LossEvaluator, error) {
	if criterion == nil || source == nil {
		return nil, fmt.Errorf("criterion and source are required")
	}
	return &LossEvaluator{
		criterion:  criterion,
		source:     source,
		numClasses: numClasses,
	}, nil
}

// Evaluate returns Stats with "loss" and either "accuracy" and "macro_f1" or
// "mae", "rmse" and "r2".
func (e *LossEvaluator) Evaluate(model layers.Module) (Stats, error) {
	total := e.source.NumExamples()
	if total <= 0 {
		return nil, ErrEmptyDataset
	}

	if model.IsTraining() {
		model.Eval()
		defer model.Train()
	}

	var cm *ConfusionMatrix
	if e.numClasses > 0 {
		cm = NewConfusionMatrix(e.numClasses)
	}
	var preds, targets []float64

	e.source.Reset()
	var weighted float64
	for {
		batch, err := e.source.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to load evaluation batch: %w", err)
		}
		if batch == nil {
			break
		}
		if err := validateBatch(batch); err != nil {
			return nil, err
		}

		output, err := model.Forward(batch.Inputs)
		if err != nil {
			return nil, fmt.Errorf("forward pass failed: %w", err)
		}
		loss, err := e.criterion.Forward(output, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("loss computation failed: %w", err)
		}
		weighted += loss * float64(batch.Size())

		if cm != nil {
			if err := cm.Update(output, batch.Labels); err != nil {
				return nil, fmt.Errorf("failed to update confusion matrix: %w", err)
			}
		} else {
			preds = append(preds, flatten(output)...)
			targets = append(targets, flatten(batch.Labels)...)
		}
	}

	stats := Stats{"loss": weighted / float64(total)}
	if cm != nil {
		stats["accuracy"] = cm.GetAccuracy()
		stats["macro_f1"] = cm.GetMetric(MacroF1)
		e.confusion = cm
		return stats, nil
	}

	reg, err := CalculateRegressionMetrics(preds, targets)
	if err != nil {
		return nil, err
	}
	stats["mae"] = reg.MAE
	stats["rmse"] = reg.RMSE
	stats["r2"] = reg.R2
	return stats, nil
}

// ConfusionMatrix returns the matrix of the last completed classification
// evaluation, or nil if there has been none.
func (e *LossEvaluator) ConfusionMatrix() *ConfusionMatrix {
	return e.confusion
}

// Predict runs model in evaluation mode on inputs and restores its mode.
func Predict(model layers.Module, inputs *mat.Dense) (*mat.Dense, error) {
	if model.IsTraining() {
		model.Eval()
		defer model.Train()
	}
	output, err := model.Forward(inputs)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return output, nil
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
