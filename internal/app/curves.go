package app

import (
	"log/slog"

	"github.com/tsawler/go-trainloop/layers"
	"github.com/tsawler/go-trainloop/training"
)

// curveRecorder feeds a VisualizationCollector. It listens to progress
// events for the training loss and learning rate, and wraps the evaluator to
// capture validation stats.
type curveRecorder struct {
	collector *training.VisualizationCollector
	optimizer training.Optimizer
	evaluator training.Evaluator
	modelName string
	epoch     int
}

func newCurveRecorder(modelName string, opt training.Optimizer) *curveRecorder {
	return &curveRecorder{
		collector: training.NewVisualizationCollector(modelName),
		optimizer: opt,
		modelName: modelName,
	}
}

func (r *curveRecorder) StartEpoch(epoch, totalEpochs, batches int) {
	r.epoch = epoch
}

func (r *curveRecorder) UpdateBatch(batch int, runningLoss float64) {}

func (r *curveRecorder) FinishEpoch(epoch int, loss float64) {
	r.collector.RecordEpoch(epoch, loss, r.optimizer.LearningRate())
}

// Evaluate implements training.Evaluator on top of the wrapped evaluator.
func (r *curveRecorder) Evaluate(model layers.Module) (training.Stats, error) {
	stats, err := r.evaluator.Evaluate(model)
	if err != nil {
		return nil, err
	}
	r.collector.RecordEvaluation(r.epoch, stats)
	return stats, nil
}

// sendSummaryPlots posts the end-of-run plots to the sidecar in one batch:
// training curves, the learning rate schedule and, after a classification
// evaluation, the validation confusion matrix.
func sendSummaryPlots(service *training.PlottingService, curves *curveRecorder, evaluator *training.LossEvaluator, logger *slog.Logger) {
	plots := []training.PlotData{
		curves.collector.GenerateTrainingCurvesPlot(),
		curves.collector.GenerateLearningRateSchedulePlot(),
	}
	if evaluator != nil {
		if cm := evaluator.ConfusionMatrix(); cm != nil {
			plots = append(plots, training.GenerateConfusionMatrixPlot(curves.modelName, cm, nil))
		}
	}

	resp, err := service.BatchSendPlots(plots)
	if err != nil {
		logger.Warn("failed to send summary plots", "error", err)
		return
	}
	logger.Info("summary plots sent", "plots", len(plots), "dashboard", resp.DashboardURL)
}
