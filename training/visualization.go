package training

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tsawler/go-trainloop/layers"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	// Training plots
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"

	// Evaluation plots
	ConfusionMatrixPlot PlotType = "confusion_matrix"

	// Model analysis plots
	WeightGrid PlotType = "weight_grid"
)

// PlotData represents the universal JSON format for the sidecar plotting service
type PlotData struct {
	// Metadata
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	// Data series - flexible structure for different plot types
	Series []SeriesData `json:"series"`

	// Plot configuration
	Config PlotConfig `json:"config"`

	// Metrics metadata
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter", "heatmap", "bar"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point - flexible for different plot types
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Z     interface{} `json:"z,omitempty"`     // For heatmaps
	Label string      `json:"label,omitempty"` // For categorical data
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel    string                 `json:"x_axis_label"`
	YAxisLabel    string                 `json:"y_axis_label"`
	XAxisScale    string                 `json:"x_axis_scale"` // "linear", "log"
	YAxisScale    string                 `json:"y_axis_scale"` // "linear", "log"
	ShowLegend    bool                   `json:"show_legend"`
	ShowGrid      bool                   `json:"show_grid"`
	Width         int                    `json:"width"`
	Height        int                    `json:"height"`
	Interactive   bool                   `json:"interactive"`
	CustomOptions map[string]interface{} `json:"custom_options,omitempty"`
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

// VisualizationCollector accumulates per-epoch training data for plotting.
type VisualizationCollector struct {
	modelName string

	epochs        []int
	trainingLoss  []float64
	learningRates []float64

	evalEpochs []int
	evalStats  []Stats
}

// NewVisualizationCollector creates a collector for modelName.
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName}
}

// RecordEpoch stores the training loss and learning rate of a completed epoch.
func (vc *VisualizationCollector) RecordEpoch(epoch int, trainLoss, learningRate float64) {
	vc.epochs = append(vc.epochs, epoch)
	vc.trainingLoss = append(vc.trainingLoss, trainLoss)
	vc.learningRates = append(vc.learningRates, learningRate)
}

// RecordEvaluation stores evaluation stats produced after epoch.
func (vc *VisualizationCollector) RecordEvaluation(epoch int, stats Stats) {
	vc.evalEpochs = append(vc.evalEpochs, epoch)
	vc.evalStats = append(vc.evalStats, stats)
}

// GenerateTrainingCurvesPlot plots training loss per epoch and, when
// evaluations were recorded, the evaluation loss and accuracy.
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	series := []SeriesData{
		{
			Name: "Training Loss",
			Type: "line",
			Data: make([]DataPoint, len(vc.trainingLoss)),
			Style: map[string]interface{}{
				"color":      "#FF6B6B",
				"line_width": 2,
			},
		},
	}
	for i, loss := range vc.trainingLoss {
		series[0].Data[i] = DataPoint{X: vc.epochs[i], Y: loss}
	}

	for _, key := range []string{"loss", "accuracy"} {
		var data []DataPoint
		for i, stats := range vc.evalStats {
			if v, ok := stats[key]; ok {
				data = append(data, DataPoint{X: vc.evalEpochs[i], Y: v})
			}
		}
		if len(data) == 0 {
			continue
		}
		series = append(series, SeriesData{
			Name: "Validation " + key,
			Type: "line",
			Data: data,
			Style: map[string]interface{}{
				"line_width": 2,
				"line_style": "dashed",
			},
		})
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "Epoch",
			YAxisLabel:  "Loss / Accuracy",
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  true,
			ShowGrid:    true,
			Width:       800,
			Height:      600,
			Interactive: true,
		},
	}
}

// GenerateLearningRateSchedulePlot generates learning rate schedule plot data
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	data := make([]DataPoint, len(vc.learningRates))
	for i, lr := range vc.learningRates {
		data[i] = DataPoint{X: vc.epochs[i], Y: lr}
	}

	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{{
			Name: "Learning Rate",
			Type: "line",
			Data: data,
		}},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowGrid:   true,
			Width:      800,
			Height:     400,
		},
	}
}

// GenerateConfusionMatrixPlot renders cm as a heatmap.
func GenerateConfusionMatrixPlot(modelName string, cm *ConfusionMatrix, classNames []string) PlotData {
	var data []DataPoint
	for i, row := range cm.Matrix {
		for j, value := range row {
			data = append(data, DataPoint{
				X:     j,
				Y:     i,
				Z:     value,
				Label: fmt.Sprintf("True: %s, Pred: %s", className(classNames, i), className(classNames, j)),
			})
		}
	}

	return PlotData{
		PlotType:  ConfusionMatrixPlot,
		Title:     fmt.Sprintf("Confusion Matrix - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series: []SeriesData{{
			Name:  "Confusion Matrix",
			Type:  "heatmap",
			Data:  data,
			Style: map[string]interface{}{"colorscale": "Blues"},
		}},
		Config: PlotConfig{
			XAxisLabel:  "Predicted Class",
			YAxisLabel:  "True Class",
			Width:       600,
			Height:      600,
			Interactive: true,
		},
		Metrics: map[string]interface{}{"accuracy": cm.GetAccuracy()},
	}
}

func className(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("%d", i)
}

// WeightGridPlot tiles the incoming weights of a layer's output units into a
// height × width grid of tiles, each reshaped to shape. A one-element shape
// is treated as the side length squared, so 784 becomes 28×28. A nil shape
// uses the unit's input size. Zero height or width picks the largest square
// grid the unit count allows. All tiles share one color scale, symmetric
// around zero and bounded by the largest absolute weight shown.
func WeightGridPlot(modelName string, weights layers.ParameterSnapshot, shape []int, height, width int) (PlotData, error) {
	inputs, units := weights.Rows, weights.Cols
	if len(shape) == 0 {
		shape = []int{inputs}
	}
	if len(shape) == 1 {
		dim := int(math.Sqrt(float64(shape[0])))
		shape = []int{dim, dim}
	}
	if len(shape) != 2 || shape[0] <= 0 || shape[1] <= 0 || shape[0]*shape[1] != inputs {
		return PlotData{}, fmt.Errorf("cannot reshape %d weights per unit into %v", inputs, shape)
	}
	if height <= 0 || width <= 0 {
		height = int(math.Sqrt(float64(units)))
		width = height
	}
	if height*width > units || height*width == 0 {
		return PlotData{}, fmt.Errorf("grid %dx%d needs more than the %d available units", height, width, units)
	}

	tileH, tileW := shape[0], shape[1]
	data := make([]DataPoint, 0, height*width*inputs)
	var vmin, vmax, absMax = math.Inf(1), math.Inf(-1), 0.0

	unit := 0
	for gy := 0; gy < height; gy++ {
		for gx := 0; gx < width; gx++ {
			for k := 0; k < inputs; k++ {
				v := weights.At(k, unit)
				vmin = math.Min(vmin, v)
				vmax = math.Max(vmax, v)
				absMax = math.Max(absMax, math.Abs(v))
				data = append(data, DataPoint{
					X: gx*tileW + k%tileW,
					Y: gy*tileH + k/tileW,
					Z: v,
				})
			}
			unit++
		}
	}

	return PlotData{
		PlotType:  WeightGrid,
		Title:     fmt.Sprintf("Weights - %s", weights.Name),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series: []SeriesData{{
			Name: weights.Name,
			Type: "heatmap",
			Data: data,
			Style: map[string]interface{}{
				"colorscale": "bwr",
				"zmin":       -absMax,
				"zmax":       absMax,
			},
		}},
		Config: PlotConfig{
			ShowLegend: false,
			ShowGrid:   false,
			Width:      width * tileW * 8,
			Height:     height * tileH * 8,
			CustomOptions: map[string]interface{}{
				"grid":       []int{height, width},
				"tile_shape": []int{tileH, tileW},
				"ticks":      []float64{vmin, 0, vmax},
			},
		},
	}, nil
}
