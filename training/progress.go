package training

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/tsawler/go-trainloop/layers"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
	now         func() time.Time
}

// NewProgressBar creates a new progress bar writing to out. A total of 0
// means the number of steps is unknown and only the count is shown.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
		now:         time.Now,
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	if pb.total > 0 {
		pb.current = pb.total
	}
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	elapsed := pb.now().Sub(pb.startTime)
	var rate float64
	if pb.current > 0 && elapsed > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
	}

	var line string
	if pb.total > 0 {
		percentage := float64(pb.current) / float64(pb.total)
		if percentage > 1.0 {
			percentage = 1.0
		}

		filled := int(percentage * float64(pb.width))
		bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

		line = fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
			pb.description,
			percentage*100,
			bar,
			pb.current,
			pb.total,
		)

		var eta time.Duration
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
		if pb.showETA && eta > 0 {
			line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
		} else {
			line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
		}
	} else {
		line = fmt.Sprintf("\r%s: %d [%s", pb.description, pb.current, formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	for _, key := range slices.Sorted(maps.Keys(pb.metrics)) {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.4f", key, value)
		}
	}

	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// TerminalProgress is a ProgressSink that draws one progress bar per epoch,
// labelled "Epoch e/N", followed by a colored loss summary.
type TerminalProgress struct {
	out    io.Writer
	colors bool
	bar    *ProgressBar
}

// NewTerminalProgress writes to out. Colors are used only when colors is true.
func NewTerminalProgress(out io.Writer, colors bool) *TerminalProgress {
	if out == nil {
		out = os.Stderr
	}
	return &TerminalProgress{out: out, colors: colors}
}

func (tp *TerminalProgress) StartEpoch(epoch, totalEpochs, batches int) {
	tp.bar = NewProgressBar(tp.out, fmt.Sprintf("Epoch %d/%d", epoch, totalEpochs), batches)
}

func (tp *TerminalProgress) UpdateBatch(batch int, runningLoss float64) {
	if tp.bar == nil {
		return
	}
	tp.bar.Update(batch, map[string]float64{"loss": runningLoss})
}

func (tp *TerminalProgress) FinishEpoch(epoch int, loss float64) {
	if tp.bar != nil {
		tp.bar.Finish()
		tp.bar = nil
	}
	summary := fmt.Sprintf("Train loss: %.4f", loss)
	if tp.colors {
		summary = color.Green.Sprint(summary)
	}
	fmt.Fprintln(tp.out, summary)
}

// LogProgress is a ProgressSink that emits structured log records. Batch
// updates are logged at debug level every batchEvery batches.
type LogProgress struct {
	logger     *slog.Logger
	batchEvery int
	epochStart time.Time
}

// NewLogProgress creates a log-based progress sink.
func NewLogProgress(logger *slog.Logger, batchEvery int) *LogProgress {
	if logger == nil {
		logger = discardLogger
	}
	if batchEvery <= 0 {
		batchEvery = 10
	}
	return &LogProgress{logger: logger, batchEvery: batchEvery}
}

func (lp *LogProgress) StartEpoch(epoch, totalEpochs, batches int) {
	lp.epochStart = time.Now()
	lp.logger.Debug("epoch started", "epoch", epoch, "total_epochs", totalEpochs, "batches", batches)
}

func (lp *LogProgress) UpdateBatch(batch int, runningLoss float64) {
	if batch%lp.batchEvery != 0 {
		return
	}
	lp.logger.Debug("batch", "batch", batch, "running_loss", runningLoss)
}

func (lp *LogProgress) FinishEpoch(epoch int, loss float64) {
	lp.logger.Info("Train loss", "epoch", epoch, "loss", loss, "elapsed", time.Since(lp.epochStart))
}

// MultiProgress fans progress out to several sinks in order.
type MultiProgress []ProgressSink

func (m MultiProgress) StartEpoch(epoch, totalEpochs, batches int) {
	for _, s := range m {
		s.StartEpoch(epoch, totalEpochs, batches)
	}
}

func (m MultiProgress) UpdateBatch(batch int, runningLoss float64) {
	for _, s := range m {
		s.UpdateBatch(batch, runningLoss)
	}
}

func (m MultiProgress) FinishEpoch(epoch int, loss float64) {
	for _, s := range m {
		s.FinishEpoch(epoch, loss)
	}
}

// ModelArchitecturePrinter prints PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// PrintArchitecture prints the layers described by builder and the parameter
// count of the model built from it.
func (p *ModelArchitecturePrinter) PrintArchitecture(out io.Writer, builder *layers.ModelBuilder, model layers.Module) {
	fmt.Fprintf(out, "Model Architecture:\n")
	fmt.Fprintf(out, "%s(\n", p.modelName)
	for _, line := range strings.Split(strings.TrimRight(builder.Summary(), "\n"), "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, ")\n\n")

	total := CountParameters(model)
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(total*8)/1024/1024) // 8 bytes per float64
}

// CountParameters returns the number of scalar parameters in model.
func CountParameters(model layers.Module) int64 {
	var total int64
	for _, p := range model.Parameters() {
		r, c := p.Value.Dims()
		total += int64(r * c)
	}
	return total
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
