package training

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/go-trainloop/layers"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Epoch 1/3", 4)
	start := pb.startTime
	pb.now = func() time.Time { return start.Add(2 * time.Second) }

	pb.Update(2, map[string]float64{"loss": 0.5, "accuracy": 0.75})
	out := buf.String()

	for _, want := range []string{"Epoch 1/3", " 50%", "2/4", "loss=0.5000", "accuracy=75.00%", "1.00batch/s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected progress line to contain %q, got %q", want, out)
		}
	}

	buf.Reset()
	pb.Finish()
	if !strings.Contains(buf.String(), "4/4") || !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("expected finished bar with newline, got %q", buf.String())
	}
}

func TestProgressBarUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Epoch 2/2", 0)
	pb.Update(3, nil)

	if strings.Contains(buf.String(), "%|") {
		t.Errorf("expected no percentage without a total, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Epoch 2/2: 3") {
		t.Errorf("expected batch count, got %q", buf.String())
	}
}

func TestTerminalProgress(t *testing.T) {
	var buf bytes.Buffer
	tp := NewTerminalProgress(&buf, false)

	tp.StartEpoch(1, 2, 2)
	tp.UpdateBatch(1, 0.9)
	tp.UpdateBatch(2, 0.8)
	tp.FinishEpoch(1, 0.8)

	out := buf.String()
	if !strings.Contains(out, "Epoch 1/2") {
		t.Errorf("expected epoch label, got %q", out)
	}
	if !strings.HasSuffix(out, "Train loss: 0.8000\n") {
		t.Errorf("expected loss summary at the end, got %q", out)
	}
}

func TestLogProgress(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	lp := NewLogProgress(logger, 2)

	lp.StartEpoch(1, 1, 3)
	lp.UpdateBatch(1, 1.0)
	lp.UpdateBatch(2, 0.5)
	lp.FinishEpoch(1, 0.25)

	out := buf.String()
	if strings.Contains(out, "running_loss=1") {
		t.Errorf("expected batch 1 to be skipped, got %q", out)
	}
	if !strings.Contains(out, "running_loss=0.5") {
		t.Errorf("expected batch 2 to be logged, got %q", out)
	}
	if !strings.Contains(out, `msg="Train loss" epoch=1 loss=0.25`) {
		t.Errorf("expected epoch summary, got %q", out)
	}
}

type recordingSink struct {
	events []string
}

func (r *recordingSink) StartEpoch(epoch, totalEpochs, batches int) {
	r.events = append(r.events, "start")
}

func (r *recordingSink) UpdateBatch(batch int, runningLoss float64) {
	r.events = append(r.events, "batch")
}

func (r *recordingSink) FinishEpoch(epoch int, loss float64) {
	r.events = append(r.events, "finish")
}

func TestMultiProgress(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := MultiProgress{a, b}

	m.StartEpoch(1, 1, 1)
	m.UpdateBatch(1, 0)
	m.FinishEpoch(1, 0)

	for i, s := range []*recordingSink{a, b} {
		if got := strings.Join(s.events, ","); got != "start,batch,finish" {
			t.Errorf("sink %d: expected start,batch,finish, got %s", i, got)
		}
	}
}

func TestModelArchitecturePrinting(t *testing.T) {
	builder := layers.NewModelBuilder(4).
		AddDense(8, true, "fc1").
		AddReLU("relu").
		AddDense(3, true, "fc2")
	model, err := builder.Build(1)
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}

	var buf bytes.Buffer
	NewModelArchitecturePrinter("TestMLP").PrintArchitecture(&buf, builder, model)
	out := buf.String()

	if !strings.Contains(out, "TestMLP(\n  (fc1): Linear(in_features=4, out_features=8, bias=true)") {
		t.Errorf("unexpected architecture output:\n%s", out)
	}
	// 4*8 + 8 + 8*3 + 3
	if !strings.Contains(out, "Total parameters: 67") {
		t.Errorf("expected 67 parameters, got:\n%s", out)
	}
}

func TestFormatParameterCount(t *testing.T) {
	tests := []struct {
		count    int64
		expected string
	}{
		{999, "999"},
		{1500, "1.5K"},
		{2500000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatParameterCount(tt.count); got != tt.expected {
			t.Errorf("formatParameterCount(%d): expected %s, got %s", tt.count, tt.expected, got)
		}
	}
}
