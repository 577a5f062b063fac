package training

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// runningLossSink records the running loss of every batch.
type runningLossSink struct {
	nopProgress
	losses []float64
}

func (s *runningLossSink) UpdateBatch(batch int, runningLoss float64) {
	s.losses = append(s.losses, runningLoss)
}

func TestRunEpochWeightsBySize(t *testing.T) {
	source := newSliceSource(3, 1, 2)
	sink := &runningLossSink{}
	losses := map[int]float64{1: 2, 2: 6, 3: 0.5}
	driver := &EpochDriver{
		Step: func(_ layers.Module, b *Batch) (float64, error) {
			return losses[int(b.Inputs.At(0, 0))], nil
		},
		Progress: sink,
	}

	loss, err := driver.RunEpoch(&fakeModel{}, source)
	if err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}

	// (3×2 + 1×6 + 2×0.5) / 6
	if math.Abs(loss-13.0/6.0) > 1e-12 {
		t.Errorf("expected %f, got %f", 13.0/6.0, loss)
	}
	expected := []float64{2, 3, 13.0 / 6.0}
	if diff := cmp.Diff(expected, sink.losses, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("running loss mismatch (-want +got):\n%s", diff)
	}
	if source.epoch != 1 {
		t.Errorf("expected one Reset, got %d", source.epoch)
	}
}

func TestRunEpochErrors(t *testing.T) {
	t.Run("empty source", func(t *testing.T) {
		driver := &EpochDriver{Step: (&scriptedStep{source: newSliceSource()}).step}
		if _, err := driver.RunEpoch(&fakeModel{}, newSliceSource()); !errors.Is(err, ErrEmptyDataset) {
			t.Errorf("expected ErrEmptyDataset, got %v", err)
		}
	})

	t.Run("step failure", func(t *testing.T) {
		source := newSliceSource(1, 1)
		step := &scriptedStep{source: source, failEpoch: 1, failBatch: 2}
		driver := &EpochDriver{Step: step.step}

		_, err := driver.RunEpoch(&fakeModel{}, source)
		var be *batchError
		if !errors.As(err, &be) || be.batch != 2 {
			t.Fatalf("expected batchError for batch 2, got %v", err)
		}
		if !errors.Is(err, errBoom) {
			t.Errorf("expected wrapped step error, got %v", err)
		}
	})

	t.Run("infinite loss", func(t *testing.T) {
		source := newSliceSource(1)
		step := &scriptedStep{source: source, loss: func(int, int) float64 { return math.Inf(1) }}
		driver := &EpochDriver{Step: step.step}
		if _, err := driver.RunEpoch(&fakeModel{}, source); !errors.Is(err, ErrNonFiniteLoss) {
			t.Errorf("expected ErrNonFiniteLoss, got %v", err)
		}
	})
}

func TestParseNonFinitePolicy(t *testing.T) {
	tests := []struct {
		in       string
		expected NonFinitePolicy
		wantErr  bool
	}{
		{"", NonFiniteAbort, false},
		{"abort", NonFiniteAbort, false},
		{"ignore", NonFiniteIgnore, false},
		{"skip", NonFiniteAbort, true},
	}
	for _, tt := range tests {
		got, err := ParseNonFinitePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error state: %v", tt.in, err)
		}
		if got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.in, tt.expected, got)
		}
	}
}

func TestEpochErrorMessage(t *testing.T) {
	withBatch := &EpochError{Epoch: 3, Batch: 7, Err: errBoom}
	if withBatch.Error() != "epoch 3, batch 7: boom" {
		t.Errorf("unexpected message %q", withBatch.Error())
	}
	afterLoop := &EpochError{Epoch: 3, Err: errBoom}
	if afterLoop.Error() != "epoch 3: boom" {
		t.Errorf("unexpected message %q", afterLoop.Error())
	}
}

func TestLossHistoryAccessors(t *testing.T) {
	var h LossHistory
	if _, ok := h.Last(); ok {
		t.Error("expected no last value on empty history")
	}
	if _, _, ok := h.Best(); ok {
		t.Error("expected no best value on empty history")
	}

	for _, l := range []float64{0.9, 0.4, 0.6} {
		h.append(l)
	}
	if last, _ := h.Last(); last != 0.6 {
		t.Errorf("expected last 0.6, got %f", last)
	}
	if best, at, _ := h.Best(); best != 0.4 || at != 2 {
		t.Errorf("expected best 0.4 at 2, got %f at %d", best, at)
	}

	var withNaN LossHistory
	for _, l := range []float64{math.NaN(), 0.7, math.NaN(), 0.3} {
		withNaN.append(l)
	}
	if best, at, ok := withNaN.Best(); !ok || best != 0.3 || at != 4 {
		t.Errorf("expected best 0.3 at 4 skipping NaN, got %f at %d (ok=%t)", best, at, ok)
	}
	var onlyNaN LossHistory
	onlyNaN.append(math.NaN())
	if _, _, ok := onlyNaN.Best(); ok {
		t.Error("expected no best value when every loss is NaN")
	}

	values := h.Values()
	values[0] = 100
	if h.Values()[0] != 0.9 {
		t.Error("Values must return a copy")
	}
}

func TestBatchSize(t *testing.T) {
	if (&Batch{}).Size() != 0 {
		t.Error("expected empty batch size 0")
	}
	b := &Batch{Inputs: mat.NewDense(4, 2, nil)}
	if b.Size() != 4 {
		t.Errorf("expected 4, got %d", b.Size())
	}
}
