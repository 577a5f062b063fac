package training

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tsawler/go-trainloop/layers"
	"github.com/tsawler/go-trainloop/optimizer"
	"gonum.org/v1/gonum/mat"
)

// newScriptedEngine builds an engine around a scriptedStep over source.
func newScriptedEngine(t *testing.T, source *sliceSource, opts ...EngineOption) (*SupervisedEngine, *scriptedStep) {
	t.Helper()
	step := &scriptedStep{source: source}
	engine, err := NewSupervisedEngine(nil, nil, append([]EngineOption{WithStep(step.step)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine, step
}

func TestNewSupervisedEngineRequiresCollaborators(t *testing.T) {
	if _, err := NewSupervisedEngine(nil, &fakeOptimizer{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for missing criterion, got %v", err)
	}
	if _, err := NewSupervisedEngine(NewMSELoss("mean"), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for missing optimizer, got %v", err)
	}
	if _, err := NewSupervisedEngine(NewMSELoss("mean"), &fakeOptimizer{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTrainCadence(t *testing.T) {
	source := newSliceSource(2, 2)
	log := &eventLog{}
	evaluator := &recordingEvaluator{log: log}
	checkpointer := &recordingCheckpointer{log: log}
	visualizer := &recordingVisualizer{log: log}

	engine, _ := newScriptedEngine(t, source,
		WithEvaluator(evaluator),
		WithCheckpointer(checkpointer),
		WithVisualizer(visualizer))
	evaluator.epoch = engine.History().Len

	_, err := engine.Train(&fakeModel{}, source, 6,
		WithEvalEvery(2),
		WithCheckpointEvery(3),
		WithVisualizeEvery(6))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	expected := []string{"eval@2", "ckpt@3", "eval@4", "eval@6", "ckpt@6", "viz@6"}
	if diff := cmp.Diff(expected, log.events); diff != "" {
		t.Errorf("cadence events mismatch (-want +got):\n%s", diff)
	}

	// The epoch-3 checkpoint had no evaluation; the epoch-6 one carries epoch 6's stats.
	if checkpointer.stats[0] != nil {
		t.Errorf("expected nil stats for epoch 3 checkpoint, got %v", checkpointer.stats[0])
	}
	if diff := cmp.Diff(Stats{"epoch": 6}, checkpointer.stats[1]); diff != "" {
		t.Errorf("epoch 6 checkpoint stats mismatch (-want +got):\n%s", diff)
	}
}

func TestTrainWithoutCadenceCallsNothing(t *testing.T) {
	source := newSliceSource(3)
	evaluator := &recordingEvaluator{epoch: func() int { return 0 }}
	checkpointer := &recordingCheckpointer{}

	engine, step := newScriptedEngine(t, source, WithEvaluator(evaluator), WithCheckpointer(checkpointer))
	if _, err := engine.Train(&fakeModel{}, source, 4); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(evaluator.calls) != 0 || len(checkpointer.calls) != 0 {
		t.Errorf("expected no collaborator calls, got %d evaluations and %d checkpoints",
			len(evaluator.calls), len(checkpointer.calls))
	}
	if step.calls != 4 {
		t.Errorf("expected 4 steps, got %d", step.calls)
	}
}

func TestLossHistoryIsCumulative(t *testing.T) {
	source := newSliceSource(1, 1)
	engine, step := newScriptedEngine(t, source)
	step.loss = func(epoch, batch int) float64 { return float64(epoch) }

	model := &fakeModel{}
	if _, err := engine.Train(model, source, 2); err != nil {
		t.Fatalf("first Train failed: %v", err)
	}
	if got := engine.LossHistory(); len(got) != 2 {
		t.Fatalf("expected 2 entries after first call, got %d", len(got))
	}
	if _, err := engine.Train(model, source, 3); err != nil {
		t.Fatalf("second Train failed: %v", err)
	}

	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5}, engine.LossHistory()); diff != "" {
		t.Errorf("loss history mismatch (-want +got):\n%s", diff)
	}

	best, at, ok := engine.History().Best()
	if !ok || best != 1 || at != 1 {
		t.Errorf("expected best loss 1 at epoch 1, got %f at %d (ok=%t)", best, at, ok)
	}
}

func TestEpochLossIsSizeWeighted(t *testing.T) {
	source := newSliceSource(4, 1)
	engine, step := newScriptedEngine(t, source)
	step.loss = func(epoch, batch int) float64 {
		if batch == 1 {
			return 1
		}
		return 6
	}

	if _, err := engine.Train(&fakeModel{}, source, 1); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// (4×1 + 1×6) / 5, not the unweighted (1+6)/2.
	if got := engine.LossHistory()[0]; math.Abs(got-2.0) > 1e-12 {
		t.Errorf("expected epoch loss 2.0, got %f", got)
	}
}

func TestStepFailureStopsTraining(t *testing.T) {
	source := newSliceSource(1, 1, 1)
	evaluator := &recordingEvaluator{}
	checkpointer := &recordingCheckpointer{}

	engine, step := newScriptedEngine(t, source, WithEvaluator(evaluator), WithCheckpointer(checkpointer))
	evaluator.epoch = engine.History().Len
	step.failEpoch, step.failBatch = 3, 2

	model := &fakeModel{}
	got, err := engine.Train(model, source, 5, WithEvalEvery(1), WithCheckpointEvery(1))
	if err == nil {
		t.Fatal("expected error")
	}
	if got != layers.Module(model) {
		t.Error("expected Train to return the model it was given")
	}

	var epochErr *EpochError
	if !errors.As(err, &epochErr) {
		t.Fatalf("expected *EpochError, got %T", err)
	}
	if epochErr.Epoch != 3 || epochErr.Batch != 2 {
		t.Errorf("expected failure at epoch 3 batch 2, got epoch %d batch %d", epochErr.Epoch, epochErr.Batch)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected step error to be wrapped, got %v", err)
	}

	if n := len(engine.LossHistory()); n != 2 {
		t.Errorf("expected 2 history entries, got %d", n)
	}
	if diff := cmp.Diff([]int{1, 2}, evaluator.calls); diff != "" {
		t.Errorf("evaluator calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, checkpointer.calls); diff != "" {
		t.Errorf("checkpointer calls mismatch (-want +got):\n%s", diff)
	}
	// Two full epochs plus the two batches of epoch 3 that ran.
	if step.calls != 8 {
		t.Errorf("expected 8 step calls, got %d", step.calls)
	}
}

func TestBatchLoadFailureReportsBatch(t *testing.T) {
	source := newSliceSource(1, 1)
	source.failAt = 2
	engine, _ := newScriptedEngine(t, source)

	_, err := engine.Train(&fakeModel{}, source, 1)
	var epochErr *EpochError
	if !errors.As(err, &epochErr) {
		t.Fatalf("expected *EpochError, got %v", err)
	}
	if epochErr.Epoch != 1 || epochErr.Batch != 2 {
		t.Errorf("expected failure at epoch 1 batch 2, got epoch %d batch %d", epochErr.Epoch, epochErr.Batch)
	}
}

func TestTrainSetsTrainingMode(t *testing.T) {
	source := newSliceSource(2, 2)
	engine, step := newScriptedEngine(t, source)

	model := &fakeModel{}
	model.Eval()

	if _, err := engine.Train(model, source, 2); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for i, training := range step.trainMode {
		if !training {
			t.Errorf("step %d ran in eval mode", i+1)
		}
	}
	if !model.IsTraining() {
		t.Error("expected model to be left in training mode")
	}
	if model.trainCalls != 1 {
		t.Errorf("expected exactly one Train call, got %d", model.trainCalls)
	}
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		model    layers.Module
		nilSrc   bool
		epochs   int
		opts     []TrainOption
		withEval bool
	}{
		{name: "zero epochs", model: &fakeModel{}, epochs: 0},
		{name: "negative epochs", model: &fakeModel{}, epochs: -2},
		{name: "zero eval interval", model: &fakeModel{}, epochs: 1, opts: []TrainOption{WithEvalEvery(0)}, withEval: true},
		{name: "negative checkpoint interval", model: &fakeModel{}, epochs: 1, opts: []TrainOption{WithCheckpointEvery(-1)}, withEval: true},
		{name: "eval interval without evaluator", model: &fakeModel{}, epochs: 1, opts: []TrainOption{WithEvalEvery(1)}},
		{name: "visualize interval without visualizer", model: &fakeModel{}, epochs: 1, opts: []TrainOption{WithVisualizeEvery(2)}},
		{name: "nil model", epochs: 1},
		{name: "nil source", model: &fakeModel{}, nilSrc: true, epochs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newSliceSource(1)
			var opts []EngineOption
			if tt.withEval {
				opts = append(opts, WithEvaluator(&recordingEvaluator{epoch: func() int { return 0 }}))
			}
			engine, step := newScriptedEngine(t, source, opts...)

			var src BatchSource = source
			if tt.nilSrc {
				src = nil
			}
			_, err := engine.Train(tt.model, src, tt.epochs, tt.opts...)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var epochErr *EpochError
			if errors.As(err, &epochErr) {
				t.Errorf("expected a config error outside any epoch, got %v", err)
			}
			if step.calls != 0 {
				t.Errorf("expected no steps, got %d", step.calls)
			}
			if engine.History().Len() != 0 {
				t.Errorf("expected empty history, got %d entries", engine.History().Len())
			}
			if m, ok := tt.model.(*fakeModel); ok && m.trainCalls != 0 {
				t.Error("expected model mode to be untouched")
			}
		})
	}
}

func TestSchedulerAdvancesOncePerEpoch(t *testing.T) {
	source := newSliceSource(1, 1)
	sched := &countingScheduler{}
	engine, _ := newScriptedEngine(t, source, WithScheduler(sched))

	if _, err := engine.Train(&fakeModel{}, source, 3); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if sched.advances != 3 {
		t.Errorf("expected 3 advances, got %d", sched.advances)
	}
}

func TestSchedulerFailureIsFatal(t *testing.T) {
	source := newSliceSource(1)
	sched := &countingScheduler{failAt: 2}
	engine, _ := newScriptedEngine(t, source, WithScheduler(sched))

	_, err := engine.Train(&fakeModel{}, source, 4)
	var epochErr *EpochError
	if !errors.As(err, &epochErr) {
		t.Fatalf("expected *EpochError, got %v", err)
	}
	if epochErr.Epoch != 2 || epochErr.Batch != 0 {
		t.Errorf("expected failure at epoch 2 after the batch loop, got epoch %d batch %d", epochErr.Epoch, epochErr.Batch)
	}
	if n := engine.History().Len(); n != 1 {
		t.Errorf("expected 1 history entry, got %d", n)
	}
}

func TestEvaluatorFailureIsFatal(t *testing.T) {
	source := newSliceSource(1)
	evaluator := &recordingEvaluator{failAt: 2}
	checkpointer := &recordingCheckpointer{}
	engine, _ := newScriptedEngine(t, source, WithEvaluator(evaluator), WithCheckpointer(checkpointer))
	evaluator.epoch = engine.History().Len

	_, err := engine.Train(&fakeModel{}, source, 4, WithEvalEvery(1), WithCheckpointEvery(1))
	var epochErr *EpochError
	if !errors.As(err, &epochErr) {
		t.Fatalf("expected *EpochError, got %v", err)
	}
	if epochErr.Epoch != 2 {
		t.Errorf("expected failure at epoch 2, got %d", epochErr.Epoch)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected evaluator error to be wrapped, got %v", err)
	}
	// The epoch itself completed, so it is recorded; its checkpoint is not written.
	if n := engine.History().Len(); n != 2 {
		t.Errorf("expected 2 history entries, got %d", n)
	}
	if diff := cmp.Diff([]int{1}, checkpointer.calls); diff != "" {
		t.Errorf("checkpointer calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckpointFailureIsFatal(t *testing.T) {
	source := newSliceSource(1)
	checkpointer := &recordingCheckpointer{failAt: 1}
	engine, step := newScriptedEngine(t, source, WithCheckpointer(checkpointer))

	_, err := engine.Train(&fakeModel{}, source, 3, WithCheckpointEvery(1))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
	if step.calls != 1 {
		t.Errorf("expected training to stop after epoch 1, got %d steps", step.calls)
	}
}

func TestVisualizationFailureIsNotFatal(t *testing.T) {
	source := newSliceSource(1)
	visualizer := &recordingVisualizer{err: errBoom}
	engine, _ := newScriptedEngine(t, source, WithVisualizer(visualizer))

	if _, err := engine.Train(&fakeModel{}, source, 3, WithVisualizeEvery(1)); err != nil {
		t.Fatalf("expected visualization errors to be ignored, got %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, visualizer.calls); diff != "" {
		t.Errorf("visualizer calls mismatch (-want +got):\n%s", diff)
	}
}

func TestNonFiniteLoss(t *testing.T) {
	nan := func(epoch, batch int) float64 { return math.NaN() }

	t.Run("abort", func(t *testing.T) {
		source := newSliceSource(1)
		engine, step := newScriptedEngine(t, source)
		step.loss = nan

		_, err := engine.Train(&fakeModel{}, source, 2)
		if !errors.Is(err, ErrNonFiniteLoss) {
			t.Fatalf("expected ErrNonFiniteLoss, got %v", err)
		}
		var epochErr *EpochError
		if !errors.As(err, &epochErr) || epochErr.Epoch != 1 || epochErr.Batch != 1 {
			t.Errorf("expected failure at epoch 1 batch 1, got %v", err)
		}
		if engine.History().Len() != 0 {
			t.Error("expected empty history")
		}
	})

	t.Run("ignore", func(t *testing.T) {
		source := newSliceSource(1)
		engine, step := newScriptedEngine(t, source, WithNonFinitePolicy(NonFiniteIgnore))
		step.loss = nan

		if _, err := engine.Train(&fakeModel{}, source, 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		history := engine.LossHistory()
		if len(history) != 2 || !math.IsNaN(history[0]) {
			t.Errorf("expected two NaN entries, got %v", history)
		}
	})
}

func TestTrainEmptySource(t *testing.T) {
	source := newSliceSource()
	engine, _ := newScriptedEngine(t, source)

	_, err := engine.Train(&fakeModel{}, source, 1)
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
	var epochErr *EpochError
	if !errors.As(err, &epochErr) || epochErr.Epoch != 1 {
		t.Errorf("expected failure at epoch 1, got %v", err)
	}
}

func TestTrainReportsProgressAndLogs(t *testing.T) {
	source := newSliceSource(1, 1)
	sink := &recordingSink{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	engine, _ := newScriptedEngine(t, source, WithProgress(sink), WithLogger(logger))
	if _, err := engine.Train(&fakeModel{}, source, 2); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	expected := "start,batch,batch,finish,start,batch,batch,finish"
	if got := strings.Join(sink.events, ","); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
	if n := strings.Count(buf.String(), "epoch complete"); n != 2 {
		t.Errorf("expected 2 epoch log lines, got %d:\n%s", n, buf.String())
	}
}

// linearData returns inputs x and targets y = 2*x0 - x1 + 0.5.
func linearData(n int) (*mat.Dense, *mat.Dense) {
	x := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		a := float64(i%5)/5 - 0.4
		b := float64(i%3)/3 - 0.3
		x.SetRow(i, []float64{a, b})
		y.Set(i, 0, 2*a-b+0.5)
	}
	return x, y
}

func trainLinear(t *testing.T, epochs int) []float64 {
	t.Helper()
	x, y := linearData(30)
	ds, err := NewInMemoryDataset(x, y)
	if err != nil {
		t.Fatal(err)
	}
	loader, err := NewDataLoader(ds, 8, true, 3)
	if err != nil {
		t.Fatal(err)
	}
	model, err := layers.NewModelBuilder(2).AddDense(1, true, "fc").Build(7)
	if err != nil {
		t.Fatal(err)
	}
	cfg := optimizer.DefaultSGDConfig()
	cfg.LearningRate = 0.1
	opt, err := optimizer.NewSGD(model.Parameters(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewSupervisedEngine(NewMSELoss("mean"), opt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Train(model, loader, epochs); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return engine.LossHistory()
}

func TestTrainingIsDeterministicAndLearns(t *testing.T) {
	first := trainLinear(t, 40)
	second := trainLinear(t, 40)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical seeds produced different histories (-first +second):\n%s", diff)
	}
	if last := first[len(first)-1]; last >= first[0]/10 {
		t.Errorf("expected loss to drop by at least 10x, went from %f to %f", first[0], last)
	}
}
