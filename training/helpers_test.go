package training

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

var errBoom = errors.New("boom")

// fakeOptimizer records calls and holds a learning rate.
type fakeOptimizer struct {
	lr     float64
	zeroed int
	steps  int
}

func (o *fakeOptimizer) ZeroGrad()                  { o.zeroed++ }
func (o *fakeOptimizer) Step() error                { o.steps++; return nil }
func (o *fakeOptimizer) LearningRate() float64      { return o.lr }
func (o *fakeOptimizer) SetLearningRate(lr float64) { o.lr = lr }

// fakeModel is an identity module that counts mode switches.
type fakeModel struct {
	training   bool
	trainCalls int
	evalCalls  int
}

func (m *fakeModel) Forward(input *mat.Dense) (*mat.Dense, error) { return input, nil }
func (m *fakeModel) Backward(grad *mat.Dense) (*mat.Dense, error) { return grad, nil }
func (m *fakeModel) Parameters() []*layers.Parameter              { return nil }
func (m *fakeModel) Train()                                       { m.training = true; m.trainCalls++ }
func (m *fakeModel) Eval()                                        { m.training = false; m.evalCalls++ }
func (m *fakeModel) IsTraining() bool                             { return m.training }

// sliceSource replays fixed batches. epoch counts Reset calls and pos is the
// 1-based index of the batch most recently returned.
type sliceSource struct {
	batches  []*Batch
	examples int
	epoch    int
	pos      int
	failAt   int // batch index whose load fails, 0 for never
}

// newSliceSource builds one single-column batch per size, filled with its
// 1-based batch index.
func newSliceSource(sizes ...int) *sliceSource {
	s := &sliceSource{}
	for i, n := range sizes {
		data := make([]float64, n)
		for j := range data {
			data[j] = float64(i + 1)
		}
		s.batches = append(s.batches, &Batch{
			Inputs: mat.NewDense(n, 1, data),
			Labels: mat.NewDense(n, 1, data),
		})
		s.examples += n
	}
	return s
}

func (s *sliceSource) Reset() {
	s.epoch++
	s.pos = 0
}

func (s *sliceSource) Next() (*Batch, error) {
	if s.pos >= len(s.batches) {
		return nil, nil
	}
	s.pos++
	if s.pos == s.failAt {
		return nil, fmt.Errorf("disk on fire")
	}
	return s.batches[s.pos-1], nil
}

func (s *sliceSource) NumExamples() int { return s.examples }
func (s *sliceSource) NumBatches() int  { return len(s.batches) }

// scriptedStep returns loss(epoch, batch) and fails once at (failEpoch, failBatch).
type scriptedStep struct {
	source    *sliceSource
	loss      func(epoch, batch int) float64
	failEpoch int
	failBatch int

	calls     int
	trainMode []bool
}

func (s *scriptedStep) step(model layers.Module, batch *Batch) (float64, error) {
	s.calls++
	s.trainMode = append(s.trainMode, model.IsTraining())
	if s.source.epoch == s.failEpoch && s.source.pos == s.failBatch {
		return 0, errBoom
	}
	if s.loss == nil {
		return 1, nil
	}
	return s.loss(s.source.epoch, s.source.pos), nil
}

// eventLog collects collaborator calls in the order they happen.
type eventLog struct {
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

// recordingEvaluator reports the current epoch, taken from epoch(), as its stats.
type recordingEvaluator struct {
	log    *eventLog
	epoch  func() int
	failAt int
	calls  []int
}

func (e *recordingEvaluator) Evaluate(model layers.Module) (Stats, error) {
	epoch := e.epoch()
	e.calls = append(e.calls, epoch)
	if e.log != nil {
		e.log.add("eval@%d", epoch)
	}
	if epoch == e.failAt {
		return nil, errBoom
	}
	return Stats{"epoch": float64(epoch)}, nil
}

type recordingCheckpointer struct {
	log    *eventLog
	failAt int
	calls  []int
	stats  []Stats
}

func (c *recordingCheckpointer) Save(epoch int, model layers.Module, stats Stats) error {
	c.calls = append(c.calls, epoch)
	c.stats = append(c.stats, stats)
	if c.log != nil {
		c.log.add("ckpt@%d", epoch)
	}
	if epoch == c.failAt {
		return errBoom
	}
	return nil
}

type recordingVisualizer struct {
	log       *eventLog
	err       error
	calls     []int
	snapshots [][]layers.ParameterSnapshot
}

func (v *recordingVisualizer) Visualize(epoch int, snapshot []layers.ParameterSnapshot) error {
	v.calls = append(v.calls, epoch)
	v.snapshots = append(v.snapshots, snapshot)
	if v.log != nil {
		v.log.add("viz@%d", epoch)
	}
	return v.err
}

type countingScheduler struct {
	advances int
	failAt   int
}

func (s *countingScheduler) Advance() error {
	s.advances++
	if s.advances == s.failAt {
		return errBoom
	}
	return nil
}
