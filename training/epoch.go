package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-trainloop/layers"
)

// NonFinitePolicy decides what happens when a batch loss is NaN or infinite.
type NonFinitePolicy int

const (
	// NonFiniteAbort fails the epoch with ErrNonFiniteLoss.
	NonFiniteAbort NonFinitePolicy = iota
	// NonFiniteIgnore keeps training and lets the value flow into the epoch average.
	NonFiniteIgnore
)

func (p NonFinitePolicy) String() string {
	switch p {
	case NonFiniteAbort:
		return "abort"
	case NonFiniteIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// ParseNonFinitePolicy maps "abort" and "ignore" to policies.
func ParseNonFinitePolicy(s string) (NonFinitePolicy, error) {
	switch s {
	case "", "abort":
		return NonFiniteAbort, nil
	case "ignore":
		return NonFiniteIgnore, nil
	default:
		return NonFiniteAbort, fmt.Errorf("unknown non-finite loss policy %q", s)
	}
}

// EpochDriver runs one full pass over a batch source.
type EpochDriver struct {
	Step      StepFunc
	Progress  ProgressSink
	NonFinite NonFinitePolicy
}

// RunEpoch iterates source once, in source order, and returns the size-weighted
// mean loss: Σ(loss × batch size) / source.NumExamples().
func (d *EpochDriver) RunEpoch(model layers.Module, source BatchSource) (float64, error) {
	total := source.NumExamples()
	if total <= 0 {
		return 0, ErrEmptyDataset
	}

	progress := d.Progress
	if progress == nil {
		progress = nopProgress{}
	}

	source.Reset()

	var runningLoss float64
	var seen int
	for batchIdx := 1; ; batchIdx++ {
		batch, err := source.Next()
		if err != nil {
			return 0, &batchError{batch: batchIdx, err: fmt.Errorf("failed to load batch: %w", err)}
		}
		if batch == nil {
			break
		}

		loss, err := d.Step(model, batch)
		if err != nil {
			return 0, &batchError{batch: batchIdx, err: err}
		}
		if d.NonFinite == NonFiniteAbort && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
			return 0, &batchError{batch: batchIdx, err: fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)}
		}

		size := batch.Size()
		runningLoss += loss * float64(size)
		seen += size

		progress.UpdateBatch(batchIdx, runningLoss/float64(seen))
	}

	return runningLoss / float64(total), nil
}

type nopProgress struct{}

func (nopProgress) StartEpoch(int, int, int) {}
func (nopProgress) UpdateBatch(int, float64) {}
func (nopProgress) FinishEpoch(int, float64) {}
