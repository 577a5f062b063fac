package training

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch reports a batch whose inputs and labels disagree on size.
	ErrShapeMismatch = errors.New("inputs and labels have different batch sizes")

	// ErrEmptyBatch reports a batch with no examples.
	ErrEmptyBatch = errors.New("batch is empty")

	// ErrEmptyDataset reports a batch source with no examples.
	ErrEmptyDataset = errors.New("batch source has no examples")

	// ErrNonFiniteLoss reports a NaN or infinite batch loss.
	ErrNonFiniteLoss = errors.New("loss is not finite")

	// ErrInvalidConfig reports a Train call rejected before any epoch ran.
	ErrInvalidConfig = errors.New("invalid training configuration")
)

// EpochError wraps a fatal failure with the epoch (1-based) it happened in.
// Batch is the 1-based batch index, or 0 when the failure happened after the
// batch loop (scheduler, evaluator, checkpoint writer).
type EpochError struct {
	Epoch int
	Batch int
	Err   error
}

func (e *EpochError) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("epoch %d, batch %d: %v", e.Epoch, e.Batch, e.Err)
	}
	return fmt.Sprintf("epoch %d: %v", e.Epoch, e.Err)
}

func (e *EpochError) Unwrap() error {
	return e.Err
}

// batchError carries the failing batch index from RunEpoch up to the engine.
type batchError struct {
	batch int
	err   error
}

func (e *batchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.batch, e.err)
}

func (e *batchError) Unwrap() error {
	return e.err
}
