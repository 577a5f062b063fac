package training

import (
	"github.com/tsawler/go-trainloop/layers"
	"gonum.org/v1/gonum/mat"
)

// Batch is one chunk of paired inputs and labels. Row i of Labels is the
// target for row i of Inputs.
type Batch struct {
	Inputs *mat.Dense
	Labels *mat.Dense
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	if b.Inputs == nil {
		return 0
	}
	r, _ := b.Inputs.Dims()
	return r
}

// BatchSource produces a finite sequence of batches per epoch.
// Reset restarts the sequence; Next returns (nil, nil) once it is exhausted.
type BatchSource interface {
	Reset()
	Next() (*Batch, error)
	NumExamples() int
}

// batchCounter is implemented by sources that know their batch count up front.
type batchCounter interface {
	NumBatches() int
}

// Criterion is a differentiable loss function.
type Criterion interface {
	Forward(predicted, target *mat.Dense) (float64, error)
	Backward(predicted, target *mat.Dense) (*mat.Dense, error)
}

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	ZeroGrad()                  // Resets gradients to zero for all parameters
	Step() error                // Updates model parameters based on gradients
	LearningRate() float64      // Gets current learning rate
	SetLearningRate(lr float64) // Sets learning rate
}

// Scheduler advances a learning-rate schedule by one epoch.
type Scheduler interface {
	Advance() error
}

// Stats is an evaluation result. The engine never inspects it.
type Stats map[string]float64

// Evaluator scores the current model, typically on held-out data.
type Evaluator interface {
	Evaluate(model layers.Module) (Stats, error)
}

// Checkpointer persists the model. stats is nil when no evaluation ran in the
// same epoch.
type Checkpointer interface {
	Save(epoch int, model layers.Module, stats Stats) error
}

// ProgressSink receives informational progress. It must not influence training.
// batches is 0 when the source does not know its batch count.
type ProgressSink interface {
	StartEpoch(epoch, totalEpochs, batches int)
	UpdateBatch(batch int, runningLoss float64)
	FinishEpoch(epoch int, loss float64)
}

// Visualizer renders read-only parameter snapshots for humans.
type Visualizer interface {
	Visualize(epoch int, snapshot []layers.ParameterSnapshot) error
}
