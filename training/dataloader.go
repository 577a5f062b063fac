package training

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                       // Total number of samples
	Get(idx int) (data, label []float64, err error) // Returns a single sample
	Dims() (features, labelWidth int)               // Width of a sample and of its label
}

// DataLoader provides batching and shuffling over a Dataset. It implements BatchSource.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. With shuffle set, every Reset
// permutes the sample order using a generator seeded with seed, so two loaders
// with the same seed yield the same batch sequence.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset cannot be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// NumBatches returns the number of batches in an epoch
func (dl *DataLoader) NumBatches() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// NumExamples returns the number of samples in an epoch
func (dl *DataLoader) NumExamples() int {
	return dl.dataset.Len()
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete. The final batch
// holds the remainder when the dataset size is not a multiple of the batch size.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	return batch, nil
}

// loadBatch copies the selected samples into fresh batch matrices
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	features, labelWidth := dl.dataset.Dims()
	inputs := mat.NewDense(len(indices), features, nil)
	labels := mat.NewDense(len(indices), labelWidth, nil)

	for i, idx := range indices {
		data, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if len(data) != features || len(label) != labelWidth {
			return nil, fmt.Errorf("sample %d has shape (%d, %d), expected (%d, %d)",
				idx, len(data), len(label), features, labelWidth)
		}
		inputs.SetRow(i, data)
		labels.SetRow(i, label)
	}

	return &Batch{Inputs: inputs, Labels: labels}, nil
}

// InMemoryDataset serves rows of two matrices as samples.
type InMemoryDataset struct {
	data   *mat.Dense
	labels *mat.Dense
}

// NewInMemoryDataset creates a dataset where row i of labels belongs to row i of data.
func NewInMemoryDataset(data, labels *mat.Dense) (*InMemoryDataset, error) {
	if data == nil || labels == nil {
		return nil, fmt.Errorf("data and labels cannot be nil")
	}
	dr, _ := data.Dims()
	lr, _ := labels.Dims()
	if dr != lr {
		return nil, fmt.Errorf("data and labels must have the same length: got %d and %d", dr, lr)
	}

	return &InMemoryDataset{
		data:   data,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *InMemoryDataset) Len() int {
	r, _ := ds.data.Dims()
	return r
}

// Dims returns the feature count and the label width.
func (ds *InMemoryDataset) Dims() (int, int) {
	_, features := ds.data.Dims()
	_, labelWidth := ds.labels.Dims()
	return features, labelWidth
}

// Get returns a copy of the sample at the given index
func (ds *InMemoryDataset) Get(idx int) ([]float64, []float64, error) {
	if idx < 0 || idx >= ds.Len() {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, ds.Len())
	}

	return mat.Row(nil, idx, ds.data), mat.Row(nil, idx, ds.labels), nil
}
