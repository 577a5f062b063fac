package training

import (
	"fmt"
	"math/rand"
)

// SubsetDataset exposes a selection of samples from an underlying dataset.
type SubsetDataset struct {
	originalDataset Dataset
	indices         []int
}

// NewSubsetDataset creates a new SubsetDataset that wraps an existing dataset
// and limits the number of samples it exposes to the first limit.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len() // Adjust limit if it's greater than the original dataset's length
	}
	indices := make([]int, limit)
	for i := range indices {
		indices[i] = i
	}
	return &SubsetDataset{
		originalDataset: original,
		indices:         indices,
	}, nil
}

// NewIndexedSubset exposes exactly the given indices of original, in order.
func NewIndexedSubset(original Dataset, indices []int) (*SubsetDataset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= original.Len() {
			return nil, fmt.Errorf("index %d out of range [0, %d)", idx, original.Len())
		}
	}
	return &SubsetDataset{
		originalDataset: original,
		indices:         append([]int(nil), indices...),
	}, nil
}

// SplitDataset shuffles the indices of ds with seed and splits them into a
// training subset and a validation subset holding validationFraction of the samples.
func SplitDataset(ds Dataset, validationFraction float64, seed int64) (train, validation *SubsetDataset, err error) {
	if validationFraction <= 0 || validationFraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction must be in (0, 1), got %v", validationFraction)
	}

	n := ds.Len()
	nVal := int(float64(n) * validationFraction)
	if nVal == 0 || nVal == n {
		return nil, nil, fmt.Errorf("cannot split %d samples with validation fraction %v", n, validationFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	validation, err = NewIndexedSubset(ds, perm[:nVal])
	if err != nil {
		return nil, nil, err
	}
	train, err = NewIndexedSubset(ds, perm[nVal:])
	if err != nil {
		return nil, nil, err
	}
	return train, validation, nil
}

// Len returns the number of samples in the subset.
func (sd *SubsetDataset) Len() int {
	return len(sd.indices)
}

// Dims forwards to the underlying dataset.
func (sd *SubsetDataset) Dims() (int, int) {
	return sd.originalDataset.Dims()
}

// Get returns the idx-th sample of the subset.
func (sd *SubsetDataset) Get(idx int) ([]float64, []float64, error) {
	if idx < 0 || idx >= len(sd.indices) {
		return nil, nil, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, len(sd.indices))
	}
	return sd.originalDataset.Get(sd.indices[idx])
}
