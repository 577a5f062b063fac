// Package datasets generates small synthetic datasets for exercising the
// training loop without external data.
package datasets

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-trainloop/training"
	"gonum.org/v1/gonum/mat"
)

// BlobsConfig describes isotropic Gaussian clusters, one per class.
type BlobsConfig struct {
	Samples  int     // Total number of samples, spread evenly over the classes
	Features int     // Dimensionality of each sample
	Classes  int     // Number of clusters
	Spread   float64 // Standard deviation of every cluster
	Box      float64 // Centers are drawn uniformly from [-Box, Box] per feature
	Seed     int64
}

// DefaultBlobsConfig returns three well separated 2-D clusters.
func DefaultBlobsConfig() BlobsConfig {
	return BlobsConfig{
		Samples:  300,
		Features: 2,
		Classes:  3,
		Spread:   1.0,
		Box:      10.0,
		Seed:     42,
	}
}

func (c BlobsConfig) validate() error {
	if c.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", c.Samples)
	}
	if c.Features <= 0 {
		return fmt.Errorf("features must be positive, got %d", c.Features)
	}
	if c.Classes <= 0 {
		return fmt.Errorf("classes must be positive, got %d", c.Classes)
	}
	if c.Samples < c.Classes {
		return fmt.Errorf("need at least one sample per class: %d samples for %d classes", c.Samples, c.Classes)
	}
	if c.Spread < 0 {
		return fmt.Errorf("spread cannot be negative, got %v", c.Spread)
	}
	if c.Box <= 0 {
		return fmt.Errorf("box must be positive, got %v", c.Box)
	}
	return nil
}

// Blobs draws a classification dataset. Sample i belongs to class i mod
// Classes, so the classes differ in size by at most one. Labels are class
// indices in a single column, as CrossEntropyLoss expects. The same config
// always yields the same dataset.
func Blobs(config BlobsConfig) (*training.InMemoryDataset, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid blobs config: %w", err)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	centers := mat.NewDense(config.Classes, config.Features, nil)
	for k := 0; k < config.Classes; k++ {
		for j := 0; j < config.Features; j++ {
			centers.Set(k, j, (rng.Float64()*2-1)*config.Box)
		}
	}

	data := mat.NewDense(config.Samples, config.Features, nil)
	classes := make([]int, config.Samples)
	for i := 0; i < config.Samples; i++ {
		k := i % config.Classes
		classes[i] = k
		for j := 0; j < config.Features; j++ {
			data.Set(i, j, centers.At(k, j)+rng.NormFloat64()*config.Spread)
		}
	}

	labels, err := training.NewClassLabels(classes)
	if err != nil {
		return nil, err
	}
	return training.NewInMemoryDataset(data, labels)
}

// LinearConfig describes a noisy linear regression problem y = x·w + b + ε.
type LinearConfig struct {
	Samples  int
	Features int
	Noise    float64 // Standard deviation of ε
	Seed     int64
}

// Linear draws inputs uniformly from [-1, 1] and single-column targets from
// a randomly drawn weight vector and bias. It returns the dataset together
// with the true weights, followed by the bias.
func Linear(config LinearConfig) (*training.InMemoryDataset, []float64, error) {
	if config.Samples <= 0 || config.Features <= 0 {
		return nil, nil, fmt.Errorf("invalid linear config: samples and features must be positive, got %d and %d", config.Samples, config.Features)
	}
	if config.Noise < 0 {
		return nil, nil, fmt.Errorf("invalid linear config: noise cannot be negative, got %v", config.Noise)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	coef := make([]float64, config.Features+1)
	for j := range coef {
		coef[j] = rng.Float64()*4 - 2
	}

	data := mat.NewDense(config.Samples, config.Features, nil)
	targets := make([]float64, config.Samples)
	for i := 0; i < config.Samples; i++ {
		y := coef[config.Features]
		for j := 0; j < config.Features; j++ {
			x := rng.Float64()*2 - 1
			data.Set(i, j, x)
			y += x * coef[j]
		}
		targets[i] = y + rng.NormFloat64()*config.Noise
	}

	labels, err := training.NewRegressionTargets(targets, 1)
	if err != nil {
		return nil, nil, err
	}
	ds, err := training.NewInMemoryDataset(data, labels)
	if err != nil {
		return nil, nil, err
	}
	return ds, coef, nil
}
