package training

import (
	"context"
	"fmt"
	"sync"
)

type prefetched struct {
	batch *Batch
	err   error
}

// PrefetchLoader wraps a BatchSource and loads up to depth batches ahead in a
// background goroutine while the current batch is being trained on. Batches
// come out in exactly the order the wrapped source produces them.
//
// The wrapped source must hand out independent batches, as DataLoader does.
// Like the engine, a PrefetchLoader is not safe for concurrent use.
type PrefetchLoader struct {
	source BatchSource
	depth  int

	batches chan prefetched
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mutex      sync.Mutex
	produced   uint64
	generation uint64
}

// NewPrefetchLoader wraps source. depth is how many batches may wait in the queue.
func NewPrefetchLoader(source BatchSource, depth int) (*PrefetchLoader, error) {
	if source == nil {
		return nil, fmt.Errorf("batch source cannot be nil")
	}
	if depth <= 0 {
		return nil, fmt.Errorf("prefetch depth must be positive, got %d", depth)
	}
	return &PrefetchLoader{source: source, depth: depth}, nil
}

// Reset stops the previous epoch's worker, resets the wrapped source and
// starts loading the new epoch.
func (pl *PrefetchLoader) Reset() {
	pl.Stop()
	pl.source.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan prefetched, pl.depth)
	pl.cancel = cancel

	pl.mutex.Lock()
	pl.batches = batches
	pl.generation++
	pl.mutex.Unlock()

	pl.wg.Add(1)
	go pl.worker(ctx, batches)
}

// worker forwards batches until the source is exhausted, fails, or the epoch
// is abandoned.
func (pl *PrefetchLoader) worker(ctx context.Context, out chan<- prefetched) {
	defer pl.wg.Done()
	defer close(out)

	for {
		batch, err := pl.source.Next()
		select {
		case out <- prefetched{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if batch == nil || err != nil {
			return
		}
		pl.mutex.Lock()
		pl.produced++
		pl.mutex.Unlock()
	}
}

// Next returns the next batch, blocking until the worker has loaded it.
func (pl *PrefetchLoader) Next() (*Batch, error) {
	if pl.batches == nil {
		return nil, fmt.Errorf("prefetch loader used before Reset")
	}
	item, ok := <-pl.batches
	if !ok {
		return nil, nil
	}
	return item.batch, item.err
}

// Stop abandons the current epoch and waits for the worker to exit. Queued
// batches are dropped.
func (pl *PrefetchLoader) Stop() {
	if pl.cancel == nil {
		return
	}
	pl.cancel()
	pl.wg.Wait()
	pl.cancel = nil
}

func (pl *PrefetchLoader) NumExamples() int {
	return pl.source.NumExamples()
}

// NumBatches forwards to the wrapped source, or returns 0 when it does not know.
func (pl *PrefetchLoader) NumBatches() int {
	if bc, ok := pl.source.(batchCounter); ok {
		return bc.NumBatches()
	}
	return 0
}

// Stats returns statistics about the loader.
func (pl *PrefetchLoader) Stats() PrefetchStats {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	return PrefetchStats{
		BatchesProduced: pl.produced,
		QueuedBatches:   len(pl.batches),
		QueueCapacity:   pl.depth,
		Generation:      pl.generation,
	}
}

// PrefetchStats provides statistics about a PrefetchLoader.
type PrefetchStats struct {
	BatchesProduced uint64 // across all epochs
	QueuedBatches   int
	QueueCapacity   int
	Generation      uint64 // number of epochs started
}
