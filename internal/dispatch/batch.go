// Package dispatch implements the coordination core of the orchestrator: the
// batch pool, the worker registry, the timeout monitor and the completion
// coordinator. All shared state lives in the Engine and is guarded by a single
// mutex; every operation is atomic with respect to every other.
package dispatch

import (
	"fmt"

	"batchfleet/internal/apperrors"
)

// Batch is an immutable unit of work: an ordered list of input file
// identifiers plus the bucket/prefix coordinates its results must land in.
// Batches are created once during partitioning and never mutated afterwards;
// the engine only moves pointers between pools.
type Batch struct {
	ID           string   `json:"id"`
	Files        []string `json:"files"`
	InputBucket  string   `json:"inputBucket"`
	InputPrefix  string   `json:"inputPrefix,omitempty"`
	OutputBucket string   `json:"outputBucket"`
	OutputPrefix string   `json:"outputPrefix,omitempty"`
}

// Buckets names the storage coordinates shared by every batch of a job.
type Buckets struct {
	InputBucket  string
	InputPrefix  string
	OutputBucket string
	OutputPrefix string
}

// Partition splits the discovered input file list into batches of at most
// size files, preserving input order. The last batch may be smaller. An empty
// file list yields zero batches, which is a valid, immediately-complete job.
// Partitioning runs once at job start; batches are never re-split later.
func Partition(files []string, buckets Buckets, size int) ([]*Batch, error) {
	if size <= 0 {
		return nil, apperrors.Configuration("batchSize", fmt.Sprintf("batch size must be positive, got %d", size))
	}

	batches := make([]*Batch, 0, (len(files)+size-1)/size)
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		batches = append(batches, &Batch{
			ID:           fmt.Sprintf("batch-%04d", len(batches)+1),
			Files:        files[start:end],
			InputBucket:  buckets.InputBucket,
			InputPrefix:  buckets.InputPrefix,
			OutputBucket: buckets.OutputBucket,
			OutputPrefix: buckets.OutputPrefix,
		})
	}
	return batches, nil
}
