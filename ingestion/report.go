package ingestion

import (
	"errors"
	"fmt"
	"sync"
)

// Failure records a chunk that could not be indexed.
type Failure struct {
	DocumentID string
	ChunkID    string
	Err        error
}

// Report summarizes an indexing batch. Chunks written before a failure stay
// indexed; failures are collected rather than aborting the batch.
type Report struct {
	Indexed  int // chunks written to the store
	Skipped  int // chunks whose stored copy was unchanged
	Removed  int // stale chunks of shrunk documents
	Failures []Failure

	mu sync.Mutex
}

// Err joins every failure into a single error, or returns nil.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("chunk %s: %w", f.ChunkID, f.Err))
	}
	return errors.Join(errs...)
}

func (r *Report) indexed() {
	r.mu.Lock()
	r.Indexed++
	r.mu.Unlock()
}

func (r *Report) skipped() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

func (r *Report) removed(n int) {
	r.mu.Lock()
	r.Removed += n
	r.mu.Unlock()
}

func (r *Report) fail(documentID, chunkID string, err error) {
	r.mu.Lock()
	r.Failures = append(r.Failures, Failure{DocumentID: documentID, ChunkID: chunkID, Err: err})
	r.mu.Unlock()
}
