// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a completed run.
type Result struct {
	Records   int
	Dimension int  // vector dimension after the run
	Rebuilt   bool // the collection was cleared and rewritten for a new dimension
	Elapsed   time.Duration
}

// Reembedder orchestrates the reembedding of all records in a collection.
type Reembedder struct {
	store     storage.ScanStore
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
	processor *BatchProcessor
	iterator  *RecordIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(store storage.ScanStore, embedder ai.Embedder, config *Config, progress io.Writer) *Reembedder {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		store:     store,
		config:    config,
		progress:  progress,
		logger:    slog.Default(),
		processor: NewBatchProcessor(store, embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewRecordIterator(store, config.BatchSize),
	}
}

// WithLogger sets a custom logger and returns the reembedder.
func (r *Reembedder) WithLogger(logger *slog.Logger) *Reembedder {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Run re-embeds every record in the collection. Records keep their chunk
// metadata and relative insertion order. If the embedder's dimension differs
// from the collection's, every record is embedded before the collection is
// cleared and rewritten, so a failed or cancelled run leaves it untouched.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	total, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No records found in collection (0 records)\n")
		return &Result{}, nil
	}
	dim, err := r.store.Dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimension: %w", err)
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records (batch size: %d)\n",
		total, r.iterator.BatchSize())

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	result := &Result{Dimension: dim}
	var pending []*core.EmbeddingRecord

	err = r.iterator.ForEach(ctx, func(records []*core.EmbeddingRecord) error {
		if err := r.processor.Embed(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		if result.Records == 0 && len(records[0].Vector) != dim {
			result.Rebuilt = true
			result.Dimension = len(records[0].Vector)
			r.logger.Warn("embedding dimension changed, collection will be rebuilt",
				"old", dim, "new", result.Dimension)
		}

		if result.Rebuilt {
			pending = append(pending, records...)
		} else if err := r.processor.Write(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		result.Records += len(records)
		tracker.Update(result.Records)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Rebuilt {
		if err := r.store.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear collection: %w", err)
		}
		if err := r.processor.Write(ctx, pending); err != nil {
			return nil, err
		}
	}

	tracker.Finish()

	result.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d records in %v (%.1f records/sec)\n",
		result.Records, result.Elapsed.Round(time.Millisecond), float64(result.Records)/result.Elapsed.Seconds())

	r.logger.Info("reembedding complete", "records", result.Records, "dimension", result.Dimension, "rebuilt", result.Rebuilt)
	return result, nil
}
