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

	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// RecordIterator iterates over all embedding records in batches.
type RecordIterator struct {
	scanner   storage.Scanner
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records to fetch in each batch; non-positive values use DefaultBatchSize
func NewRecordIterator(scanner storage.Scanner, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		scanner:   scanner,
		batchSize: batchSize,
	}
}

// BatchSize returns the number of records per batch.
func (it *RecordIterator) BatchSize() int {
	return it.batchSize
}

// ForEach calls fn for each batch of records in insertion order.
// Iteration stops on first error from fn or when all records are processed.
// Context cancellation is checked between batches.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.EmbeddingRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return it.scanner.Scan(ctx, it.batchSize, func(records []*core.EmbeddingRecord) error {
		if err := fn(records); err != nil {
			return err
		}
		return ctx.Err()
	})
}
