package storage

import (
	"context"

	"github.com/poiesic/verbatim/core"
)

// VectorStore holds the embedding records of one collection.
// Implementations must be thread-safe and provide read-after-write consistency
// within a process session.
type VectorStore interface {
	// Upsert writes a record atomically, replacing any record with the same chunk ID.
	// A replaced record keeps its original insertion sequence; a new record is
	// assigned the next one. Seq and IndexedAt of the argument are populated.
	// Returns ErrDimensionMismatch if the vector length differs from the collection's.
	Upsert(ctx context.Context, record *core.EmbeddingRecord) error

	// Get retrieves a record by chunk ID.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, chunkID string) (*core.EmbeddingRecord, error)

	// Query finds records similar to the given vector.
	// Returns hits with score >= minScore, up to limit results, ordered by score
	// descending. Scores are cosine similarities clamped into [0,1].
	// Returns an empty slice for an empty collection.
	Query(ctx context.Context, vector []float32, limit int, minScore float32) ([]*core.RetrievalResult, error)

	// Delete removes records by chunk ID. Missing IDs are ignored.
	Delete(ctx context.Context, chunkIDs ...string) error

	// DeleteAll removes every record in the collection and resets its dimension.
	DeleteAll(ctx context.Context) error

	// Count returns the number of records in the collection.
	Count(ctx context.Context) (int, error)

	// Dimension returns the vector dimension of the collection, or 0 when empty.
	Dimension(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Scanner iterates over every record of a collection in insertion order.
type Scanner interface {
	// Scan calls fn with consecutive batches of up to batchSize records.
	// Iteration stops at the first error returned by fn.
	Scan(ctx context.Context, batchSize int, fn func(records []*core.EmbeddingRecord) error) error
}

// ScanStore is a VectorStore that also supports full iteration.
type ScanStore interface {
	VectorStore
	Scanner
}
