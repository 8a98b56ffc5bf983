package reembed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
	"github.com/poiesic/verbatim/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore("reembed")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedRecords writes n records with one-hot vectors of the given dimension.
func seedRecords(t *testing.T, store storage.VectorStore, n, dim int) []*core.EmbeddingRecord {
	t.Helper()
	records := make([]*core.EmbeddingRecord, n)
	for i := range n {
		text := fmt.Sprintf("participant answer number %d", i)
		vector := make([]float32, dim)
		vector[i%dim] = 1
		records[i] = &core.EmbeddingRecord{
			Chunk: core.Chunk{
				ID:           core.ChunkID("doc", i),
				DocumentID:   "doc",
				Source:       "/data/session.txt",
				Index:        i,
				Text:         text,
				Start:        i * 100,
				End:          i*100 + len(text),
				Speaker:      "Alice",
				Demographics: core.Demographics{Gender: "F", AgeRange: "25-34", AgeLow: 25, AgeHigh: 34},
				Hash:         core.ContentHash("Alice", text),
			},
			Vector: vector,
		}
		require.NoError(t, store.Upsert(context.Background(), records[i]))
	}
	return records
}

func TestRecordIterator_Basic(t *testing.T) {
	store := setupTestStore(t)
	seedRecords(t, store, 3, 4)

	iter := NewRecordIterator(store, 2)
	var sizes []int
	var ids []string

	err := iter.ForEach(context.Background(), func(records []*core.EmbeddingRecord) error {
		sizes = append(sizes, len(records))
		for _, r := range records {
			ids = append(ids, r.Chunk.ID)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, []string{"doc#0000", "doc#0001", "doc#0002"}, ids, "insertion order")
}

func TestRecordIterator_BatchSizes(t *testing.T) {
	store := setupTestStore(t)
	seedRecords(t, store, 10, 4)

	tests := []struct {
		batchSize int
		batches   int
	}{
		{1, 10},
		{3, 4},
		{5, 2},
		{10, 1},
		{100, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("batch=%d", tt.batchSize), func(t *testing.T) {
			batches, total := 0, 0
			err := NewRecordIterator(store, tt.batchSize).ForEach(context.Background(), func(records []*core.EmbeddingRecord) error {
				assert.LessOrEqual(t, len(records), tt.batchSize)
				batches++
				total += len(records)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.batches, batches)
			assert.Equal(t, 10, total)
		})
	}
}

func TestRecordIterator_EmptyStore(t *testing.T) {
	store := setupTestStore(t)

	called := false
	err := NewRecordIterator(store, 10).ForEach(context.Background(), func([]*core.EmbeddingRecord) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRecordIterator_ErrorHandling(t *testing.T) {
	store := setupTestStore(t)
	seedRecords(t, store, 5, 4)

	stop := errors.New("stop")
	calls := 0
	err := NewRecordIterator(store, 2).ForEach(context.Background(), func([]*core.EmbeddingRecord) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRecordIterator_ContextCancellation(t *testing.T) {
	store := setupTestStore(t)
	seedRecords(t, store, 5, 4)

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := NewRecordIterator(store, 2).ForEach(ctx, func([]*core.EmbeddingRecord) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})

	t.Run("between batches", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		calls := 0
		err := NewRecordIterator(store, 2).ForEach(ctx, func([]*core.EmbeddingRecord) error {
			calls++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRecordIterator_InvalidBatchSize(t *testing.T) {
	store := setupTestStore(t)
	assert.Equal(t, DefaultBatchSize, NewRecordIterator(store, 0).BatchSize())
	assert.Equal(t, DefaultBatchSize, NewRecordIterator(store, -5).BatchSize())
}
