package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/ingestion"
	"github.com/poiesic/verbatim/storage"
)

// BatchProcessor handles embedding generation for batches of records.
type BatchProcessor struct {
	store          storage.VectorStore
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(store storage.VectorStore, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		store:          store,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Embed replaces the vectors of records with normalized embeddings of their
// chunk text. Records are modified in place; nothing is written.
func (bp *BatchProcessor) Embed(ctx context.Context, records []*core.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Chunk.Text
	}

	var embeddings [][]float32
	err := ingestion.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(embeddings) != len(records) {
		return core.Permanent(fmt.Errorf("embedding count mismatch: expected %d, got %d", len(records), len(embeddings)))
	}

	for i := range records {
		if len(embeddings[i]) == 0 {
			return core.Permanent(fmt.Errorf("chunk %s: %w", records[i].Chunk.ID, core.ErrEmptyVector))
		}
		records[i].Vector = storage.NormalizeVector(embeddings[i])
	}
	return nil
}

// Write upserts records into the store.
func (bp *BatchProcessor) Write(ctx context.Context, records []*core.EmbeddingRecord) error {
	for _, record := range records {
		if err := bp.store.Upsert(ctx, record); err != nil {
			return fmt.Errorf("failed to update chunk %s: %w", record.Chunk.ID, err)
		}
	}
	return nil
}

// Process embeds a batch of records and writes them back to the store.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.EmbeddingRecord) error {
	if err := bp.Embed(ctx, records); err != nil {
		return err
	}
	return bp.Write(ctx, records)
}
