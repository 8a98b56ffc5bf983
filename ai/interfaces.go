package ai

import (
	"context"

	"github.com/poiesic/verbatim/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Errors are classified with core.Transient or core.Permanent.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a natural-language answer to a query from retrieved context.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate answers query using only the given results as context.
	// Errors are classified with core.Transient or core.Permanent.
	Generate(ctx context.Context, query string, results []*core.RetrievalResult) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	Close() error
}
