package search

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/ingestion"
	"github.com/poiesic/verbatim/storage"
)

// Defaults for a Retriever.
const (
	DefaultMaxTopK    = 100
	DefaultOversample = 2
)

// Retriever ranks stored chunks against a query.
type Retriever struct {
	store       storage.VectorStore
	embedder    ai.Embedder
	maxTopK     int
	oversample  int
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithMaxTopK sets the largest accepted top_k.
func WithMaxTopK(maxTopK int) Option {
	return func(r *Retriever) error {
		if maxTopK < 1 {
			return core.ErrInvalidTopK
		}
		r.maxTopK = maxTopK
		return nil
	}
}

// WithOversample sets how many candidates per requested result are fetched
// from the store before thresholding.
func WithOversample(factor int) Option {
	return func(r *Retriever) error {
		if factor < 1 {
			return ErrInvalidOversample
		}
		r.oversample = factor
		return nil
	}
}

// WithRetry sets the attempt count and base backoff delay for the query embedding.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(r *Retriever) error {
		if maxAttempts <= 0 {
			return ingestion.ErrInvalidMaxAttempts
		}
		r.maxAttempts = maxAttempts
		r.baseDelay = baseDelay
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(store storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		store:       store,
		embedder:    embedder,
		maxTopK:     DefaultMaxTopK,
		oversample:  DefaultOversample,
		maxAttempts: ingestion.DefaultMaxAttempts,
		baseDelay:   ingestion.DefaultBaseDelay,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")

	return r, nil
}

// MaxTopK returns the largest accepted top_k.
func (r *Retriever) MaxTopK() int {
	return r.maxTopK
}

// Retrieve returns up to topK chunks scoring at least minScore against query.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]*core.RetrievalResult, error) {
	return r.RetrieveWithMonitor(ctx, query, topK, minScore, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage.
// Out-of-range topK or minScore fail with core.ErrValidation.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, topK int, minScore float64, monitor SearchMonitor) ([]*core.RetrievalResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	if err := core.ValidateQuery(query); err != nil {
		return nil, err
	}
	if err := core.ValidateTopK(topK, r.maxTopK); err != nil {
		return nil, err
	}
	if err := core.ValidateMinScore(minScore); err != nil {
		return nil, err
	}

	monitor.Start(query, topK, minScore)

	var embedding []float32
	err := ingestion.RetryWithBackoff(ctx, func() error {
		var err error
		embedding, err = r.embedder.EmbedText(ctx, query)
		if err == nil && len(embedding) == 0 {
			err = core.Permanent(errors.New("embedder returned an empty vector"))
		}
		return err
	}, r.maxAttempts, r.baseDelay)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}
	monitor.AfterEmbedding(embedding)

	candidates, err := r.store.Query(ctx, embedding, topK*r.oversample, float32(minScore))
	if err != nil {
		r.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}
	monitor.AfterCandidates(candidates)

	results := make([]*core.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		if float64(c.Score) < minScore {
			continue
		}
		results = append(results, c)
	}
	monitor.AfterThreshold(results)

	slices.SortStableFunc(results, compareResults)
	if len(results) > topK {
		results = results[:topK]
	}
	for i, result := range results {
		result.Rank = i + 1
	}

	r.logger.Debug("retrieval complete", "candidates", len(candidates), "results", len(results))
	monitor.Finish(results)
	return results, nil
}

// compareResults orders by score descending, then insertion order, then offset.
func compareResults(a, b *core.RetrievalResult) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return cmp.Compare(a.Chunk.Start, b.Chunk.Start)
}
