package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
	"golang.org/x/time/rate"
)

// Indexer embeds chunks and writes them to a vector store.
type Indexer struct {
	store       storage.VectorStore
	embedder    ai.Embedder
	pool        *ants.Pool
	poolSize    int
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithPoolSize sets the number of concurrent embedding workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(ix *Indexer) error {
		if size < 1 {
			size = 1
		}
		ix.poolSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// WithRetry sets the attempt count and base backoff delay for embedding calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(ix *Indexer) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		ix.maxAttempts = maxAttempts
		ix.baseDelay = baseDelay
		return nil
	}
}

// WithRateLimit throttles embedding calls to rps requests per second.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(ix *Indexer) error {
		if rps <= 0 {
			ix.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		ix.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// NewIndexer creates an Indexer. Call Release when done.
func NewIndexer(store storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	ix := &Indexer{
		store:       store,
		embedder:    embedder,
		poolSize:    poolSize,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "indexer")

	pool, err := ants.NewPool(ix.poolSize, ants.WithLogger(poolLogger{ix.logger}))
	if err != nil {
		return nil, err
	}
	ix.pool = pool
	return ix, nil
}

// Release releases the worker pool.
// The indexer should not be used after calling Release.
func (ix *Indexer) Release() {
	if ix.pool != nil {
		ix.pool.Release()
	}
}

// Index embeds and stores the chunks of every document. Unchanged chunks are
// skipped and chunks left over from a longer earlier version of a document are
// removed. Per-chunk failures are collected in the report; the returned error
// is non-nil only when the batch was cancelled, in which case chunks not yet
// started are left untouched.
func (ix *Indexer) Index(ctx context.Context, docs ...*core.Document) (*Report, error) {
	report := &Report{}
	var wg sync.WaitGroup

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		prior, err := ix.storedVectors(ctx, doc)
		if err != nil {
			ix.logger.Warn("could not read stored chunks, unchanged text will be re-embedded",
				"document", doc.ID, "err", err)
		}
		for i := range doc.Chunks {
			if err := ctx.Err(); err != nil {
				wg.Wait()
				return report, err
			}
			chunk := &doc.Chunks[i]
			wg.Add(1)
			err := ix.pool.Submit(func() {
				defer wg.Done()
				ix.indexChunk(ctx, chunk, prior, report)
			})
			if err != nil {
				wg.Done()
				report.fail(doc.ID, chunk.ID, err)
			}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		n, err := ix.removeStale(ctx, doc)
		if err != nil {
			report.fail(doc.ID, core.ChunkID(doc.ID, len(doc.Chunks)), err)
		}
		report.removed(n)
	}

	ix.logger.Info("indexing complete",
		"documents", len(docs), "indexed", report.Indexed, "skipped", report.Skipped,
		"removed", report.Removed, "failed", len(report.Failures))
	return report, nil
}

// indexChunk writes one chunk. prior maps the content hashes already stored
// for the chunk's document to their vectors.
func (ix *Indexer) indexChunk(ctx context.Context, chunk *core.Chunk, prior map[core.ID][]float32, report *Report) {
	if err := core.ValidateChunk(chunk); err != nil {
		report.fail(chunk.DocumentID, chunk.ID, fmt.Errorf("%w: %w", core.ErrValidation, err))
		return
	}

	existing, err := ix.store.Get(ctx, chunk.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		report.fail(chunk.DocumentID, chunk.ID, err)
		return
	}

	var vector []float32
	if existing != nil && existing.Chunk.Hash == chunk.Hash {
		if existing.Chunk == *chunk {
			report.skipped()
			return
		}
		// same content at a new position; only the metadata changed
		vector = existing.Vector
	} else if stored, ok := prior[chunk.Hash]; ok {
		// content moved here from another position in the document
		vector = stored
	} else {
		vector, err = ix.embed(ctx, chunk.Text)
		if err != nil {
			report.fail(chunk.DocumentID, chunk.ID, err)
			return
		}
	}

	// the embedding is already paid for, so finish the write even if the
	// batch is cancelled meanwhile
	record := &core.EmbeddingRecord{Chunk: *chunk, Vector: vector}
	if err := ix.store.Upsert(context.WithoutCancel(ctx), record); err != nil {
		report.fail(chunk.DocumentID, chunk.ID, err)
		return
	}
	report.indexed()
}

func (ix *Indexer) embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := RetryWithBackoff(ctx, func() error {
		if ix.limiter != nil {
			if err := ix.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		vector, err = ix.embedder.EmbedText(ctx, text)
		if err == nil && len(vector) == 0 {
			err = core.Permanent(errors.New("embedder returned an empty vector"))
		}
		return err
	}, ix.maxAttempts, ix.baseDelay)
	return vector, err
}

// storedVectors collects the vectors already stored for doc, keyed by content
// hash. Records are positional, so the walk stops at the first missing index.
func (ix *Indexer) storedVectors(ctx context.Context, doc *core.Document) (map[core.ID][]float32, error) {
	vectors := make(map[core.ID][]float32)
	for i := 0; ; i++ {
		record, err := ix.store.Get(ctx, core.ChunkID(doc.ID, i))
		if errors.Is(err, storage.ErrNotFound) {
			return vectors, nil
		}
		if err != nil {
			return nil, err
		}
		if _, ok := vectors[record.Chunk.Hash]; !ok {
			vectors[record.Chunk.Hash] = record.Vector
		}
	}
}

// removeStale deletes records positioned past the document's last chunk.
func (ix *Indexer) removeStale(ctx context.Context, doc *core.Document) (int, error) {
	var stale []string
	for i := len(doc.Chunks); ; i++ {
		id := core.ChunkID(doc.ID, i)
		_, err := ix.store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return 0, err
		}
		stale = append(stale, id)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := ix.store.Delete(ctx, stale...); err != nil {
		return 0, err
	}
	ix.logger.Debug("removed stale chunks", "document", doc.ID, "count", len(stale))
	return len(stale), nil
}

// poolLogger routes ants pool messages to slog.
type poolLogger struct {
	logger *slog.Logger
}

func (l poolLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
