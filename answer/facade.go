package answer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/ingestion"
)

// NoInformation is the answer given when retrieval finds nothing.
const NoInformation = "I couldn't find any relevant information in the knowledge base to answer your question."

// Defaults for a Facade.
const (
	DefaultTopK     = 10
	DefaultMinScore = 0.1
)

var (
	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrGeneratorRequired is returned when a generator is not provided.
	ErrGeneratorRequired = errors.New("generator required")
)

// Retriever is the retrieval step the facade composes.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]*core.RetrievalResult, error)
}

// Answer is a generated answer with the context it was grounded on.
type Answer struct {
	Query   string
	Text    string
	Sources []*core.RetrievalResult
}

// Facade answers questions by retrieving context and passing it to a generator.
type Facade struct {
	retriever   Retriever
	generator   ai.Generator
	topK        int
	minScore    float64
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures a Facade.
type Option func(*Facade)

// WithTopK sets how many chunks are passed to the generator.
func WithTopK(topK int) Option {
	return func(f *Facade) { f.topK = topK }
}

// WithMinScore sets the retrieval score floor.
func WithMinScore(minScore float64) Option {
	return func(f *Facade) { f.minScore = minScore }
}

// WithRetry sets the attempt count and base backoff delay for generation.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(f *Facade) {
		f.maxAttempts = maxAttempts
		f.baseDelay = baseDelay
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFacade creates a Facade.
func NewFacade(retriever Retriever, generator ai.Generator, opts ...Option) (*Facade, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	f := &Facade{
		retriever:   retriever,
		generator:   generator,
		topK:        DefaultTopK,
		minScore:    DefaultMinScore,
		maxAttempts: ingestion.DefaultMaxAttempts,
		baseDelay:   ingestion.DefaultBaseDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "answer")
	return f, nil
}

// Answer retrieves context for query and returns the generated answer as-is.
// When nothing relevant is found the generator is not called and the answer
// is NoInformation.
func (f *Facade) Answer(ctx context.Context, query string) (*Answer, error) {
	if err := core.ValidateQuery(query); err != nil {
		return nil, err
	}

	results, err := f.retriever.Retrieve(ctx, query, f.topK, f.minScore)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		f.logger.Info("no relevant context found", "query_length", len(query))
		return &Answer{Query: query, Text: NoInformation, Sources: results}, nil
	}

	var text string
	err = ingestion.RetryWithBackoff(ctx, func() error {
		var err error
		text, err = f.generator.Generate(ctx, query, results)
		return err
	}, f.maxAttempts, f.baseDelay)
	if err != nil {
		f.logger.Error("error generating answer", "err", err)
		return nil, err
	}

	return &Answer{Query: query, Text: text, Sources: results}, nil
}
