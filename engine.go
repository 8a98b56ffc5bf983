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

// Package verbatim indexes interview and focus-group transcripts and answers
// questions about them, either with generated answers or with filtered,
// attributed verbatim quotes.
package verbatim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/ai/openai"
	"github.com/poiesic/verbatim/answer"
	"github.com/poiesic/verbatim/chunker"
	"github.com/poiesic/verbatim/config"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/format"
	"github.com/poiesic/verbatim/ingestion"
	"github.com/poiesic/verbatim/loader"
	"github.com/poiesic/verbatim/reembed"
	"github.com/poiesic/verbatim/search"
	"github.com/poiesic/verbatim/storage"
	"github.com/poiesic/verbatim/storage/badger"
	"github.com/poiesic/verbatim/storage/chromem"
	quotes "github.com/poiesic/verbatim/verbatim"
)

// ErrExportUnsupported is returned when the open store cannot export or
// import collection files.
var ErrExportUnsupported = errors.New("store does not support export")

// Engine is one session against a collection: the vector store and the AI
// provider are acquired by Open and released by Close.
type Engine struct {
	cfg      *config.Config
	store    storage.ScanStore
	provider ai.AIProvider
	chunker  *chunker.Chunker
	loader   *loader.Loader
	results  *format.ResultWriter // nil when no output directory is configured
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	store    storage.ScanStore
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithStore uses an already opened store instead of opening the configured one.
// The engine takes ownership and closes it.
func WithStore(store storage.ScanStore) Option {
	return func(o *engineOptions) { o.store = store }
}

// WithProvider uses the given AI provider instead of the configured
// OpenAI-compatible endpoints. The engine takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) { o.provider = provider }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// Open validates cfg and acquires the store and AI provider it names.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	ch, err := chunker.New(
		chunker.WithMaxChunkSize(cfg.Chunking.MaxChunkSize),
		chunker.WithModeratorAliases(cfg.Chunking.ModeratorAliases...),
		chunker.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	store := options.store
	if store == nil {
		store, err = openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	var results *format.ResultWriter
	if cfg.OutputDir != "" {
		results = format.NewResultWriter(cfg.OutputDir)
	}

	logger.Debug("engine opened", "store", cfg.Store, "collection", cfg.Collection, "path", cfg.StorePath())
	return &Engine{
		cfg:      cfg,
		store:    store,
		provider: provider,
		chunker:  ch,
		loader:   loader.New(loader.WithMaxFileSize(cfg.Loader.MaxFileSize), loader.WithLogger(logger)),
		results:  results,
		logger:   logger,
	}, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.ScanStore, error) {
	switch cfg.Store {
	case config.StoreChromem:
		return chromem.Open(cfg.StorePath(), cfg.Collection, chromem.WithLogger(logger))
	default:
		return badger.Open(cfg.StorePath(), cfg.Collection, badger.WithLogger(logger))
	}
}

// Close releases the AI provider and the store. Both are always released;
// their errors are joined.
func (e *Engine) Close() error {
	var errs []error
	if err := e.provider.Close(); err != nil {
		e.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing store", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) Store() storage.ScanStore {
	return e.store
}

func (e *Engine) Chunker() *chunker.Chunker {
	return e.chunker
}

func (e *Engine) Loader() *loader.Loader {
	return e.loader
}

// NewIndexer creates an indexer configured from the engine's indexing
// settings. Callers must Release it.
func (e *Engine) NewIndexer(opts ...ingestion.Option) (*ingestion.Indexer, error) {
	ix := e.cfg.Indexing
	defaults := []ingestion.Option{
		ingestion.WithPoolSize(ix.PoolSize),
		ingestion.WithRetry(ix.MaxAttempts, ix.BaseDelay),
		ingestion.WithLogger(e.logger),
	}
	if ix.RateLimit > 0 {
		defaults = append(defaults, ingestion.WithRateLimit(ix.RateLimit, ix.RateBurst))
	}
	return ingestion.NewIndexer(e.store, e.provider.Embedder(), append(defaults, opts...)...)
}

// NewRetriever creates a retriever configured from the engine's retrieval settings.
func (e *Engine) NewRetriever(opts ...search.Option) (*search.Retriever, error) {
	defaults := []search.Option{
		search.WithMaxTopK(e.cfg.Retrieval.MaxTopK),
		search.WithOversample(e.cfg.Retrieval.Oversample),
		search.WithRetry(e.cfg.Indexing.MaxAttempts, e.cfg.Indexing.BaseDelay),
		search.WithLogger(e.logger),
	}
	return search.NewRetriever(e.store, e.provider.Embedder(), append(defaults, opts...)...)
}

func (e *Engine) NewExtractor() *quotes.Extractor {
	return quotes.NewExtractor(quotes.WithLogger(e.logger))
}

// NewAnswerFacade creates a question-answering facade over a new retriever.
func (e *Engine) NewAnswerFacade(opts ...answer.Option) (*answer.Facade, error) {
	retriever, err := e.NewRetriever()
	if err != nil {
		return nil, err
	}
	defaults := []answer.Option{
		answer.WithTopK(e.cfg.Retrieval.TopK),
		answer.WithMinScore(e.cfg.Retrieval.MinScore),
		answer.WithRetry(e.cfg.Indexing.MaxAttempts, e.cfg.Indexing.BaseDelay),
		answer.WithLogger(e.logger),
	}
	return answer.NewFacade(retriever, e.provider.Generator(), append(defaults, opts...)...)
}

// NewReembedder creates a reembedder that rewrites the collection's vectors
// with the engine's embedder, writing progress to w. A nil cfg uses the
// default batch sizes with the engine's retry settings.
func (e *Engine) NewReembedder(cfg *reembed.Config, w io.Writer) *reembed.Reembedder {
	if cfg == nil {
		cfg = reembed.DefaultConfig()
		cfg.MaxRetries = e.cfg.Indexing.MaxAttempts
		cfg.RetryDelay = e.cfg.Indexing.BaseDelay
	}
	return reembed.NewReembedder(e.store, e.provider.Embedder(), cfg, w).WithLogger(e.logger)
}

// IndexSummary describes one IndexFiles run.
type IndexSummary struct {
	Files        []string // files discovered under the path
	SkippedFiles []string // files that were too large, empty or unreadable
	Documents    int
	Chunks       int
	Report       *ingestion.Report
}

// IndexFiles discovers, loads, chunks and indexes every supported file under
// path. Files that cannot be loaded are skipped and listed in the summary.
// Chunk-level failures are collected in the report; the returned error is
// non-nil only for discovery failures, cancellation and setup errors.
func (e *Engine) IndexFiles(ctx context.Context, path string) (*IndexSummary, error) {
	files, err := e.loader.Discover(path)
	if err != nil {
		return nil, err
	}

	summary := &IndexSummary{Files: files, Report: &ingestion.Report{}}
	docs := make([]*core.Document, 0, len(files))
	for _, file := range files {
		doc, err := e.loader.Load(file)
		if err != nil {
			e.logger.Warn("skipping file", "path", file, "err", err)
			summary.SkippedFiles = append(summary.SkippedFiles, file)
			continue
		}
		doc.Chunks = e.chunker.Chunk(doc)
		summary.Chunks += len(doc.Chunks)
		docs = append(docs, doc)
	}
	summary.Documents = len(docs)
	if len(docs) == 0 {
		return summary, nil
	}

	indexer, err := e.NewIndexer()
	if err != nil {
		return nil, err
	}
	defer indexer.Release()

	report, err := indexer.Index(ctx, docs...)
	if report != nil {
		summary.Report = report
	}
	if err != nil {
		return summary, err
	}

	e.logger.Info("indexed files",
		"files", len(files), "documents", summary.Documents, "chunks", summary.Chunks,
		"indexed", report.Indexed, "unchanged", report.Skipped, "failed", len(report.Failures))
	return summary, nil
}

// Answer retrieves context for query and generates an answer from it.
func (e *Engine) Answer(ctx context.Context, query string) (*answer.Answer, error) {
	facade, err := e.NewAnswerFacade()
	if err != nil {
		return nil, err
	}
	return facade.Answer(ctx, query)
}

// ExtractRequest parameterizes ExtractVerbatims.
type ExtractRequest struct {
	TopK       int
	MinScore   float64
	Options    quotes.Options
	Format     format.Format
	ExportPath string // CSV export target; empty disables export
}

// DefaultExtractRequest returns a request populated from the engine's configuration.
func (e *Engine) DefaultExtractRequest() ExtractRequest {
	return ExtractRequest{
		TopK:       e.cfg.Retrieval.VerbatimTopK,
		MinScore:   e.cfg.Retrieval.MinScore,
		Options:    e.cfg.VerbatimOptions(),
		Format:     format.Format(e.cfg.Verbatim.Format),
		ExportPath: e.cfg.Verbatim.ExportPath,
	}
}

// ExtractResult is the outcome of ExtractVerbatims.
type ExtractResult struct {
	Query     string
	Retrieved int // hits returned by the retriever before extraction
	Verbatims []*core.Verbatim
	Output    string // rendered verbatims
	Exported  bool   // the CSV export was written
}

// ExtractVerbatims retrieves chunks for query, extracts filtered quotes from
// them and renders the quotes. Options and format are validated before any
// embedding call. When the CSV export fails the result is still returned
// together with the core.ErrIO error.
func (e *Engine) ExtractVerbatims(ctx context.Context, query string, req ExtractRequest) (*ExtractResult, error) {
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}
	f, err := format.ParseFormat(string(req.Format))
	if err != nil {
		return nil, err
	}

	retriever, err := e.NewRetriever()
	if err != nil {
		return nil, err
	}
	results, err := retriever.Retrieve(ctx, query, req.TopK, req.MinScore)
	if err != nil {
		return nil, err
	}

	verbatims, err := e.NewExtractor().Extract(results, req.Options)
	if err != nil {
		return nil, err
	}

	result := &ExtractResult{
		Query:     query,
		Retrieved: len(results),
		Verbatims: verbatims,
	}
	result.Output, err = format.RenderAndExport(verbatims, f, req.ExportPath)
	if err != nil {
		return result, err
	}
	result.Exported = req.ExportPath != ""

	e.logger.Debug("extracted verbatims", "query", query, "retrieved", len(results), "kept", len(verbatims))
	return result, nil
}

// Stats describes the open collection.
type Stats struct {
	Store      string
	Collection string
	Path       string
	Records    int
	Dimension  int
}

// Stats reports the size of the open collection.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	dim, err := e.store.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Store:      e.cfg.Store,
		Collection: e.cfg.Collection,
		Path:       e.cfg.StorePath(),
		Records:    count,
		Dimension:  dim,
	}, nil
}

// DeleteAll removes every record from the open collection.
func (e *Engine) DeleteAll(ctx context.Context) error {
	return e.store.DeleteAll(ctx)
}

type exporter interface {
	Export(path string, compress bool) error
	Import(path string) error
}

// Export writes the collection to a file. Only the chromem store supports it.
func (e *Engine) Export(path string, compress bool) error {
	x, ok := e.store.(exporter)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExportUnsupported, e.cfg.Store)
	}
	return x.Export(path, compress)
}

// Import replaces the collection with the contents of an exported file.
// Only the chromem store supports it.
func (e *Engine) Import(path string) error {
	x, ok := e.store.(exporter)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExportUnsupported, e.cfg.Store)
	}
	return x.Import(path)
}

// SaveAnswer writes ans and its rendered text to the configured output
// directory. Without an output directory nothing is written and the result
// is nil.
func (e *Engine) SaveAnswer(ans *answer.Answer, text string) (*format.Saved, error) {
	return e.saveResult(format.KindAnswer, text, format.AnswerRecord{
		Query:   ans.Query,
		Answer:  ans.Text,
		Sources: format.SourceRecords(ans.Sources),
	})
}

// SaveRetrieval writes a bare retrieval the same way as SaveAnswer.
func (e *Engine) SaveRetrieval(query string, topK int, results []*core.RetrievalResult, text string) (*format.Saved, error) {
	return e.saveResult(format.KindRetrieval, text, format.RetrievalRecord{
		Query:   query,
		TopK:    topK,
		Results: format.SourceRecords(results),
	})
}

// SaveExtraction writes an extraction and its rendered output the same way
// as SaveAnswer.
func (e *Engine) SaveExtraction(result *ExtractResult) (*format.Saved, error) {
	return e.saveResult(format.KindVerbatims, result.Output, format.ExtractionRecord{
		Query:     result.Query,
		Retrieved: result.Retrieved,
		Verbatims: format.VerbatimRecords(result.Verbatims),
	})
}

func (e *Engine) saveResult(kind, text string, record any) (*format.Saved, error) {
	if e.results == nil {
		return nil, nil
	}
	saved, err := e.results.Save(kind, text, record)
	if err != nil {
		return nil, err
	}
	e.logger.Info("results saved", "kind", kind, "text", saved.Text, "json", saved.JSON)
	return saved, nil
}
