// Package chromem implements storage.ScanStore on top of chromem-go.
//
// Records live in a chromem collection named after the store's collection.
// Chunk fields travel as document metadata and the chunk text as content.
// A second collection, suffixed ".meta", holds the vector dimension.
//
// chromem normalizes embeddings on insert, so vectors returned by Get and
// Scan have unit length.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
)

const (
	metaSuffix     = ".meta"
	dimensionDocID = "dimension"
)

// metadata keys
const (
	keyDocumentID = "document_id"
	keySource     = "source"
	keyIndex      = "index"
	keyStart      = "start"
	keyEnd        = "end"
	keySpeaker    = "speaker"
	keyModerator  = "moderator"
	keyGender     = "gender"
	keyAgeRange   = "age_range"
	keyAgeLow     = "age_low"
	keyAgeHigh    = "age_high"
	keySite       = "site"
	keyTimestamp  = "timestamp"
	keyHash       = "hash"
	keySeq        = "seq"
	keyIndexedAt  = "indexed_at"
)

// ErrCollectionRequired is returned when the collection name is empty.
var ErrCollectionRequired = errors.New("collection name is required")

var errPrecomputed = errors.New("embeddings must be precomputed")

// Store implements storage.ScanStore with chromem-go.
type Store struct {
	db         *chromem.DB
	collection string
	logger     *slog.Logger

	mu      sync.RWMutex
	records *chromem.Collection
	meta    *chromem.Collection
	dim     int
	lastSeq uint64
}

var _ storage.ScanStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the logger. A nil logger uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewMemoryStore creates a Store backed by an in-memory chromem DB.
func NewMemoryStore(collection string, opts ...Option) (*Store, error) {
	return newStore(chromem.NewDB(), collection, opts...)
}

// Open creates a Store persisted under dir. Existing data is loaded.
func Open(dir, collection string, opts ...Option) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}
	return newStore(db, collection, opts...)
}

func newStore(db *chromem.DB, collection string, opts ...Option) (*Store, error) {
	if collection == "" {
		return nil, ErrCollectionRequired
	}
	s := &Store{db: db, collection: collection}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "chromem-store", "collection", collection)

	if err := s.attach(); err != nil {
		return nil, err
	}
	return s, nil
}

// attach binds the collections and loads the dimension. Caller holds mu or
// has exclusive access.
func (s *Store) attach() error {
	var err error
	s.records, err = s.db.GetOrCreateCollection(s.collection, nil, precomputed)
	if err != nil {
		return err
	}
	s.meta, err = s.db.GetOrCreateCollection(s.collection+metaSuffix, nil, precomputed)
	if err != nil {
		return err
	}

	s.dim = 0
	if doc, err := s.meta.GetByID(context.Background(), dimensionDocID); err == nil {
		s.dim, err = strconv.Atoi(doc.Content)
		if err != nil {
			return fmt.Errorf("%w: dimension %q", storage.ErrSerializationFailed, doc.Content)
		}
	}
	return nil
}

func precomputed(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

// Close is a no-op; persistent data is written on every change.
func (s *Store) Close() error {
	return nil
}

// Upsert writes a record, keeping the original sequence of a replaced record.
func (s *Store) Upsert(ctx context.Context, record *core.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateRecord(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		if err := s.setDimension(ctx, len(record.Vector)); err != nil {
			return err
		}
	} else if s.dim != len(record.Vector) {
		return fmt.Errorf("%w: collection %q has dimension %d, got %d",
			storage.ErrDimensionMismatch, s.collection, s.dim, len(record.Vector))
	}

	if old, err := s.records.GetByID(ctx, record.Chunk.ID); err == nil {
		record.Seq = parseUint(old.Metadata[keySeq])
	} else {
		record.Seq = s.nextSeq()
	}
	record.IndexedAt = time.Now().UTC()

	doc := chromem.Document{
		ID:        record.Chunk.ID,
		Metadata:  toMetadata(record),
		Embedding: slices.Clone(record.Vector),
		Content:   record.Chunk.Text,
	}
	if err := s.records.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

func (s *Store) setDimension(ctx context.Context, dim int) error {
	doc := chromem.Document{
		ID:        dimensionDocID,
		Embedding: []float32{1},
		Content:   strconv.Itoa(dim),
	}
	if err := s.meta.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to record dimension: %w", err)
	}
	s.dim = dim
	return nil
}

// nextSeq stays monotonic across restarts without a persisted counter.
func (s *Store) nextSeq() uint64 {
	next := uint64(time.Now().UnixNano())
	if next <= s.lastSeq {
		next = s.lastSeq + 1
	}
	s.lastSeq = next
	return next
}

// Get retrieves a record by chunk ID.
func (s *Store) Get(ctx context.Context, chunkID string) (*core.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chunkID == "" {
		return nil, storage.ErrNotFound
	}
	doc, err := s.records.GetByID(ctx, chunkID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, chunkID)
	}
	return fromDocument(doc.ID, doc.Content, doc.Metadata, doc.Embedding), nil
}

// Query returns the most similar records with score >= minScore.
func (s *Store) Query(ctx context.Context, vector []float32, limit int, minScore float32) ([]*core.RetrievalResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*core.RetrievalResult{}
	count := s.records.Count()
	if count == 0 {
		return results, nil
	}
	if s.dim != len(vector) {
		return nil, fmt.Errorf("%w: collection %q has dimension %d, query has %d",
			storage.ErrDimensionMismatch, s.collection, s.dim, len(vector))
	}

	hits, err := s.queryPastTies(ctx, vector, limit, count)
	if err != nil {
		return nil, err
	}

	for _, hit := range hits {
		score := storage.ClampScore(hit.Similarity)
		if score < minScore {
			continue
		}
		record := fromDocument(hit.ID, hit.Content, hit.Metadata, nil)
		results = append(results, &core.RetrievalResult{
			Chunk: record.Chunk,
			Score: score,
			Seq:   record.Seq,
		})
	}

	slices.SortStableFunc(results, func(a, b *core.RetrievalResult) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return a.Chunk.Start - b.Chunk.Start
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// queryPastTies fetches at least the top limit hits and keeps widening the
// fetch while the last hit ties the one at the cutoff, so the insertion-order
// tie-break sees every record sharing the cutoff score. chromem orders equal
// similarities arbitrarily and rejects nResults above the document count.
func (s *Store) queryPastTies(ctx context.Context, vector []float32, limit, count int) ([]chromem.Result, error) {
	n := min(limit+1, count)
	for {
		hits, err := s.records.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query failed: %w", err)
		}
		if n >= count || len(hits) <= limit || hits[len(hits)-1].Similarity < hits[limit-1].Similarity {
			return hits, nil
		}
		n = min(n*2, count)
	}
}

// Delete removes records by chunk ID. Missing IDs are ignored.
func (s *Store) Delete(ctx context.Context, chunkIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Delete(ctx, nil, nil, chunkIDs...)
}

// DeleteAll drops the collection and resets its dimension.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.collection); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(s.collection + metaSuffix); err != nil {
		return err
	}
	if err := s.attach(); err != nil {
		return err
	}
	s.logger.Info("collection cleared")
	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Count(), nil
}

// Dimension returns the vector dimension of the collection, or 0 when empty.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim, nil
}

// Scan walks the collection in insertion order. The whole collection is
// materialized first since chromem has no cursor API.
func (s *Store) Scan(ctx context.Context, batchSize int, fn func(records []*core.EmbeddingRecord) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}

	records, err := s.all(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(records))
		if err := fn(records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// all lists every record by querying with a unit axis vector for all documents.
func (s *Store) all(ctx context.Context) ([]*core.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLocked(ctx)
}

func (s *Store) allLocked(ctx context.Context) ([]*core.EmbeddingRecord, error) {
	count := s.records.Count()
	if count == 0 || s.dim == 0 {
		return nil, nil
	}
	axis := make([]float32, s.dim)
	axis[0] = 1

	hits, err := s.records.QueryEmbedding(ctx, axis, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem scan failed: %w", err)
	}

	records := make([]*core.EmbeddingRecord, 0, len(hits))
	for _, hit := range hits {
		records = append(records, fromDocument(hit.ID, hit.Content, hit.Metadata, slices.Clone(hit.Embedding)))
	}
	slices.SortFunc(records, func(a, b *core.EmbeddingRecord) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return records, nil
}

// Export writes the collection to a gob file, gzip-compressed if compress is set.
func (s *Store) Export(path string, compress bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.ExportToFile(path, compress, "", s.collection, s.collection+metaSuffix); err != nil {
		return fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	return nil
}

// Import replaces the collection with the one stored in an exported file.
func (s *Store) Import(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.ImportFromFile(path, "", s.collection, s.collection+metaSuffix); err != nil {
		return fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	if err := s.attach(); err != nil {
		return err
	}

	// keep new sequences above the imported ones
	records, err := s.allLocked(context.Background())
	if err != nil {
		return err
	}
	for _, record := range records {
		s.lastSeq = max(s.lastSeq, record.Seq)
	}
	return nil
}

func toMetadata(record *core.EmbeddingRecord) map[string]string {
	c := &record.Chunk
	return map[string]string{
		keyDocumentID: c.DocumentID,
		keySource:     c.Source,
		keyIndex:      strconv.Itoa(c.Index),
		keyStart:      strconv.Itoa(c.Start),
		keyEnd:        strconv.Itoa(c.End),
		keySpeaker:    c.Speaker,
		keyModerator:  strconv.FormatBool(c.IsModerator),
		keyGender:     c.Demographics.Gender,
		keyAgeRange:   c.Demographics.AgeRange,
		keyAgeLow:     strconv.Itoa(c.Demographics.AgeLow),
		keyAgeHigh:    strconv.Itoa(c.Demographics.AgeHigh),
		keySite:       c.Demographics.Site,
		keyTimestamp:  c.Timestamp,
		keyHash:       strconv.FormatUint(uint64(c.Hash), 10),
		keySeq:        strconv.FormatUint(record.Seq, 10),
		keyIndexedAt:  record.IndexedAt.Format(time.RFC3339Nano),
	}
}

func fromDocument(id, content string, m map[string]string, vector []float32) *core.EmbeddingRecord {
	indexedAt, _ := time.Parse(time.RFC3339Nano, m[keyIndexedAt])
	moderator, _ := strconv.ParseBool(m[keyModerator])
	return &core.EmbeddingRecord{
		Chunk: core.Chunk{
			ID:          id,
			DocumentID:  m[keyDocumentID],
			Source:      m[keySource],
			Index:       parseInt(m[keyIndex]),
			Text:        content,
			Start:       parseInt(m[keyStart]),
			End:         parseInt(m[keyEnd]),
			Speaker:     m[keySpeaker],
			IsModerator: moderator,
			Demographics: core.Demographics{
				Gender:   m[keyGender],
				AgeRange: m[keyAgeRange],
				AgeLow:   parseInt(m[keyAgeLow]),
				AgeHigh:  parseInt(m[keyAgeHigh]),
				Site:     m[keySite],
			},
			Timestamp: m[keyTimestamp],
			Hash:      core.ID(parseUint(m[keyHash])),
		},
		Vector:    vector,
		Seq:       parseUint(m[keySeq]),
		IndexedAt: indexedAt,
	}
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
