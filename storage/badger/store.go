package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
)

// Store implements storage.ScanStore for one collection of a BadgerDB database.
// Queries are a brute-force cosine scan over every record.
type Store struct {
	backend     *Backend
	collection  string
	seq         *badger.Sequence
	ownsBackend bool
	logger      *slog.Logger

	// writes are serialized so the dimension check and sequence
	// assignment of concurrent upserts cannot conflict
	mu sync.Mutex
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

// ErrCollectionRequired is returned when the collection name is empty.
var ErrCollectionRequired = errors.New("collection name is required")

// NewStore creates a Store for the named collection on an open backend.
// The caller keeps ownership of the backend.
func NewStore(backend *Backend, collection string, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if collection == "" {
		return nil, ErrCollectionRequired
	}

	s := &Store{
		backend:    backend,
		collection: collection,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "badger-store", "collection", collection)

	seq, err := backend.GetSequence(makeSequenceName(collection))
	if err != nil {
		return nil, err
	}
	s.seq = seq
	return s, nil
}

// Open opens (or creates) a database directory and returns a Store for the
// named collection. Closing the Store closes the database.
func Open(path, collection string, opts ...Option) (*Store, error) {
	settings := &Store{}
	for _, opt := range opts {
		if err := opt(settings); err != nil {
			return nil, err
		}
	}

	backend, err := OpenBackend(path, false, settings.logger)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(backend, collection, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.ownsBackend = true
	return s, nil
}

// Close releases the sequence and, if the store opened it, the database.
func (s *Store) Close() error {
	err := s.seq.Release()
	if s.ownsBackend {
		err = errors.Join(err, s.backend.Close())
	}
	return err
}

// Collection returns the collection name.
func (s *Store) Collection() string {
	return s.collection
}

// Upsert writes a record, keeping the original sequence of a replaced record.
func (s *Store) Upsert(ctx context.Context, record *core.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateRecord(record); err != nil {
		return err
	}
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.WithTx(func(tx *badger.Txn) error {
		dim, err := s.readDimension(tx)
		if err != nil {
			return err
		}
		switch {
		case dim == 0:
			if err := tx.Set(makeDimensionKey(s.collection), storage.MarshalInt(len(record.Vector))); err != nil {
				return err
			}
		case dim != len(record.Vector):
			return fmt.Errorf("%w: collection %q has dimension %d, got %d",
				storage.ErrDimensionMismatch, s.collection, dim, len(record.Vector))
		}

		key := makeRecordKey(s.collection, record.Chunk.ID)
		old, err := readRecord(tx, key)
		if err != nil {
			return err
		}
		if old != nil {
			record.Seq = old.Seq
		} else {
			seq, err := s.nextSeq()
			if err != nil {
				return err
			}
			record.Seq = seq
			if err := tx.Set(makeOrderKey(s.collection, seq), []byte(record.Chunk.ID)); err != nil {
				return err
			}
		}
		record.IndexedAt = time.Now().UTC()

		if err := tx.Set(key, storage.MarshalRecord(record)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get retrieves a record by chunk ID.
func (s *Store) Get(ctx context.Context, chunkID string) (*core.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result *core.EmbeddingRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRecord(tx, makeRecordKey(s.collection, chunkID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// Query scores every record against vector and returns the best matches.
func (s *Store) Query(ctx context.Context, vector []float32, limit int, minScore float32) ([]*core.RetrievalResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}

	results := []*core.RetrievalResult{}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		dim, err := s.readDimension(tx)
		if err != nil {
			return err
		}
		if dim == 0 {
			return nil
		}
		if dim != len(vector) {
			return fmt.Errorf("%w: collection %q has dimension %d, query has %d",
				storage.ErrDimensionMismatch, s.collection, dim, len(vector))
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = collectionPrefix(recordPrefix, s.collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record *core.EmbeddingRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}

			score := storage.CosineSimilarity(vector, record.Vector)
			if score < minScore {
				continue
			}
			results = append(results, &core.RetrievalResult{
				Chunk: record.Chunk,
				Score: score,
				Seq:   record.Seq,
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b *core.RetrievalResult) int {
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
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes records by chunk ID. Missing IDs are ignored.
func (s *Store) Delete(ctx context.Context, chunkIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range chunkIDs {
			key := makeRecordKey(s.collection, id)
			record, err := readRecord(tx, key)
			if err != nil {
				return err
			}
			if record == nil {
				continue
			}
			if err := tx.Delete(makeOrderKey(s.collection, record.Seq)); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// DeleteAll drops every record of the collection and resets its dimension.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.DropPrefix(
		collectionPrefix(recordPrefix, s.collection),
		collectionPrefix(orderPrefix, s.collection),
		makeDimensionKey(s.collection),
	)
	if err != nil {
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
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = collectionPrefix(recordPrefix, s.collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Dimension returns the vector dimension of the collection, or 0 when empty.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var dim int
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		dim, err = s.readDimension(tx)
		return err
	}, false)
	return dim, err
}

// Scan walks the collection in insertion order.
func (s *Store) Scan(ctx context.Context, batchSize int, fn func(records []*core.EmbeddingRecord) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}

	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = collectionPrefix(orderPrefix, s.collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		batch := make([]*core.EmbeddingRecord, 0, batchSize)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunkID, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			record, err := readRecord(tx, makeRecordKey(s.collection, string(chunkID)))
			if err != nil {
				return err
			}
			if record == nil {
				// dangling order entry
				continue
			}
			batch = append(batch, record)
			if len(batch) == batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = make([]*core.EmbeddingRecord, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			return fn(batch)
		}
		return nil
	}, false)
}

func (s *Store) readDimension(tx *badger.Txn) (int, error) {
	item, err := tx.Get(makeDimensionKey(s.collection))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var dim int
	err = item.Value(func(val []byte) error {
		var err error
		dim, err = storage.UnmarshalInt(val)
		return err
	})
	return dim, err
}

func (s *Store) nextSeq() (uint64, error) {
	next, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		return s.seq.Next()
	}
	return next, nil
}

// readRecord returns nil without error when the key is absent.
func readRecord(tx *badger.Txn, key []byte) (*core.EmbeddingRecord, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record *core.EmbeddingRecord
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalRecord(bytes.Clone(val))
		return err
	})
	return record, err
}
