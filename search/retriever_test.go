package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/verbatim/ai/mock"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/storage"
	"github.com/poiesic/verbatim/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vectors maps chunk text to a fixed embedding; the query "q" embeds as {1, 0}.
var vectors = map[string][]float32{
	"q":         {1, 0},
	"exact":     {1, 0},
	"close":     {0.9, 0.1},
	"near":      {0.7, 0.3},
	"far":       {0.1, 0.9},
	"unrelated": {0, 1},
}

func fixedEmbedder() *mock.MockEmbedder {
	return mock.NewMockEmbedder().WithEmbedTextFunc(func(_ context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return []float32{0.5, 0.5}, nil
	})
}

func record(index int, text string, start int, vector []float32) *core.EmbeddingRecord {
	return &core.EmbeddingRecord{
		Chunk: core.Chunk{
			ID:           core.ChunkID("doc", index),
			DocumentID:   "doc",
			Index:        index,
			Text:         text,
			Start:        start,
			End:          start + len(text),
			Speaker:      core.Unknown,
			Demographics: core.UnknownDemographics(),
			Hash:         core.ContentHash(core.Unknown, text),
		},
		Vector: vector,
	}
}

func populatedStore(t *testing.T, texts ...string) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore("test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	offset := 0
	for i, text := range texts {
		require.NoError(t, store.Upsert(context.Background(), record(i, text, offset, vectors[text])))
		offset += len(text) + 1
	}
	return store
}

func newTestRetriever(t *testing.T, store storage.VectorStore, opts ...Option) *Retriever {
	t.Helper()
	opts = append([]Option{WithRetry(2, time.Millisecond)}, opts...)
	r, err := NewRetriever(store, fixedEmbedder(), opts...)
	require.NoError(t, err)
	return r
}

func resultTexts(results []*core.RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}

func TestNewRetriever(t *testing.T) {
	store := populatedStore(t)

	_, err := NewRetriever(nil, fixedEmbedder())
	assert.ErrorIs(t, err, ErrVectorStoreRequired)

	_, err = NewRetriever(store, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewRetriever(store, fixedEmbedder(), WithOversample(0))
	assert.ErrorIs(t, err, ErrInvalidOversample)

	r, err := NewRetriever(store, fixedEmbedder())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTopK, r.MaxTopK())
}

func TestRetrieve_RanksByScore(t *testing.T) {
	store := populatedStore(t, "far", "near", "exact", "unrelated", "close")
	r := newTestRetriever(t, store)

	results, err := r.Retrieve(context.Background(), "q", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "close", "near"}, resultTexts(results))
	for i, result := range results {
		assert.Equal(t, i+1, result.Rank)
	}
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestRetrieve_MinScoreThreshold(t *testing.T) {
	store := populatedStore(t, "far", "near", "exact", "unrelated", "close")
	r := newTestRetriever(t, store)

	results, err := r.Retrieve(context.Background(), "q", 10, 0.95)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "close"}, resultTexts(results))
	for _, result := range results {
		assert.GreaterOrEqual(t, result.Score, float32(0.95))
	}
}

func TestRetrieve_NothingClearsThreshold(t *testing.T) {
	store := populatedStore(t, "unrelated")
	r := newTestRetriever(t, store)

	results, err := r.Retrieve(context.Background(), "q", 5, 0.5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieve_EmptyStore(t *testing.T) {
	r := newTestRetriever(t, populatedStore(t))

	results, err := r.Retrieve(context.Background(), "q", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_TiesBreakByInsertionOrder(t *testing.T) {
	store := populatedStore(t)
	ctx := context.Background()
	for i := range 4 {
		require.NoError(t, store.Upsert(ctx, record(i, fmt.Sprintf("tie %d", i), (4-i)*10, []float32{1, 0})))
	}
	r := newTestRetriever(t, store)

	results, err := r.Retrieve(ctx, "q", 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"tie 0", "tie 1", "tie 2", "tie 3"}, resultTexts(results))
}

func TestRetrieve_ValidatesArguments(t *testing.T) {
	r := newTestRetriever(t, populatedStore(t, "exact"))
	ctx := context.Background()

	tests := []struct {
		name     string
		query    string
		topK     int
		minScore float64
	}{
		{"zero top_k", "q", 0, 0.1},
		{"top_k above max", "q", DefaultMaxTopK + 1, 0.1},
		{"negative min_score", "q", 5, -0.1},
		{"min_score above one", "q", 5, 1.5},
		{"blank query", "   ", 5, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Retrieve(ctx, tt.query, tt.topK, tt.minScore)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestRetrieve_EmbedderFailures(t *testing.T) {
	store := populatedStore(t, "exact")
	ctx := context.Background()

	t.Run("permanent is not retried", func(t *testing.T) {
		embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
			return nil, core.Permanent(errors.New("401 unauthorized"))
		})
		r, err := NewRetriever(store, embedder, WithRetry(3, time.Millisecond))
		require.NoError(t, err)

		_, err = r.Retrieve(ctx, "q", 5, 0)
		assert.ErrorIs(t, err, core.ErrPermanent)
		assert.Equal(t, 1, embedder.CallCount())
	})

	t.Run("transient is retried", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
			if embedder.CallCount() == 1 {
				return nil, core.Transient(errors.New("429 too many requests"))
			}
			return []float32{1, 0}, nil
		})
		r, err := NewRetriever(store, embedder, WithRetry(3, time.Millisecond))
		require.NoError(t, err)

		results, err := r.Retrieve(ctx, "q", 5, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1)
		assert.Equal(t, 2, embedder.CallCount())
	})
}

// stubStore returns canned candidates and records the requested limit.
type stubStore struct {
	storage.VectorStore
	candidates []*core.RetrievalResult
	limit      int
}

func (s *stubStore) Query(_ context.Context, _ []float32, limit int, _ float32) ([]*core.RetrievalResult, error) {
	s.limit = limit
	return s.candidates, nil
}

func TestRetrieve_OversamplesAndBreaksTiesByOffset(t *testing.T) {
	hit := func(text string, score float32, seq uint64, start int) *core.RetrievalResult {
		return &core.RetrievalResult{Chunk: core.Chunk{Text: text, Start: start}, Score: score, Seq: seq}
	}
	store := &stubStore{candidates: []*core.RetrievalResult{
		hit("late offset", 0.8, 7, 50),
		hit("below floor", 0.2, 1, 0),
		hit("early offset", 0.8, 7, 10),
		hit("best", 0.95, 9, 0),
		hit("earlier seq", 0.8, 3, 90),
	}}
	r := newTestRetriever(t, store, WithOversample(3))

	results, err := r.Retrieve(context.Background(), "q", 3, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 9, store.limit)
	assert.Equal(t, []string{"best", "earlier seq", "early offset"}, resultTexts(results))
}

type recordingMonitor struct {
	stages []string
	final  []*core.RetrievalResult
}

func (m *recordingMonitor) Start(string, int, float64) { m.stages = append(m.stages, "start") }
func (m *recordingMonitor) AfterEmbedding([]float32)   { m.stages = append(m.stages, "embedding") }
func (m *recordingMonitor) AfterCandidates([]*core.RetrievalResult) {
	m.stages = append(m.stages, "candidates")
}
func (m *recordingMonitor) AfterThreshold([]*core.RetrievalResult) {
	m.stages = append(m.stages, "threshold")
}
func (m *recordingMonitor) Finish(results []*core.RetrievalResult) {
	m.stages = append(m.stages, "finish")
	m.final = results
}

func TestRetrieveWithMonitor(t *testing.T) {
	r := newTestRetriever(t, populatedStore(t, "exact", "close"))
	monitor := &recordingMonitor{}

	results, err := r.RetrieveWithMonitor(context.Background(), "q", 1, 0, monitor)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "embedding", "candidates", "threshold", "finish"}, monitor.stages)
	assert.Equal(t, results, monitor.final)
}
