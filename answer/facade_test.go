package answer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/verbatim/ai/mock"
	"github.com/poiesic/verbatim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	results  []*core.RetrievalResult
	err      error
	topK     int
	minScore float64
	calls    int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, topK int, minScore float64) ([]*core.RetrievalResult, error) {
	s.calls++
	s.topK, s.minScore = topK, minScore
	return s.results, s.err
}

func sources() []*core.RetrievalResult {
	return []*core.RetrievalResult{
		{Chunk: core.Chunk{Text: "I love basketball.", Source: "/data/a.txt"}, Score: 0.9, Rank: 1},
		{Chunk: core.Chunk{Text: "Price matters.", Source: "/data/b.txt"}, Score: 0.7, Rank: 2},
	}
}

func TestNewFacade(t *testing.T) {
	_, err := NewFacade(nil, mock.NewMockGenerator())
	assert.ErrorIs(t, err, ErrRetrieverRequired)

	_, err = NewFacade(&stubRetriever{}, nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
}

func TestAnswer_ReturnsGeneratedText(t *testing.T) {
	retriever := &stubRetriever{results: sources()}
	generator := mock.NewMockGenerator()
	f, err := NewFacade(retriever, generator)
	require.NoError(t, err)

	answer, err := f.Answer(context.Background(), "What sports do people like?")
	require.NoError(t, err)
	assert.Equal(t, `answer to "What sports do people like?" from 2 documents`, answer.Text)
	assert.Equal(t, "What sports do people like?", answer.Query)
	assert.Len(t, answer.Sources, 2)

	assert.Equal(t, DefaultTopK, retriever.topK)
	assert.InDelta(t, DefaultMinScore, retriever.minScore, 1e-9)

	query, results := generator.LastCall()
	assert.Equal(t, "What sports do people like?", query)
	assert.Equal(t, retriever.results, results)
}

func TestAnswer_NoContextSkipsGenerator(t *testing.T) {
	generator := mock.NewMockGenerator()
	f, err := NewFacade(&stubRetriever{results: []*core.RetrievalResult{}}, generator)
	require.NoError(t, err)

	answer, err := f.Answer(context.Background(), "anything?")
	require.NoError(t, err)
	assert.Equal(t, NoInformation, answer.Text)
	assert.Zero(t, generator.CallCount())
}

func TestAnswer_InvalidQuery(t *testing.T) {
	retriever := &stubRetriever{}
	f, err := NewFacade(retriever, mock.NewMockGenerator())
	require.NoError(t, err)

	_, err = f.Answer(context.Background(), "   ")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Zero(t, retriever.calls)
}

func TestAnswer_Options(t *testing.T) {
	retriever := &stubRetriever{results: sources()}
	f, err := NewFacade(retriever, mock.NewMockGenerator(), WithTopK(3), WithMinScore(0.4))
	require.NoError(t, err)

	_, err = f.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 3, retriever.topK)
	assert.InDelta(t, 0.4, retriever.minScore, 1e-9)
}

func TestAnswer_RetrieverErrorPropagates(t *testing.T) {
	f, err := NewFacade(&stubRetriever{err: core.ErrValidation}, mock.NewMockGenerator())
	require.NoError(t, err)

	_, err = f.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestAnswer_GeneratorRetries(t *testing.T) {
	generator := mock.NewMockGenerator()
	generator.GenerateFunc = func(context.Context, string, []*core.RetrievalResult) (string, error) {
		if generator.CallCount() < 2 {
			return "", core.Transient(errors.New("timeout"))
		}
		return "final answer", nil
	}
	f, err := NewFacade(&stubRetriever{results: sources()}, generator, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	answer, err := f.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "final answer", answer.Text)
	assert.Equal(t, 2, generator.CallCount())
}

func TestAnswer_GeneratorPermanentFailure(t *testing.T) {
	generator := mock.NewMockGenerator()
	generator.GenerateFunc = func(context.Context, string, []*core.RetrievalResult) (string, error) {
		return "", core.Permanent(errors.New("invalid api key"))
	}
	f, err := NewFacade(&stubRetriever{results: sources()}, generator, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = f.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, core.ErrPermanent)
	assert.Equal(t, 1, generator.CallCount())
}
