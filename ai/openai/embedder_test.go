package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/verbatim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
)

func TestEmbedder_EmbedText(t *testing.T) {
	var seen []string
	client := embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		seen = append(seen, texts...)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(len(texts[i])), 1}
		}
		return out, nil
	})
	e, err := newEmbedderFromClient(client)
	require.NoError(t, err)

	vector, err := e.EmbedText(context.Background(), "line one\nline two")
	require.NoError(t, err)
	assert.Equal(t, []float32{17, 1}, vector)
	assert.Equal(t, []string{"line one line two"}, seen)

	vectors, err := e.EmbedTexts(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}

func TestEmbedder_EmptyResult(t *testing.T) {
	client := embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{}}, nil
	})
	e, err := newEmbedderFromClient(client)
	require.NoError(t, err)

	_, err = e.EmbedText(context.Background(), "text")
	assert.ErrorIs(t, err, core.ErrPermanent)
}

func TestEmbedder_ClassifiesErrors(t *testing.T) {
	client := embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("status code: 503, service unavailable")
	})
	e, err := newEmbedderFromClient(client)
	require.NoError(t, err)

	_, err = e.EmbedText(context.Background(), "text")
	assert.ErrorIs(t, err, core.ErrTransient)
}
