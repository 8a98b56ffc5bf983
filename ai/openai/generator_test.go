package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/verbatim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel records the last request and replies with a canned response.
type fakeModel struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	response *llms.ContentResponse
	err      error
	calls    int
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}
	return f.response, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func sampleResults() []*core.RetrievalResult {
	return []*core.RetrievalResult{
		{Chunk: core.Chunk{Text: "I love the new flavor.", Source: "/t/session1.txt"}, Score: 0.91, Rank: 1},
	}
}

func TestGenerator_Generate(t *testing.T) {
	model := &fakeModel{response: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "Participants liked the flavor (Document 1)."}},
	}}
	g := newGeneratorFromModel(model, 0.7, 2000)

	answer, err := g.Generate(context.Background(), "what do they think of the flavor?", sampleResults())
	require.NoError(t, err)
	assert.Equal(t, "Participants liked the flavor (Document 1).", answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	human := model.messages[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, human, "Document 1 [Source: session1.txt] (Relevance: 0.910)")
	assert.Contains(t, human, "Query: what do they think of the flavor?")

	assert.Equal(t, 0.7, model.options.Temperature)
	assert.Equal(t, 2000, model.options.MaxTokens)
}

func TestGenerator_BlankContextSkipsModel(t *testing.T) {
	model := &fakeModel{}
	g := newGeneratorFromModel(model, 0.7, 2000)

	answer, err := g.Generate(context.Background(), "anything", []*core.RetrievalResult{{Chunk: core.Chunk{Text: " "}}})
	require.NoError(t, err)
	assert.Equal(t, NoReadableContext, answer)
	assert.Zero(t, model.calls)
}

func TestGenerator_Errors(t *testing.T) {
	t.Run("no choices is transient", func(t *testing.T) {
		g := newGeneratorFromModel(&fakeModel{response: &llms.ContentResponse{}}, 0.7, 10)
		_, err := g.Generate(context.Background(), "q", sampleResults())
		assert.ErrorIs(t, err, core.ErrTransient)
	})

	t.Run("auth failure is permanent", func(t *testing.T) {
		g := newGeneratorFromModel(&fakeModel{err: errors.New("invalid api key")}, 0.7, 10)
		_, err := g.Generate(context.Background(), "q", sampleResults())
		assert.ErrorIs(t, err, core.ErrPermanent)
	})
}
