package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var errNoChoices = errors.New("model returned no choices")

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client      llms.Model
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// newGenerator is an internal constructor that returns the concrete type.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.GeneratorModel),
	)
	if err != nil {
		return nil, err
	}
	return newGeneratorFromModel(client, config.Temperature, config.MaxTokens), nil
}

func newGeneratorFromModel(client llms.Model, temperature float64, maxTokens int) *Generator {
	return &Generator{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      slog.Default().With("component", "openai-generator"),
	}
}

// NewGenerator creates a new answer generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate answers query from the retrieved results.
func (g *Generator) Generate(ctx context.Context, query string, results []*core.RetrievalResult) (string, error) {
	contextText := buildContext(results)
	if contextText == "" {
		g.logger.Warn("retrieved chunks contain no readable text", "results", len(results))
		return NoReadableContext, nil
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildUserPrompt(query, contextText)),
	}

	response, err := g.client.GenerateContent(ctx, content,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", classify(err)
	}
	if len(response.Choices) < 1 {
		g.logger.Debug("no choices returned from model")
		return "", core.Transient(errNoChoices)
	}

	g.logger.Debug("generated answer", "results", len(results), "length", len(response.Choices[0].Content))
	return response.Choices[0].Content, nil
}
