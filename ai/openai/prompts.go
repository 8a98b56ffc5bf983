package openai

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/poiesic/verbatim/core"
)

const systemPrompt = `You are an expert assistant that provides comprehensive, accurate answers based on the provided context documents.

Instructions:
1. Use ONLY information from the provided context documents
2. Provide detailed, well-structured answers
3. When referencing information, cite the document number and source file
4. If the context doesn't contain enough information, clearly state this limitation
5. Synthesize information from multiple sources when relevant
6. Maintain a professional, informative tone
7. If you find contradictory information, acknowledge and explain the discrepancies`

const userPromptTemplate = `Context Documents:

%s

Query: %s

Please provide a comprehensive answer based on the context documents above. Remember to cite specific documents and source files when referencing information.`

// NoReadableContext is returned when every retrieved chunk is blank.
const NoReadableContext = "I found potentially relevant documents, but they appear to contain no readable text content. Please check if the source files are properly formatted."

// buildContext renders the retrieved chunks as numbered documents.
// Blank chunks are skipped and do not consume a number.
func buildContext(results []*core.RetrievalResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r == nil || strings.TrimSpace(r.Chunk.Text) == "" {
			continue
		}
		source := "Unknown"
		if r.Chunk.Source != "" {
			source = filepath.Base(r.Chunk.Source)
		}
		parts = append(parts, fmt.Sprintf("Document %d [Source: %s] (Relevance: %.3f):\n%s",
			len(parts)+1, source, r.Score, r.Chunk.Text))
	}
	return strings.Join(parts, "\n\n")
}

func buildUserPrompt(query, context string) string {
	return fmt.Sprintf(userPromptTemplate, context, query)
}
