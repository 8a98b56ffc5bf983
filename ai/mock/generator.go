package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/verbatim/core"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, returns a summary naming the query and the number of results.
	GenerateFunc func(ctx context.Context, query string, results []*core.RetrievalResult) (string, error)

	mu          sync.Mutex
	callCount   int
	lastQuery   string
	lastResults []*core.RetrievalResult
}

// NewMockGenerator creates a mock generator with default behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate records the call and returns a canned answer.
func (m *MockGenerator) Generate(ctx context.Context, query string, results []*core.RetrievalResult) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastQuery = query
	m.lastResults = results
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, query, results)
	}
	return fmt.Sprintf("answer to %q from %d documents", query, len(results)), nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastCall returns the arguments of the most recent Generate call.
func (m *MockGenerator) LastCall() (string, []*core.RetrievalResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery, m.lastResults
}
