package search

import (
	"github.com/poiesic/verbatim/core"
)

// SearchMonitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results during retrieval.
type SearchMonitor interface {
	Start(query string, topK int, minScore float64)
	AfterEmbedding(vector []float32)
	AfterCandidates(candidates []*core.RetrievalResult)
	AfterThreshold(kept []*core.RetrievalResult)
	Finish(results []*core.RetrievalResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int, _ float64)          {}
func (n *noopMonitor) AfterEmbedding(_ []float32)                {}
func (n *noopMonitor) AfterCandidates(_ []*core.RetrievalResult) {}
func (n *noopMonitor) AfterThreshold(_ []*core.RetrievalResult)  {}
func (n *noopMonitor) Finish(_ []*core.RetrievalResult)          {}
