// Package answer composes retrieval with a text generator to answer questions
// from the indexed corpus.
package answer
