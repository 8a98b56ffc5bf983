// Package ingestion writes chunked documents into a vector store.
//
// The Indexer embeds every new or changed chunk and upserts it, skipping chunks
// whose stored copy carries the same content hash. Embedding calls run on a
// bounded ants worker pool, optionally throttled by a token-bucket limiter, and
// transient embedder failures are retried with exponential backoff.
//
// Each chunk's upsert is independent: a failed chunk is recorded in the Report
// and never affects chunks already written.
package ingestion
