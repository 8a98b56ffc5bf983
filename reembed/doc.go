// Package reembed re-embeds every record of a collection with a new or updated
// embedding model.
//
// Records are read in insertion order through storage.Scanner, embedded in
// batches with retry and exponential backoff, normalized to unit length and
// written back. Chunk metadata and insertion order are preserved. When the new
// model produces vectors of a different dimension the collection is rebuilt
// once every record has been embedded.
package reembed
