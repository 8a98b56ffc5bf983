// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage defines the vector store abstraction used by the indexer
// and the retriever.
//
// A VectorStore holds one EmbeddingRecord per chunk ID for a named collection.
// Two backends live in subpackages:
//
//   - badger: BadgerDB with brute-force cosine scan, the default
//   - chromem: chromem-go collections, optionally persisted to disk
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore("test")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer store.Close()
//
// # Ordering
//
// Every record carries an insertion sequence (Seq). Replacing a record keeps
// its original Seq, so ties in similarity resolve the same way across runs.
//
// # Thread Safety
//
// All store implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
