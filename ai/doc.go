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

// Package ai provides abstractions for AI services used by verbatim.
//
// Two services are defined:
//
//   - Embedder: Generates vector embeddings from text
//   - Generator: Answers a query from retrieved transcript chunks
//
// AIProvider aggregates both for convenient initialization.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors in ai/openai return interface types. The mocks return
// concrete types so tests can inject behavior and inspect call counts.
//
// # Errors
//
// Implementations wrap failures with core.Transient or core.Permanent so callers
// can decide whether a retry is worthwhile.
package ai
