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

// Package search provides thresholded similarity retrieval over a vector store.
//
// The Retriever embeds a query once, asks the store for an oversampled
// candidate set, drops candidates below the score floor and ranks the rest:
//   - descending similarity score
//   - then ascending corpus insertion order
//   - then ascending chunk offset
//
// The ranking is deterministic for a fixed store state. A query that clears no
// candidate yields an empty result, not an error.
package search
