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

package core

import (
	"errors"
	"fmt"
)

// Error categories. Every error surfaced by the pipeline wraps at most one of these.
var (
	// ErrValidation indicates malformed input or configuration. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrTransient indicates a network or rate-limit failure of a collaborator.
	ErrTransient = errors.New("transient collaborator failure")

	// ErrPermanent indicates an authentication or malformed-payload failure of a collaborator.
	ErrPermanent = errors.New("permanent collaborator failure")

	// ErrIO indicates a failure writing output.
	ErrIO = errors.New("io failure")
)

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidRecord indicates an EmbeddingRecord failed validation.
	ErrInvalidRecord = errors.New("invalid embedding record")

	// ErrEmptyContent indicates the Text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidOffsets indicates a chunk offset range is inverted or negative.
	ErrInvalidOffsets = errors.New("invalid offset range")

	// ErrEmptyVector indicates a record carries no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrEmptyQuery indicates a blank query string.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrQueryTooLong indicates a query over MaxQueryLength characters.
	ErrQueryTooLong = errors.New("query too long")

	// ErrInvalidTopK indicates top_k outside its allowed range.
	ErrInvalidTopK = errors.New("top_k out of range")

	// ErrInvalidMinScore indicates min_score outside [0,1].
	ErrInvalidMinScore = errors.New("min_score must be between 0 and 1")

	// ErrInvalidLengthBounds indicates negative or inverted quote length bounds.
	ErrInvalidLengthBounds = errors.New("invalid quote length bounds")

	// ErrInvalidDemographicFilter indicates an unparsable participant filter.
	ErrInvalidDemographicFilter = errors.New("invalid demographic filter")

	// ErrInvalidFormat indicates an unknown output format.
	ErrInvalidFormat = errors.New("invalid output format")
)

// Transient marks err as a retryable collaborator failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent marks err as a non-retryable collaborator failure.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsRetryable reports whether err may succeed on a later attempt.
// Validation and permanent failures are never retryable; unclassified errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanent) && !errors.Is(err, ErrValidation)
}
