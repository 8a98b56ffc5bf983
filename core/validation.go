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
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength is the longest accepted query, in characters.
const MaxQueryLength = 10000

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//   - 0 <= Start <= End
//   - End - Start equals the byte length of Text
//
// NOT validated:
//   - Hash (computed by the chunker)
//   - Demographics (unknown is a valid value)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	if chunk.Start < 0 || chunk.End < chunk.Start || chunk.End-chunk.Start != len(chunk.Text) {
		return fmt.Errorf("%w: %w: [%d,%d) for %d bytes", ErrInvalidChunk, ErrInvalidOffsets,
			chunk.Start, chunk.End, len(chunk.Text))
	}

	return nil
}

// ValidateRecord validates an EmbeddingRecord before it is written to a store.
func ValidateRecord(record *EmbeddingRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if record.Chunk.ID == "" {
		return fmt.Errorf("%w: chunk id is empty", ErrInvalidRecord)
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyVector)
	}
	if err := ValidateChunk(&record.Chunk); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

// ValidateQuery checks that a query is non-blank and at most MaxQueryLength characters.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyQuery)
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return fmt.Errorf("%w: %w: %d characters (max %d)", ErrValidation, ErrQueryTooLong, n, MaxQueryLength)
	}
	return nil
}

// ValidateTopK checks 1 <= topK <= maxTopK.
func ValidateTopK(topK, maxTopK int) error {
	if topK < 1 || topK > maxTopK {
		return fmt.Errorf("%w: %w: %d not in [1, %d]", ErrValidation, ErrInvalidTopK, topK, maxTopK)
	}
	return nil
}

// ValidateMinScore checks 0 <= minScore <= 1.
func ValidateMinScore(minScore float64) error {
	// NaN fails both comparisons, so test the accepted range directly.
	if !(minScore >= 0 && minScore <= 1) {
		return fmt.Errorf("%w: %w: %v", ErrValidation, ErrInvalidMinScore, minScore)
	}
	return nil
}

// ValidateLengthBounds checks 0 <= minLength <= maxLength.
func ValidateLengthBounds(minLength, maxLength int) error {
	if minLength < 0 || maxLength < 0 || minLength > maxLength {
		return fmt.Errorf("%w: %w: min %d, max %d", ErrValidation, ErrInvalidLengthBounds, minLength, maxLength)
	}
	return nil
}
