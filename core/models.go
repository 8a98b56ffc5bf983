package core

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Unknown is the placeholder used for speaker and demographic fields that
// could not be parsed from a transcript.
const Unknown = "unknown"

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ContentHash returns the stable hash of a chunk's speaker and text.
// Two chunks with the same speaker label and text always hash identically.
func ContentHash(speaker, text string) ID {
	return IDFromContent(speaker + "\x00" + text)
}

// ChunkID returns the positional identifier of the index-th chunk of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%04d", documentID, index)
}

// Document is a source text and the chunks produced from it.
type Document struct {
	ID     string
	Source string // path or URI the text was read from
	Text   string
	Chunks []Chunk
}

// Demographics describes a transcript participant.
type Demographics struct {
	Gender   string // gender token as written in the transcript, e.g. "F"
	AgeRange string // age-range token as written, e.g. "25-34"
	AgeLow   int
	AgeHigh  int
	Site     string // optional site or market code, e.g. "NYC"
}

// UnknownDemographics returns the descriptor for participants without a header.
func UnknownDemographics() Demographics {
	return Demographics{Gender: Unknown, AgeRange: Unknown}
}

// IsUnknown reports whether neither gender nor age range is known.
func (d Demographics) IsUnknown() bool {
	return (d.Gender == "" || d.Gender == Unknown) && (d.AgeRange == "" || d.AgeRange == Unknown)
}

// String renders the descriptor as "F, 25-34" or "unknown".
func (d Demographics) String() string {
	if d.IsUnknown() {
		return Unknown
	}
	gender, ageRange := d.Gender, d.AgeRange
	if gender == "" {
		gender = Unknown
	}
	if ageRange == "" {
		ageRange = Unknown
	}
	return gender + ", " + ageRange
}

// Chunk is a retrievable unit of document text.
// Text is always doc.Text[Start:End] of the owning document.
type Chunk struct {
	ID           string
	DocumentID   string
	Source       string
	Index        int // position within the document
	Text         string
	Start        int // byte offset, inclusive
	End          int // byte offset, exclusive
	Speaker      string
	IsModerator  bool
	Demographics Demographics
	Timestamp    string // transcript timestamp token, if the header carried one
	Hash         ID
}

// EmbeddingRecord is a chunk with its embedding as held by a vector store.
type EmbeddingRecord struct {
	Chunk     Chunk
	Vector    []float32
	Seq       uint64    // corpus insertion order, assigned by the store
	IndexedAt time.Time // when the record was last written
}

// RetrievalResult is a ranked hit for a query.
type RetrievalResult struct {
	Chunk Chunk
	Score float32 // similarity in [0,1]
	Rank  int     // 1-based position after ranking
	Seq   uint64  // insertion order of the underlying record
}

// Location points at the span of a document a quote came from.
type Location struct {
	DocumentID string
	Source     string
	Start      int
	End        int
}

// Location returns the span of the owning document the chunk covers.
func (c Chunk) Location() Location {
	return Location{DocumentID: c.DocumentID, Source: c.Source, Start: c.Start, End: c.End}
}

// String renders the location as "<file>:<offset>".
func (l Location) String() string {
	name := l.DocumentID
	if l.Source != "" {
		name = filepath.Base(l.Source)
	}
	return fmt.Sprintf("%s:%d", name, l.Start)
}

// Verbatim is an attributed quotation extracted from a single chunk.
type Verbatim struct {
	Quote        string
	Speaker      string
	Demographics Demographics
	Location     Location
	Score        float32
	ChunkID      string
	Timestamp    string
	WordCount    int
}
