package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/verbatim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, opts ...Option) *Chunker {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

// requireWellFormed checks the offset and identity invariants of every chunk.
func requireWellFormed(t *testing.T, doc *core.Document, chunks []core.Chunk) {
	t.Helper()
	prevEnd := 0
	for i, chunk := range chunks {
		require.NoError(t, core.ValidateChunk(&chunk))
		assert.Equal(t, doc.Text[chunk.Start:chunk.End], chunk.Text)
		assert.Equal(t, strings.TrimSpace(chunk.Text), chunk.Text)
		assert.GreaterOrEqual(t, chunk.Start, prevEnd, "chunk %d overlaps its predecessor", i)
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, core.ChunkID(doc.ID, i), chunk.ID)
		assert.Equal(t, core.ContentHash(chunk.Speaker, chunk.Text), chunk.Hash)
		assert.Equal(t, doc.ID, chunk.DocumentID)
		prevEnd = chunk.End
	}
}

func texts(chunks []core.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestNew_InvalidChunkSize(t *testing.T) {
	_, err := New(WithMaxChunkSize(0))
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := newTestChunker(t)
	assert.Empty(t, c.Chunk(&core.Document{ID: "doc", Text: ""}))
	assert.Empty(t, c.Chunk(&core.Document{ID: "doc", Text: " \n\t\n "}))
	assert.Empty(t, c.Chunk(nil))
}

func TestChunk_HeaderlessDocument(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Source: "/tmp/notes.txt", Text: "  Just some notes about the session.\n"}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	requireWellFormed(t, doc, chunks)

	assert.Equal(t, "Just some notes about the session.", chunks[0].Text)
	assert.Equal(t, core.Unknown, chunks[0].Speaker)
	assert.True(t, chunks[0].Demographics.IsUnknown())
	assert.False(t, chunks[0].IsModerator)
	assert.Equal(t, "/tmp/notes.txt", chunks[0].Source)
}

func TestChunk_DemographicHeaders(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Moderator: Welcome everyone.\n" +
		"Alice (F, 25-34): I love basketball.\n" +
		"Bob (M, 35 - 44): Me too, mostly on weekends.\n"}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 3)
	requireWellFormed(t, doc, chunks)

	assert.Equal(t, "Moderator", chunks[0].Speaker)
	assert.True(t, chunks[0].IsModerator)
	assert.Equal(t, "Welcome everyone.", chunks[0].Text)

	assert.Equal(t, "Alice", chunks[1].Speaker)
	assert.False(t, chunks[1].IsModerator)
	assert.Equal(t, "I love basketball.", chunks[1].Text)
	assert.Equal(t, core.Demographics{Gender: "F", AgeRange: "25-34", AgeLow: 25, AgeHigh: 34}, chunks[1].Demographics)

	assert.Equal(t, "Bob", chunks[2].Speaker)
	assert.Equal(t, "35-44", chunks[2].Demographics.AgeRange)
	assert.Equal(t, 35, chunks[2].Demographics.AgeLow)
	assert.Equal(t, 44, chunks[2].Demographics.AgeHigh)
}

func TestChunk_ExportHeader(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Jane Smith, F, 18-24, NYC [00:12:45]: The price was the main thing for me.\n"}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	requireWellFormed(t, doc, chunks)

	chunk := chunks[0]
	assert.Equal(t, "Jane Smith", chunk.Speaker)
	assert.Equal(t, "00:12:45", chunk.Timestamp)
	assert.Equal(t, core.Demographics{Gender: "F", AgeRange: "18-24", AgeLow: 18, AgeHigh: 24, Site: "NYC"}, chunk.Demographics)
	assert.Equal(t, "The price was the main thing for me.", chunk.Text)
}

func TestChunk_TimestampHeader(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Interviewer [00:01:10]: What do you think?\nParticipant 3 [00:01:15]: Honestly, it was fine."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 2)
	requireWellFormed(t, doc, chunks)

	assert.Equal(t, "Interviewer", chunks[0].Speaker)
	assert.True(t, chunks[0].IsModerator)
	assert.Equal(t, "00:01:10", chunks[0].Timestamp)
	assert.Equal(t, "Participant 3", chunks[1].Speaker)
	assert.Equal(t, "Honestly, it was fine.", chunks[1].Text)
	assert.True(t, chunks[1].Demographics.IsUnknown())
}

func TestChunk_PreambleIsUnknown(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Session 4, recorded in March.\n\nAlice (F, 25-34): Hello there."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 2)
	requireWellFormed(t, doc, chunks)

	assert.Equal(t, core.Unknown, chunks[0].Speaker)
	assert.Equal(t, "Session 4, recorded in March.", chunks[0].Text)
	assert.Equal(t, "Alice", chunks[1].Speaker)
}

func TestChunk_MultilineTurnSplitsAtParagraphs(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Alice (F, 25-34):\nFirst paragraph\ncontinues here.\n\n  Second paragraph.\nBob: Short reply."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 3)
	requireWellFormed(t, doc, chunks)

	assert.Equal(t, []string{"First paragraph\ncontinues here.", "Second paragraph.", "Short reply."}, texts(chunks))
	assert.Equal(t, "Alice", chunks[1].Speaker)
	assert.Equal(t, "Bob", chunks[2].Speaker)
}

func TestChunk_SentenceSplitting(t *testing.T) {
	c := newTestChunker(t, WithMaxChunkSize(40))
	doc := &core.Document{ID: "doc", Text: "Alice: First sentence is here. Second sentence is here too. Third one."}

	chunks := c.Chunk(doc)
	requireWellFormed(t, doc, chunks)
	assert.Equal(t, []string{"First sentence is here.", "Second sentence is here too. Third one."}, texts(chunks))
	for _, chunk := range chunks {
		assert.Equal(t, "Alice", chunk.Speaker)
	}
}

func TestChunk_OversizeSentenceSplitsAtWhitespace(t *testing.T) {
	c := newTestChunker(t, WithMaxChunkSize(10))
	doc := &core.Document{ID: "doc", Text: "alpha beta gamma delta"}

	chunks := c.Chunk(doc)
	requireWellFormed(t, doc, chunks)
	assert.Equal(t, []string{"alpha beta", "gamma", "delta"}, texts(chunks))
}

func TestChunk_OversizeWordIsHardSplit(t *testing.T) {
	c := newTestChunker(t, WithMaxChunkSize(5))
	doc := &core.Document{ID: "doc", Text: "abcdefghijklmnop"}

	chunks := c.Chunk(doc)
	requireWellFormed(t, doc, chunks)
	assert.Equal(t, []string{"abcde", "fghij", "klmno", "p"}, texts(chunks))
}

func TestChunk_RespectsMaxSizeWithUnicode(t *testing.T) {
	c := newTestChunker(t, WithMaxChunkSize(30))
	text := strings.Repeat("Ça coûte très cher à Zürich. ", 20)
	doc := &core.Document{ID: "doc", Text: "Élodie (F, 25-34): " + text}

	chunks := c.Chunk(doc)
	require.NotEmpty(t, chunks)
	requireWellFormed(t, doc, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 30)
		assert.Equal(t, "Élodie", chunk.Speaker)
	}
}

func TestChunk_PointAgeBecomesRange(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Alice (F, 29): I prefer tea."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.Demographics{Gender: "F", AgeRange: "29", AgeLow: 29, AgeHigh: 29}, chunks[0].Demographics)
}

func TestChunk_MalformedAgeRangeDegrades(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Alice (F, thirties): I prefer tea."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Alice", chunks[0].Speaker)
	assert.Equal(t, "F", chunks[0].Demographics.Gender)
	assert.Equal(t, "thirties", chunks[0].Demographics.AgeRange)
	assert.Zero(t, chunks[0].Demographics.AgeLow)
	assert.Zero(t, chunks[0].Demographics.AgeHigh)
}

func TestChunk_ProseIsNotAHeader(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "She told me something surprising: it was cheap.\nSee http://example.com for details."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.Unknown, chunks[0].Speaker)
	assert.Equal(t, strings.TrimSpace(doc.Text), chunks[0].Text)

	doc = &core.Document{ID: "doc", Text: "Alice (F, 25-34): I asked again.\nI told her: yes, I would buy it.\nmy answer: maybe later."}
	chunks = c.Chunk(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Alice", chunks[0].Speaker)
	assert.Equal(t, "I asked again.\nI told her: yes, I would buy it.\nmy answer: maybe later.", chunks[0].Text)
}

func TestChunk_LabelHeaders(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Speaker 2: First.\nJane Smith: Second.\nP3: Third."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"Speaker 2", "Jane Smith", "P3"},
		[]string{chunks[0].Speaker, chunks[1].Speaker, chunks[2].Speaker})
}

func TestChunk_Deterministic(t *testing.T) {
	c := newTestChunker(t)
	doc := &core.Document{ID: "doc", Text: "Moderator: Hi.\nAlice (F, 25-34): Hello.\n"}

	assert.Equal(t, c.Chunk(doc), c.Chunk(doc))
}

func TestIsModerator(t *testing.T) {
	c := newTestChunker(t)

	tests := []struct {
		speaker string
		want    bool
	}{
		{"Moderator", true},
		{"moderator", true},
		{"MODERATOR 2", true},
		{"Mod", true},
		{"Mod (Jane)", true},
		{"Facilitator", true},
		{"Interviewer", true},
		{"Modesty", false},
		{"Alice", false},
		{core.Unknown, false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.speaker, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsModerator(tt.speaker))
		})
	}
}

func TestWithModeratorAliases(t *testing.T) {
	c := newTestChunker(t, WithModeratorAliases("Host", " "))
	assert.True(t, c.IsModerator("host"))
	assert.False(t, c.IsModerator("Moderator"))
}
