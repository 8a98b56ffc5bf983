package format

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/verbatim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedWriter(dir string) *ResultWriter {
	w := NewResultWriter(dir)
	w.now = func() time.Time { return time.Date(2025, 3, 1, 14, 22, 33, 0, time.UTC) }
	return w
}

func TestResultWriter_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outputs")
	w := fixedWriter(dir)
	assert.Equal(t, dir, w.Dir())

	record := ExtractionRecord{Query: "packaging", Retrieved: 3, Verbatims: VerbatimRecords(sampleVerbatims())}
	saved, err := w.Save(KindVerbatims, "rendered quotes\n", record)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "verbatims_20250301_142233.txt"), saved.Text)
	assert.Equal(t, filepath.Join(dir, "verbatims_20250301_142233.json"), saved.JSON)

	text, err := os.ReadFile(saved.Text)
	require.NoError(t, err)
	assert.Equal(t, "rendered quotes\n", string(text))

	data, err := os.ReadFile(saved.JSON)
	require.NoError(t, err)
	var decoded struct {
		Timestamp time.Time        `json:"timestamp"`
		Kind      string           `json:"kind"`
		Result    ExtractionRecord `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindVerbatims, decoded.Kind)
	assert.True(t, decoded.Timestamp.Equal(w.now()))
	assert.Equal(t, record, decoded.Result)
	assert.Equal(t, "session1.txt:120", decoded.Result.Verbatims[0].Location)
	assert.Equal(t, "F, 25-34", decoded.Result.Verbatims[0].Demographics)
}

func TestResultWriter_SameSecondDoesNotOverwrite(t *testing.T) {
	w := fixedWriter(t.TempDir())

	first, err := w.Save(KindAnswer, "first", AnswerRecord{Query: "q", Answer: "a"})
	require.NoError(t, err)
	second, err := w.Save(KindAnswer, "second", AnswerRecord{Query: "q", Answer: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, first.JSON, second.JSON)
	assert.Equal(t, filepath.Join(w.Dir(), "answer_20250301_142233_2.txt"), second.Text)

	text, err := os.ReadFile(first.Text)
	require.NoError(t, err)
	assert.Equal(t, "first", string(text))
}

func TestResultWriter_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewResultWriter(file).Save(KindAnswer, "x", AnswerRecord{})
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestSourceRecords(t *testing.T) {
	results := []*core.RetrievalResult{
		{
			Chunk: core.Chunk{
				ID: "doc#0001", Source: "/data/session1.txt", Text: "I love basketball.", Start: 42,
				Speaker: "Alice", Demographics: core.Demographics{Gender: "F", AgeRange: "25-34", AgeLow: 25, AgeHigh: 34},
			},
			Score: 0.9,
			Rank:  1,
		},
		nil,
	}

	records := SourceRecords(results)
	require.Len(t, records, 1)
	assert.Equal(t, SourceRecord{
		Rank: 1, Score: 0.9, ChunkID: "doc#0001", Source: "/data/session1.txt",
		Location: "session1.txt:42", Speaker: "Alice", Demographics: "F, 25-34", Text: "I love basketball.",
	}, records[0])

	assert.NotNil(t, SourceRecords(nil))
}
