package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/verbatim/core"
)

// Result kinds written by a ResultWriter.
const (
	KindAnswer    = "answer"
	KindRetrieval = "retrieval"
	KindVerbatims = "verbatims"
)

const stampLayout = "20060102_150405"

// SourceRecord is the JSON form of a retrieval hit.
type SourceRecord struct {
	Rank         int     `json:"rank"`
	Score        float32 `json:"score"`
	ChunkID      string  `json:"chunk_id"`
	Source       string  `json:"source"`
	Location     string  `json:"location"`
	Speaker      string  `json:"speaker"`
	Demographics string  `json:"demographics"`
	Text         string  `json:"text"`
}

// VerbatimRecord is the JSON form of an extracted quote.
type VerbatimRecord struct {
	Quote        string  `json:"quote"`
	Speaker      string  `json:"speaker"`
	Demographics string  `json:"demographics"`
	Location     string  `json:"location"`
	Source       string  `json:"source"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
	Score        float32 `json:"score"`
	ChunkID      string  `json:"chunk_id"`
	Timestamp    string  `json:"timestamp,omitempty"`
	WordCount    int     `json:"word_count"`
}

// AnswerRecord is the JSON form of a generated answer.
type AnswerRecord struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Sources []SourceRecord `json:"sources"`
}

// RetrievalRecord is the JSON form of a bare retrieval.
type RetrievalRecord struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Results []SourceRecord `json:"results"`
}

// ExtractionRecord is the JSON form of a verbatim extraction.
type ExtractionRecord struct {
	Query     string           `json:"query"`
	Retrieved int              `json:"retrieved"`
	Verbatims []VerbatimRecord `json:"verbatims"`
}

// SourceRecords converts retrieval hits to their JSON form.
func SourceRecords(results []*core.RetrievalResult) []SourceRecord {
	records := make([]SourceRecord, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		records = append(records, SourceRecord{
			Rank:         r.Rank,
			Score:        r.Score,
			ChunkID:      r.Chunk.ID,
			Source:       r.Chunk.Source,
			Location:     r.Chunk.Location().String(),
			Speaker:      r.Chunk.Speaker,
			Demographics: r.Chunk.Demographics.String(),
			Text:         r.Chunk.Text,
		})
	}
	return records
}

// VerbatimRecords converts verbatims to their JSON form.
func VerbatimRecords(verbatims []*core.Verbatim) []VerbatimRecord {
	records := make([]VerbatimRecord, 0, len(verbatims))
	for _, v := range verbatims {
		if v == nil {
			continue
		}
		records = append(records, VerbatimRecord{
			Quote:        v.Quote,
			Speaker:      v.Speaker,
			Demographics: v.Demographics.String(),
			Location:     v.Location.String(),
			Source:       v.Location.Source,
			Start:        v.Location.Start,
			End:          v.Location.End,
			Score:        v.Score,
			ChunkID:      v.ChunkID,
			Timestamp:    v.Timestamp,
			WordCount:    v.WordCount,
		})
	}
	return records
}

// Saved names the files written for one result.
type Saved struct {
	Text string
	JSON string
}

// ResultWriter saves each result as a text file and a JSON file sharing a
// timestamped name, e.g. answer_20250301_142233.txt and .json.
type ResultWriter struct {
	dir string
	now func() time.Time
}

// NewResultWriter creates a writer for dir. The directory is created on the
// first save.
func NewResultWriter(dir string) *ResultWriter {
	return &ResultWriter{dir: dir, now: time.Now}
}

// Dir returns the output directory.
func (w *ResultWriter) Dir() string {
	return w.dir
}

type envelope struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Result    any       `json:"result"`
}

// Save writes text and the JSON encoding of result. Names that are already
// taken get a numeric suffix, so results saved within the same second never
// overwrite each other. Failures wrap core.ErrIO.
func (w *ResultWriter) Save(kind, text string, result any) (*Saved, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}

	now := w.now()
	data, err := json.MarshalIndent(envelope{Timestamp: now, Kind: kind, Result: result}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", kind, err)
	}

	stem := filepath.Join(w.dir, kind+"_"+now.Format(stampLayout))
	jsonFile, base, err := createUnique(stem, ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	_, err = jsonFile.Write(append(data, '\n'))
	if cerr := jsonFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}

	saved := &Saved{Text: base + ".txt", JSON: base + ".json"}
	if err := os.WriteFile(saved.Text, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	return saved, nil
}

// createUnique creates stem+ext, or stem_N+ext for the first free N. It
// returns the open file and the name without its extension.
func createUnique(stem, ext string) (*os.File, string, error) {
	base := stem
	for n := 2; ; n++ {
		f, err := os.OpenFile(base+ext, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, base, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
		base = fmt.Sprintf("%s_%d", stem, n)
	}
}
