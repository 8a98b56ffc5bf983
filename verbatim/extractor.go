package verbatim

import (
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/verbatim/core"
)

// Default quote length bounds, in characters.
const (
	DefaultMinLength = 20
	DefaultMaxLength = 500
)

// Options controls which retrieval hits become verbatims.
type Options struct {
	MinLength         int
	MaxLength         int
	ExcludeModerator  bool
	IncludeModerator  bool // overrides ExcludeModerator
	DemographicFilter string
}

// DefaultOptions returns the standard extraction options.
func DefaultOptions() Options {
	return Options{
		MinLength:        DefaultMinLength,
		MaxLength:        DefaultMaxLength,
		ExcludeModerator: true,
	}
}

// Validate checks the length bounds and parses the demographic filter.
func (o Options) Validate() error {
	_, err := o.filter()
	return err
}

func (o Options) filter() (*DemographicFilter, error) {
	if err := core.ValidateLengthBounds(o.MinLength, o.MaxLength); err != nil {
		return nil, err
	}
	if strings.TrimSpace(o.DemographicFilter) == "" {
		return nil, nil
	}
	return ParseDemographicFilter(o.DemographicFilter)
}

// Extractor turns ranked retrieval hits into attributed quotations.
// It holds no state between calls and is safe for concurrent use.
type Extractor struct {
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "verbatim-extractor")
	return e
}

// Extract filters results into verbatims. Rules apply in order: role filter,
// quote trimming, length bounds, demographic filter, deduplication of quotes
// equal up to case and whitespace (highest score wins), then a stable sort by
// descending score. An invalid filter or length bound fails before any result
// is examined. No survivors yield an empty slice.
func (e *Extractor) Extract(results []*core.RetrievalResult, opts Options) ([]*core.Verbatim, error) {
	filter, err := opts.filter()
	if err != nil {
		return nil, err
	}

	verbatims := []*core.Verbatim{}
	seen := make(map[string]int)
	var dropped struct{ role, length, demographic, duplicate int }

	for _, result := range results {
		if result == nil {
			continue
		}
		chunk := &result.Chunk

		if chunk.IsModerator && opts.ExcludeModerator && !opts.IncludeModerator {
			dropped.role++
			continue
		}

		quote := strings.TrimSpace(chunk.Text)
		if n := utf8.RuneCountInString(quote); n < opts.MinLength || n > opts.MaxLength {
			dropped.length++
			continue
		}

		if filter != nil && !filter.Matches(chunk.Demographics) {
			dropped.demographic++
			continue
		}

		key := normalize(quote)
		if i, ok := seen[key]; ok {
			dropped.duplicate++
			if result.Score > verbatims[i].Score {
				verbatims[i] = newVerbatim(chunk, quote, result.Score)
			}
			continue
		}
		seen[key] = len(verbatims)
		verbatims = append(verbatims, newVerbatim(chunk, quote, result.Score))
	}

	slices.SortStableFunc(verbatims, func(a, b *core.Verbatim) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	e.logger.Debug("extracted verbatims",
		"results", len(results), "verbatims", len(verbatims),
		"dropped_role", dropped.role, "dropped_length", dropped.length,
		"dropped_demographic", dropped.demographic, "merged_duplicates", dropped.duplicate)
	return verbatims, nil
}

func newVerbatim(chunk *core.Chunk, quote string, score float32) *core.Verbatim {
	start := chunk.Start + strings.Index(chunk.Text, quote)
	return &core.Verbatim{
		Quote:        quote,
		Speaker:      chunk.Speaker,
		Demographics: chunk.Demographics,
		Location: core.Location{
			DocumentID: chunk.DocumentID,
			Source:     chunk.Source,
			Start:      start,
			End:        start + len(quote),
		},
		Score:     score,
		ChunkID:   chunk.ID,
		Timestamp: chunk.Timestamp,
		WordCount: len(strings.Fields(quote)),
	}
}

// normalize lowercases and collapses whitespace runs.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
