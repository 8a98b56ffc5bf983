package chunker

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/verbatim/core"
)

// DefaultMaxChunkSize is the largest chunk produced, in characters.
const DefaultMaxChunkSize = 1000

// DefaultModeratorAliases are the speaker labels treated as moderators.
var DefaultModeratorAliases = []string{"Moderator", "Mod", "Facilitator", "Interviewer"}

// ErrInvalidChunkSize is returned for a non-positive maximum chunk size.
var ErrInvalidChunkSize = errors.New("max chunk size must be positive")

var (
	paragraphBreak   = regexp.MustCompile(`\n[ \t\r]*\n`)
	sentenceBoundary = regexp.MustCompile(`[.!?]+["'\x{201D}\x{2019})\]]*(\s+)`)
)

// Chunker splits transcripts into speaker-attributed chunks.
// A Chunker is immutable after construction and safe for concurrent use.
type Chunker struct {
	maxSize int
	aliases []string
	logger  *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxChunkSize sets the maximum chunk size in characters.
func WithMaxChunkSize(size int) Option {
	return func(c *Chunker) error {
		if size < 1 {
			return ErrInvalidChunkSize
		}
		c.maxSize = size
		return nil
	}
}

// WithModeratorAliases replaces the moderator alias list.
func WithModeratorAliases(aliases ...string) Option {
	return func(c *Chunker) error {
		c.aliases = c.aliases[:0]
		for _, a := range aliases {
			if a = strings.TrimSpace(a); a != "" {
				c.aliases = append(c.aliases, strings.ToLower(a))
			}
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxSize: DefaultMaxChunkSize,
		logger:  slog.Default(),
	}
	for _, a := range DefaultModeratorAliases {
		c.aliases = append(c.aliases, strings.ToLower(a))
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "chunker")
	return c, nil
}

// MaxChunkSize returns the configured maximum chunk size.
func (c *Chunker) MaxChunkSize() int {
	return c.maxSize
}

// IsModerator reports whether speaker matches a moderator alias. A label
// matches when it equals an alias or starts with one followed by a non-letter,
// so "Moderator 2" and "Mod (Jane)" both match but "Modesty" does not.
func (c *Chunker) IsModerator(speaker string) bool {
	label := strings.ToLower(strings.TrimSpace(speaker))
	for _, alias := range c.aliases {
		if label == alias {
			return true
		}
		if rest, ok := strings.CutPrefix(label, alias); ok {
			r, _ := utf8.DecodeRuneInString(rest)
			if !unicode.IsLetter(r) {
				return true
			}
		}
	}
	return false
}

// turn is one speaker's utterance span within the document text.
type turn struct {
	header
	start, end int
}

// Chunk splits doc into chunks. An empty or blank document yields no chunks.
// Every chunk's Text equals doc.Text[Start:End].
func (c *Chunker) Chunk(doc *core.Document) []core.Chunk {
	if doc == nil || strings.TrimSpace(doc.Text) == "" {
		return nil
	}

	chunks := []core.Chunk{}
	for _, t := range splitTurns(doc.Text) {
		moderator := c.IsModerator(t.speaker)
		for _, span := range c.splitTurn(doc.Text, t.start, t.end) {
			text := doc.Text[span[0]:span[1]]
			index := len(chunks)
			chunks = append(chunks, core.Chunk{
				ID:           core.ChunkID(doc.ID, index),
				DocumentID:   doc.ID,
				Source:       doc.Source,
				Index:        index,
				Text:         text,
				Start:        span[0],
				End:          span[1],
				Speaker:      t.speaker,
				IsModerator:  moderator,
				Demographics: t.demographics,
				Timestamp:    t.timestamp,
				Hash:         core.ContentHash(t.speaker, text),
			})
		}
	}

	c.logger.Debug("chunked document", "document", doc.ID, "chunks", len(chunks))
	return chunks
}

// splitTurns cuts text into speaker turns at header lines. Text before the
// first header belongs to an unknown speaker.
func splitTurns(text string) []turn {
	current := turn{
		header: header{speaker: core.Unknown, demographics: core.UnknownDemographics()},
	}
	var turns []turn

	for lineStart := 0; lineStart < len(text); {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}

		if h, ok := parseHeader(text[lineStart:lineEnd]); ok {
			current.end = lineStart
			turns = append(turns, current)
			current = turn{header: h, start: lineStart + h.end}
		}
		lineStart = lineEnd + 1
	}
	current.end = len(text)
	return append(turns, current)
}

// splitTurn returns the [start,end) spans of the chunks of one turn.
func (c *Chunker) splitTurn(text string, start, end int) [][2]int {
	var spans [][2]int
	pos := start
	for _, m := range paragraphBreak.FindAllStringIndex(text[start:end], -1) {
		spans = append(spans, c.splitParagraph(text, pos, start+m[0])...)
		pos = start + m[1]
	}
	return append(spans, c.splitParagraph(text, pos, end)...)
}

// splitParagraph packs the sentences of a paragraph into chunks no larger
// than the maximum size.
func (c *Chunker) splitParagraph(text string, start, end int) [][2]int {
	start, end = trimSpan(text, start, end)
	if start == end {
		return nil
	}
	if utf8.RuneCountInString(text[start:end]) <= c.maxSize {
		return [][2]int{{start, end}}
	}

	var ends []int
	for _, m := range sentenceBoundary.FindAllStringSubmatchIndex(text[start:end], -1) {
		ends = append(ends, start+m[2])
	}
	ends = append(ends, end)

	var spans [][2]int
	emit := func(s, e int) {
		if s, e = trimSpan(text, s, e); s < e {
			spans = append(spans, [2]int{s, e})
		}
	}

	pieceStart, last := start, start
	for _, sentenceEnd := range ends {
		if c.fits(text, pieceStart, sentenceEnd) {
			last = sentenceEnd
			continue
		}
		if last > pieceStart {
			emit(pieceStart, last)
			pieceStart = skipSpace(text, last, end)
			if c.fits(text, pieceStart, sentenceEnd) {
				last = sentenceEnd
				continue
			}
		}
		// a single sentence longer than the limit
		for !c.fits(text, pieceStart, sentenceEnd) {
			cut := c.hardCut(text, pieceStart, sentenceEnd)
			emit(pieceStart, cut)
			pieceStart = skipSpace(text, cut, end)
		}
		last = sentenceEnd
	}
	if last > pieceStart {
		emit(pieceStart, last)
	}
	return spans
}

func (c *Chunker) fits(text string, start, end int) bool {
	return utf8.RuneCountInString(text[start:end]) <= c.maxSize
}

// hardCut finds a split point within the first maxSize characters of
// text[start:end], preferring the last whitespace.
func (c *Chunker) hardCut(text string, start, end int) int {
	limit := start
	for n := 0; n < c.maxSize && limit < end; n++ {
		_, size := utf8.DecodeRuneInString(text[limit:])
		limit += size
	}
	if r, _ := utf8.DecodeRuneInString(text[limit:]); limit == end || unicode.IsSpace(r) {
		return limit
	}
	if i := strings.LastIndexFunc(text[start:limit], unicode.IsSpace); i > 0 {
		return start + i
	}
	return limit
}

func trimSpan(text string, start, end int) (int, int) {
	seg := text[start:end]
	left := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
	right := len(strings.TrimRightFunc(seg, unicode.IsSpace))
	if right <= left {
		return start, start
	}
	return start + left, start + right
}

func skipSpace(text string, pos, end int) int {
	for pos < end {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if !unicode.IsSpace(r) {
			break
		}
		pos += size
	}
	return pos
}
