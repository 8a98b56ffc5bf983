package format

import (
	"fmt"
	"strings"

	"github.com/poiesic/verbatim/core"
)

// Render formats verbatims as text, one entry per line (detailed entries span
// two lines). Render never reorders or filters its input.
func Render(verbatims []*core.Verbatim, f Format) (string, error) {
	if f == CSV {
		var b strings.Builder
		if err := WriteCSV(&b, verbatims); err != nil {
			return "", err
		}
		return b.String(), nil
	}

	var line func(*core.Verbatim) string
	switch f {
	case Research, "":
		line = research
	case QuotesOnly:
		line = quoteOnly
	case Detailed:
		line = detailed
	default:
		return "", fmt.Errorf("%w: %w: %q", core.ErrValidation, core.ErrInvalidFormat, string(f))
	}

	lines := make([]string, 0, len(verbatims))
	for _, v := range verbatims {
		if v == nil {
			continue
		}
		lines = append(lines, line(v))
	}
	return strings.Join(lines, "\n"), nil
}

// "{quote}" - {speaker}, {location}, {demographics}
func research(v *core.Verbatim) string {
	return fmt.Sprintf("%s - %s, %s, %s", quoteOnly(v), v.Speaker, v.Location, v.Demographics)
}

func quoteOnly(v *core.Verbatim) string {
	return `"` + v.Quote + `"`
}

func detailed(v *core.Verbatim) string {
	timestamp := v.Timestamp
	if timestamp == "" {
		timestamp = "n/a"
	}
	document := v.Location.DocumentID
	if v.Location.Source != "" {
		document = v.Location.Source
	}
	return fmt.Sprintf("%s\n[Score: %.3f | Document: %s | Offset: %d-%d | Words: %d | Time: %s]",
		research(v), v.Score, document, v.Location.Start, v.Location.End, v.WordCount, timestamp)
}
