package format

import (
	"fmt"
	"strings"

	"github.com/poiesic/verbatim/core"
)

// Format selects how verbatims are rendered.
type Format string

const (
	Research   Format = "research"
	QuotesOnly Format = "quotes_only"
	Detailed   Format = "detailed"
	CSV        Format = "csv"
)

// Formats lists every supported format, default first.
var Formats = []Format{Research, QuotesOnly, Detailed, CSV}

// ParseFormat parses a format name. An empty name selects Research.
func ParseFormat(s string) (Format, error) {
	name := Format(strings.ToLower(strings.TrimSpace(s)))
	if name == "" {
		return Research, nil
	}
	for _, f := range Formats {
		if f == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %w: %q (want one of %s)", core.ErrValidation, core.ErrInvalidFormat, s, formatNames())
}

// String returns the format name.
func (f Format) String() string {
	return string(f)
}

func formatNames() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
