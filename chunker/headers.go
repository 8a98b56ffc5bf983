package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/verbatim/core"
)

// Header forms recognized at the start of a line, most specific first.
var (
	// Alice, F, 25-34, NYC [00:12:45]:
	exportHeader = regexp.MustCompile(`^[ \t]*([^,\n\[\]:]+?),[ \t]*([A-Za-z]+),[ \t]*(\d+[ \t]*-[ \t]*\d+),[ \t]*([A-Za-z]+)[ \t]*\[([^\]\n]+)\][ \t]*:`)

	// Alice (F, 25-34):
	demographicHeader = regexp.MustCompile(`^[ \t]*([^\n:()\[\]]{1,80}?)[ \t]*\([ \t]*([^,()\n]+?)[ \t]*,[ \t]*([^()\n]+?)[ \t]*\)[ \t]*:`)

	// Moderator [00:01:10]:
	timestampHeader = regexp.MustCompile(`^[ \t]*([^\n:\[\]]{1,80}?)[ \t]*\[([^\]\n]+)\][ \t]*:`)

	// Alice: or Speaker 2: (at most three capitalized or numeric words)
	labelHeader = regexp.MustCompile(`^[ \t]*([A-Z][A-Za-z0-9'_-]*(?:[ \t]+[A-Z0-9][A-Za-z0-9'_-]*){0,2})[ \t]*:(?:[ \t\r]|$)`)

	ageRangePattern = regexp.MustCompile(`^(\d+)[ \t]*-[ \t]*(\d+)$`)
	agePattern      = regexp.MustCompile(`^\d+$`)
)

const maxLabelLength = 40

// header is a parsed speaker header.
type header struct {
	speaker      string
	demographics core.Demographics
	timestamp    string
	end          int // byte offset just past the colon, relative to the line
}

// parseHeader matches a header at the start of line.
func parseHeader(line string) (header, bool) {
	if m := exportHeader.FindStringSubmatchIndex(line); m != nil {
		d := parseDemographics(line[m[4]:m[5]], line[m[6]:m[7]])
		d.Site = line[m[8]:m[9]]
		return header{
			speaker:      strings.TrimSpace(line[m[2]:m[3]]),
			demographics: d,
			timestamp:    strings.TrimSpace(line[m[10]:m[11]]),
			end:          m[1],
		}, true
	}
	if m := demographicHeader.FindStringSubmatchIndex(line); m != nil {
		return header{
			speaker:      strings.TrimSpace(line[m[2]:m[3]]),
			demographics: parseDemographics(line[m[4]:m[5]], line[m[6]:m[7]]),
			end:          m[1],
		}, true
	}
	if m := timestampHeader.FindStringSubmatchIndex(line); m != nil {
		return header{
			speaker:      strings.TrimSpace(line[m[2]:m[3]]),
			demographics: core.UnknownDemographics(),
			timestamp:    strings.TrimSpace(line[m[4]:m[5]]),
			end:          m[1],
		}, true
	}
	if m := labelHeader.FindStringSubmatchIndex(line); m != nil && m[3]-m[2] <= maxLabelLength {
		// the optional trailing blank is body text, not header
		end := m[1]
		if end > 0 && end <= len(line) && line[end-1] != ':' {
			end--
		}
		return header{
			speaker:      strings.TrimSpace(line[m[2]:m[3]]),
			demographics: core.UnknownDemographics(),
			end:          end,
		}, true
	}
	return header{}, false
}

// parseDemographics builds a descriptor from raw gender and age-range tokens.
// A single age "<n>" becomes the range n-n. Any other token that is not
// "<low>-<high>" is kept as written with zero bounds.
func parseDemographics(gender, ageRange string) core.Demographics {
	d := core.Demographics{
		Gender:   strings.TrimSpace(gender),
		AgeRange: strings.TrimSpace(ageRange),
	}
	if m := ageRangePattern.FindStringSubmatch(d.AgeRange); m != nil {
		low, errLow := strconv.Atoi(m[1])
		high, errHigh := strconv.Atoi(m[2])
		if errLow == nil && errHigh == nil && low <= high {
			d.AgeLow, d.AgeHigh = low, high
			d.AgeRange = m[1] + "-" + m[2]
		}
	} else if agePattern.MatchString(d.AgeRange) {
		if age, err := strconv.Atoi(d.AgeRange); err == nil {
			d.AgeLow, d.AgeHigh = age, age
		}
	}
	if d.Gender == "" {
		d.Gender = core.Unknown
	}
	if d.AgeRange == "" {
		d.AgeRange = core.Unknown
	}
	return d
}
