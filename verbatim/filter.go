package verbatim

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/verbatim/core"
)

var demographicFilterPattern = regexp.MustCompile(`^\s*([A-Za-z]+)\s*,\s*(\d+)\s*-\s*(\d+)\s*$`)

// DemographicFilter selects participants by gender token and age range.
type DemographicFilter struct {
	Gender  string
	AgeLow  int
	AgeHigh int
}

// ParseDemographicFilter parses "<gender>, <low>-<high>", e.g. "F, 25-34".
// Anything else, including low > high, fails with core.ErrValidation.
func ParseDemographicFilter(s string) (*DemographicFilter, error) {
	m := demographicFilterPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %w: %q, expected \"<gender>, <low>-<high>\"",
			core.ErrValidation, core.ErrInvalidDemographicFilter, s)
	}
	low, errLow := strconv.Atoi(m[2])
	high, errHigh := strconv.Atoi(m[3])
	if errLow != nil || errHigh != nil || low > high {
		return nil, fmt.Errorf("%w: %w: %q has an invalid age range",
			core.ErrValidation, core.ErrInvalidDemographicFilter, s)
	}
	return &DemographicFilter{Gender: m[1], AgeLow: low, AgeHigh: high}, nil
}

// String renders the filter in its parseable form.
func (f *DemographicFilter) String() string {
	return fmt.Sprintf("%s, %d-%d", f.Gender, f.AgeLow, f.AgeHigh)
}

// Matches reports whether d satisfies the filter. The gender token must match
// case-insensitively, and the age-range token must equal the filter's range or
// lie within it. Unknown demographics never match.
func (f *DemographicFilter) Matches(d core.Demographics) bool {
	if d.Gender == "" || d.Gender == core.Unknown || !strings.EqualFold(d.Gender, f.Gender) {
		return false
	}
	if d.AgeRange == fmt.Sprintf("%d-%d", f.AgeLow, f.AgeHigh) {
		return true
	}
	if d.AgeLow == 0 && d.AgeHigh == 0 {
		return false
	}
	return d.AgeLow >= f.AgeLow && d.AgeHigh <= f.AgeHigh
}
