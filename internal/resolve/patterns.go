package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tobfel/stagecue/internal/cuesheet"
)

// PatternDetector extracts the current value of one stat attribute from
// free text using the attribute's authored regex patterns. It is compiled
// once per attribute and is read-only afterwards.
type PatternDetector struct {
	attr cuesheet.StatAttribute
	res  []*regexp.Regexp
}

// NewPatternDetector compiles the attribute's patterns. Each pattern must
// carry one capture group for the value; patterns are applied
// case-insensitively.
func NewPatternDetector(attr cuesheet.StatAttribute) (*PatternDetector, error) {
	d := &PatternDetector{attr: attr}
	for _, p := range attr.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("resolve: stat %q pattern %q: %w", attr.ID, p, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("resolve: stat %q pattern %q has no capture group", attr.ID, p)
		}
		d.res = append(d.res, re)
	}
	return d, nil
}

// Attribute returns the attribute definition this detector was built from.
func (d *PatternDetector) Attribute() cuesheet.StatAttribute {
	return d.attr
}

// Detect returns the attribute value found in text. When several patterns
// or occurrences match, the last occurrence in the text wins — later
// mentions supersede earlier ones within one message. Numeric values are
// clamped to the attribute's min/max bounds when set.
func (d *PatternDetector) Detect(text string) (string, bool) {
	bestPos := -1
	var value string

	for _, re := range d.res {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			if m[2] > bestPos {
				bestPos = m[2]
				value = text[m[2]:m[3]]
			}
		}
	}

	if bestPos < 0 {
		return "", false
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return d.clamp(value), true
}

// clamp applies numeric bounds when the value parses as a number.
func (d *PatternDetector) clamp(value string) string {
	if d.attr.Min == nil && d.attr.Max == nil {
		return value
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value
	}
	if d.attr.Min != nil && n < *d.attr.Min {
		n = *d.attr.Min
	}
	if d.attr.Max != nil && n > *d.attr.Max {
		n = *d.attr.Max
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
