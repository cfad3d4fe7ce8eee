// Package preprocessor normalizes field values prior to comparison: case,
// whitespace, phone/date canonicalization, plus registered custom
// transforms. Transforms never mutate their input; the Pipeline's output is
// cached on the NormalizedRecord by the caller.
package preprocessor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Step is a single named transform in a Pipeline.
type Step func(string) string

// registry holds all registered named steps, consulted by Pipeline and by
// Apply/ApplyChain for ad-hoc use.
var registry = make(map[string]Step)

func init() {
	Register("lower", Lower)
	Register("strip", Strip)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
	Register("normalize_name", NormalizeName)
	Register("normalize_address", NormalizeAddress)
	Register("normalize_phone", func(s string) string { return NormalizePhone(s, "US") })
	Register("normalize_date", func(s string) string {
		t, ok := NormalizeDate(s, "")
		if !ok {
			return s
		}
		return t
	})
}

// Register adds a named step to the registry.
func Register(name string, fn Step) {
	registry[name] = fn
}

// Get retrieves a named step.
func Get(name string) (Step, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply runs one named step over value, returning value unchanged if the
// step is unknown.
func Apply(value, step string) string {
	fn, ok := registry[step]
	if !ok {
		return value
	}
	return fn(value)
}

// Pipeline is an ordered list of named steps applied to one field's value.
type Pipeline struct {
	Steps []string
}

// NewPipeline builds a Pipeline from step names, in application order.
func NewPipeline(steps ...string) Pipeline {
	return Pipeline{Steps: steps}
}

// Run applies every step in order and returns the final value.
func (p Pipeline) Run(value string) string {
	result := value
	for _, name := range p.Steps {
		result = Apply(result, name)
	}
	return result
}

// Lower lowercases a string.
func Lower(s string) string { return strings.ToLower(s) }

// Strip trims leading/trailing whitespace.
func Strip(s string) string { return strings.TrimSpace(s) }

// CollapseWhitespace replaces runs of whitespace with a single space.
func CollapseWhitespace(s string) string {
	return whitespaceRe.ReplaceAllString(s, " ")
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// RemovePunctuation removes all punctuation characters.
func RemovePunctuation(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DigitsOnly keeps only digit characters.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Alphanumeric keeps only letters and digits.
func Alphanumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName lowercases a person's name, drops common suffixes, and
// collapses punctuation/whitespace.
func NormalizeName(s string) string {
	s = strings.ToLower(s)

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " phd", " md", " dds"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

var addressAbbreviations = map[string]string{
	" street":    " st",
	" avenue":    " ave",
	" boulevard": " blvd",
	" drive":     " dr",
	" road":      " rd",
	" lane":      " ln",
	" court":     " ct",
	" circle":    " cir",
	" place":     " pl",
	" apartment": " apt",
	" suite":     " ste",
	" north":     " n",
	" south":     " s",
	" east":      " e",
	" west":      " w",
}

// NormalizeAddress lowercases, applies common street-type abbreviations,
// and collapses whitespace.
func NormalizeAddress(s string) string {
	s = strings.ToLower(s)
	for full, abbr := range addressAbbreviations {
		s = strings.ReplaceAll(s, full, abbr)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// usPhoneDigits extracts the significant digits of a US phone number,
// stripping a leading country code of 1 if present.
func usPhoneDigits(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}

// NormalizePhone normalizes a phone number to E.164 given a region. Only
// the "US" region is implemented directly (no phone-parsing library
// appears anywhere in the example pack, so this is a deliberately narrow
// stdlib implementation — see DESIGN.md). Numbers that don't resolve to a
// plausible length are returned unchanged.
func NormalizePhone(s string, region string) string {
	switch strings.ToUpper(region) {
	case "US", "":
		digits := usPhoneDigits(s)
		if len(digits) == 10 {
			return "+1" + digits
		}
		return s
	default:
		digits := DigitsOnly(s)
		if digits == "" {
			return s
		}
		return "+" + digits
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2006-01-02T15:04:05",
}

// NormalizeDate parses a date string against an explicit layout (if format
// is non-empty) or a fixed set of heuristic layouts, returning an
// ISO-8601 date string (YYYY-MM-DD) and whether parsing succeeded.
func NormalizeDate(s string, format string) (string, bool) {
	s = strings.TrimSpace(s)
	if format != "" {
		t, err := time.Parse(format, s)
		if err != nil {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// ParseDate is like NormalizeDate but returns the parsed time.Time, for
// callers (e.g. the Date comparator) that need more than the ISO string.
func ParseDate(s string, format string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if format != "" {
		return time.Parse(format, s)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("preprocessor: unable to parse date %q", s)
}
