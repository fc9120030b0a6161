package ranking

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	yearPattern       = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// Normalize lowercases the input, folds diacritics, strips punctuation and
// collapses whitespace.
func Normalize(raw string) string {
	input := strings.ToLower(strings.TrimSpace(raw))
	if input == "" {
		return ""
	}
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), input)
	if err == nil {
		input = folded
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}

// Terms splits the raw query on whitespace and normalizes each term. Terms
// that normalize to nothing are dropped.
func Terms(raw string) []string {
	fields := strings.Fields(raw)
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if term := Normalize(field); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

// QueryYear returns the first 4-digit year token in the raw query. The
// token is read before punctuation is stripped, so "batman:2008" carries a
// year and "batman2008" does not.
func QueryYear(raw string) (int, bool) {
	match := yearPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return year, true
}

func containsAll(text string, terms []string) bool {
	if text == "" || len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func containsAny(text string, terms []string) bool {
	if text == "" {
		return false
	}
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
