// Package textnorm normalizes free-form user input before it is matched
// against menu options.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// separators are replaced by a space so "loja/fisica" matches "loja fisica".
var separators = strings.NewReplacer("/", " ", "-", " ", "–", " ", "—", " ")

// Normalize strips diacritics, turns separators into spaces, keeps only
// letters, digits and spaces, collapses whitespace and lowercases.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	stripped = separators.Replace(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
		case r == ' ':
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// List normalizes a comma separated list and drops empty entries.
func List(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if n := Normalize(part); n != "" {
			out = append(out, n)
		}
	}
	return out
}
