// Package textnorm holds the ASCII folding and tokenisation shared by the
// planner, parameter inference and identifier extraction.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSplit separates tokens on anything that is not an ASCII letter or digit.
const DefaultSplit = `[^a-z0-9]+`

var defaultSplitRe = regexp.MustCompile(DefaultSplit)

var spaceRe = regexp.MustCompile(`\s+`)

// StripAccents decomposes s (NFD) and drops combining marks.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases, strips accents and collapses whitespace.
func Normalize(s string) string {
	s = StripAccents(strings.ToLower(s))
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Tokenize splits an already normalised string. A nil split uses DefaultSplit.
func Tokenize(normalized string, split *regexp.Regexp) []string {
	if split == nil {
		split = defaultSplitRe
	}
	parts := split.Split(normalized, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// IsCanonicalLiteral reports whether s is already lowercase ASCII without accents,
// which is the form every ontology literal must be declared in.
func IsCanonicalLiteral(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || unicode.IsUpper(r) {
			return false
		}
	}
	return Normalize(s) == s
}

// ContainsPhrase matches phrase against normalized on word boundaries.
func ContainsPhrase(normalized, phrase string) bool {
	if phrase == "" {
		return false
	}
	padded := " " + defaultSplitRe.ReplaceAllString(normalized, " ") + " "
	needle := " " + defaultSplitRe.ReplaceAllString(phrase, " ") + " "
	return strings.Contains(padded, needle)
}
