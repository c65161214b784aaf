package index

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultSearchLimit = 20
	snippetRunes       = 160
)

// searchTerms splits a free-text query into lower-cased words. Quotes and
// operators are dropped so user input never reaches the query grammar, and
// pieces without a letter or digit are ignored.
func searchTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '"', '\'', '(', ')', '*', ':', '^', '+':
			return true
		}
		return false
	})
	out := fields[:0]
	for _, f := range fields {
		if strings.IndexFunc(f, isWordRune) >= 0 {
			out = append(out, f)
		}
	}
	return out
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// snippet returns about snippetRunes of body centred on the first term hit,
// or the start of body when no term occurs in it.
func snippet(body string, terms []string) string {
	lower := strings.ToLower(body)
	at := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	start := 0
	if at > snippetRunes/2 {
		// Lower-casing can shift offsets, so clamp before slicing body.
		start = min(at-snippetRunes/2, len(body))
		for start > 0 && start < len(body) && !utf8.RuneStart(body[start]) {
			start--
		}
	}
	end := start
	for n := 0; end < len(body) && n < snippetRunes; n++ {
		_, size := utf8.DecodeRuneInString(body[end:])
		end += size
	}
	s := strings.Join(strings.Fields(body[start:end]), " ")
	if start > 0 {
		s = "..." + s
	}
	if end < len(body) {
		s += "..."
	}
	return s
}
