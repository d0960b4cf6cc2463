package graph

import (
	"strings"
	"unicode"
)

// TextQuery is a keyword query against the full-text index. All terms must
// match; with Prefix set the last term also matches words it is a prefix of.
type TextQuery struct {
	Text   string
	Prefix bool
}

// Tokenize splits text into lower-cased words of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// split returns the terms that must match whole and the prefix term, if any.
func (q TextQuery) split() (whole []string, prefix string) {
	terms := Tokenize(q.Text)
	if len(terms) == 0 || !q.Prefix {
		return terms, ""
	}
	return terms[:len(terms)-1], terms[len(terms)-1]
}

// fts5 renders the query in SQLite FTS5 syntax, or "" when it has no terms.
func (q TextQuery) fts5() string {
	whole, prefix := q.split()
	parts := make([]string, 0, len(whole)+1)
	for _, t := range whole {
		parts = append(parts, `"`+t+`"`)
	}
	if prefix != "" {
		parts = append(parts, `"`+prefix+`"*`)
	}
	return strings.Join(parts, " ")
}
