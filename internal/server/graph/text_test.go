package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, World! 42"))
	assert.Empty(t, Tokenize(" -- "))
}

func TestTextQueryFTS5(t *testing.T) {
	tests := []struct {
		name  string
		query TextQuery
		want  string
	}{
		{"prefix on last term", TextQuery{Text: "Big Dog", Prefix: true}, `"big" "dog"*`},
		{"whole words", TextQuery{Text: "big dog"}, `"big" "dog"`},
		{"punctuation dropped", TextQuery{Text: `"quoted" (x)`}, `"quoted" "x"`},
		{"empty", TextQuery{Text: "  ", Prefix: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.fts5())
		})
	}
}
