package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"lowercases", "Hello World", []string{"hello", "world"}},
		{"punctuation becomes separator", "state-of-the-art, really!", []string{"state", "of", "the", "art", "really"}},
		{"underscore is a word rune", "snake_case_name", []string{"snake_case_name"}},
		{"digits kept", "HTTP/2 in 2024", []string{"http", "2", "in", "2024"}},
		{"whitespace collapsed", "  tabs\tand\n\nnewlines  ", []string{"tabs", "and", "newlines"}},
		{"unicode letters kept", "Café Zürich", []string{"café", "zürich"}},
		{"only punctuation", "?!... --", []string{}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nonNil(Tokenize(tt.input)))
		})
	}
}

func TestTokenizeAll_PreservesOrder(t *testing.T) {
	out := TokenizeAll([]string{"b a", "", "C"})

	assert.Equal(t, [][]string{{"b", "a"}, {}, {"c"}}, [][]string{out[0], nonNil(out[1]), out[2]})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
