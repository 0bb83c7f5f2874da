package store

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text, replaces every rune that is not a letter, digit,
// underscore or whitespace with a space, and splits on whitespace.
// The same function is used for documents at build time and for queries.
func Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if isWordRune(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}

	return strings.Fields(sb.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// TokenizeAll tokenizes each text in order.
func TokenizeAll(texts []string) [][]string {
	out := make([][]string, len(texts))
	for i, t := range texts {
		out[i] = Tokenize(t)
	}
	return out
}
