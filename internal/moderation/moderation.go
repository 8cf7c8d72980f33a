// Package moderation is the text filter consulted before a message is
// appended to a session log.
package moderation

import (
	"strings"
	"unicode"
)

// Filter rejects text containing any blocked word. Words are matched on
// whole tokens, case-insensitively; a blocked entry with spaces matches the
// same token sequence.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

func NewFilter(blocked []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, b := range blocked {
		tokens := tokenize(b)
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// ModerateText reports whether content is allowed.
func (f *Filter) ModerateText(content string) bool {
	if f == nil || (len(f.words) == 0 && len(f.phrases) == 0) {
		return true
	}
	tokens := tokenize(content)
	for i, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return false
		}
		for _, p := range f.phrases {
			if hasPrefix(tokens[i:], p) {
				return false
			}
		}
	}
	return true
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func hasPrefix(tokens, phrase []string) bool {
	if len(tokens) < len(phrase) {
		return false
	}
	for i := range phrase {
		if tokens[i] != phrase[i] {
			return false
		}
	}
	return true
}
