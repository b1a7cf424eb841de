// Package chat gates chat delivery behind a moderation filter. Raw text is
// never delivered; recipients always see the filtered form.
package chat

import (
	"strings"
	"unicode"
)

// Filter is the moderation contract: a pure text classifier. Implementations
// must be safe for concurrent use.
type Filter interface {
	// Censor returns the delivery-safe form of text and whether anything
	// was replaced.
	Censor(text string) (string, bool)
}

// BlocklistFilter censors whole words found on a configured blocklist,
// case-insensitively, replacing each with asterisks of the same length.
type BlocklistFilter struct {
	blocked map[string]struct{}
}

// NewBlocklistFilter builds a filter from the configured term list.
func NewBlocklistFilter(terms []string) *BlocklistFilter {
	blocked := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			blocked[t] = struct{}{}
		}
	}
	return &BlocklistFilter{blocked: blocked}
}

// Censor implements Filter.
func (f *BlocklistFilter) Censor(text string) (string, bool) {
	if len(f.blocked) == 0 {
		return text, false
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	replaced := false
	out := text
	for _, word := range fields {
		key := strings.ToLower(strings.TrimFunc(word, unicode.IsPunct))
		if key == "" {
			continue
		}
		if _, ok := f.blocked[key]; ok {
			stars := strings.Repeat("*", len([]rune(word)))
			out = strings.ReplaceAll(out, word, stars)
			replaced = true
		}
	}
	return out, replaced
}
