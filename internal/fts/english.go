// Package fts implements the text processor (tokenizer, stop-word filter,
// Porter stemmer), the GIN inverted index, the boolean/phrase/proximity
// query evaluator, and BM25/TF-IDF ranking.
package fts

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// stopWords is the exact English stop-word list used by the text
// processor, carried over from the reference language module.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// normalize NFC-composes text so accented letters built from a base rune
// plus combining marks collapse to their precomposed form ahead of the
// ASCII-range folding below, then lowercases, replaces every
// non-alphanumeric rune with a space, and collapses runs of whitespace,
// matching the reference processor's normalize() exactly.
func normalize(text string) string {
	lower := strings.ToLower(norm.NFC.String(text))
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if isAlphaNumeric(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isAlphaNumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
}
