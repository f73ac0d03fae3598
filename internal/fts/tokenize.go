package fts

import (
	"strings"

	"github.com/quillsql/quillsql/internal/storage"
)

// Process tokenizes a document: normalize, drop stop words, stem, and
// assign 1-based positions. Used for to_tsvector.
func Process(text string) []storage.Token {
	norm := normalize(text)
	if norm == "" {
		return nil
	}
	words := strings.Fields(norm)
	toks := make([]storage.Token, 0, len(words))
	pos := 1
	for _, w := range words {
		if isStopWord(w) {
			continue
		}
		toks = append(toks, storage.Token{
			Text:     stem(w),
			Position: pos,
			Weight:   'A',
			Kind:     classify(w),
		})
		pos++
	}
	return toks
}

// SetWeight overwrites every token's setweight() category (one of
// 'A'/'B'/'C'/'D'), mirroring the reference text processor's
// set_weight(): it replaces the whole vector's weight uniformly rather
// than targeting individual tokens. Returns a new slice; toks is left
// untouched.
func SetWeight(toks []storage.Token, category byte) []storage.Token {
	out := make([]storage.Token, len(toks))
	for i, t := range toks {
		t.Weight = category
		out[i] = t
	}
	return out
}

func classify(w string) storage.TokenKind {
	switch {
	case strings.ContainsRune(w, '@'):
		return storage.TokEmail
	case strings.HasPrefix(w, "http"):
		return storage.TokURL
	case isAllDigits(w):
		return storage.TokNumber
	default:
		return storage.TokWord
	}
}

func isAllDigits(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseQuery parses a raw tsquery expression into the query-term grammar:
// plain space-separated terms are AND-joined, `&`/`|`/`!` are explicit
// boolean operators, and a double-quoted segment becomes a single Phrase
// operator over its stemmed token sequence.
func ParseQuery(expr string) []storage.QueryTerm {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	if strings.HasPrefix(expr, `"`) && strings.HasSuffix(expr, `"`) && len(expr) >= 2 {
		inner := expr[1 : len(expr)-1]
		toks := stemWords(inner)
		if len(toks) == 0 {
			return nil
		}
		return []storage.QueryTerm{{Tokens: toks, Op: storage.OpPhrase}}
	}

	// Raw boolean grammar: split on & | ! while keeping them as operators.
	var terms []storage.QueryTerm
	nextOp := storage.OpAnd
	negate := false
	for _, field := range tokenizeRaw(expr) {
		switch field {
		case "&":
			nextOp = storage.OpAnd
		case "|":
			nextOp = storage.OpOr
		case "!":
			negate = true
		default:
			word := stem(strings.ToLower(field))
			op := nextOp
			if negate {
				op = storage.OpNot
			}
			terms = append(terms, storage.QueryTerm{Tokens: []string{word}, Op: op})
			nextOp = storage.OpAnd
			negate = false
		}
	}
	return terms
}

func stemWords(s string) []string {
	words := strings.Fields(normalize(s))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if isStopWord(w) {
			continue
		}
		out = append(out, stem(w))
	}
	return out
}

// tokenizeRaw splits a raw tsquery expression into words and the single
// rune operators & | !, preserving order.
func tokenizeRaw(expr string) []string {
	var fields []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch r {
		case '&', '|', '!':
			flush()
			fields = append(fields, string(r))
		case ' ', '\t', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}
