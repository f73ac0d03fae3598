package fts

import (
	"sync"

	"github.com/quillsql/quillsql/internal/storage"
)

// postingList maps a doc id to its ordered token positions within one
// column of one table.
type postingList map[string][]int

// column is the token -> postingList map for one table column.
type column map[string]postingList

// Index is the three-level GIN map: table -> column -> token -> doc ->
// positions, guarded by a single mutex.
type Index struct {
	mu     sync.RWMutex
	tables map[string]map[string]column
}

// New returns an empty inverted index.
func New() *Index {
	return &Index{tables: make(map[string]map[string]column)}
}

// AddColumn registers a column to be indexed, a no-op if already present.
func (idx *Index) AddColumn(table, col string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.column(table, col)
}

func (idx *Index) column(table, col string) column {
	cols, ok := idx.tables[table]
	if !ok {
		cols = make(map[string]column)
		idx.tables[table] = cols
	}
	c, ok := cols[col]
	if !ok {
		c = make(column)
		cols[col] = c
	}
	return c
}

// AddDocument tokenizes text and appends its token positions into the
// table/column postings under doc.
func (idx *Index) AddDocument(table, col, doc, text string) {
	toks := Process(text)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c := idx.column(table, col)
	for _, t := range toks {
		pl, ok := c[t.Text]
		if !ok {
			pl = make(postingList)
			c[t.Text] = pl
		}
		pl[doc] = append(pl[doc], t.Position)
	}
}

// RemoveDocument clears doc from every token posting in table/column.
func (idx *Index) RemoveDocument(table, col, doc string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c := idx.column(table, col)
	for tok, pl := range c {
		delete(pl, doc)
		if len(pl) == 0 {
			delete(c, tok)
		}
	}
}

// UpdateDocument removes then re-adds doc's postings.
func (idx *Index) UpdateDocument(table, col, doc, text string) {
	idx.RemoveDocument(table, col, doc)
	idx.AddDocument(table, col, doc, text)
}

// docIDs returns the set of docs containing tok in table/column.
func (idx *Index) docIDs(table, col, tok string) map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.tables[table]
	if !ok {
		return nil
	}
	pl, ok := c[col][tok]
	if !ok {
		return nil
	}
	out := make(map[string]struct{}, len(pl))
	for d := range pl {
		out[d] = struct{}{}
	}
	return out
}

func (idx *Index) positions(table, col, tok, doc string) []int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.tables[table]
	if !ok {
		return nil
	}
	return c[col][tok][doc]
}

// allDocs returns every document id that has at least one posting in
// table/column, used to iterate candidates for Phrase/Proximity checks.
func (idx *Index) allDocs(table, col string) map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]struct{})
	c, ok := idx.tables[table]
	if !ok {
		return out
	}
	for _, pl := range c[col] {
		for d := range pl {
			out[d] = struct{}{}
		}
	}
	return out
}

// Stats reports the document-frequency callback and corpus size for
// table/col's existing GIN postings, for use as DocFrequency and
// Doc.CorpusSize. ok is false when the column was never indexed (no
// CREATE FULLTEXT INDEX), in which case callers should rank against a
// single-document corpus instead.
func (idx *Index) Stats(table, col string) (df DocFrequency, corpusSize int, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	cols, exists := idx.tables[table]
	if !exists {
		return nil, 0, false
	}
	c, exists := cols[col]
	if !exists {
		return nil, 0, false
	}
	docs := make(map[string]struct{})
	for _, pl := range c {
		for d := range pl {
			docs[d] = struct{}{}
		}
	}
	df = func(token string) int {
		idx.mu.RLock()
		defer idx.mu.RUnlock()
		return len(c[token])
	}
	return df, len(docs), true
}

// Search evaluates a parsed query against table/column and returns the
// matching doc id set, per the Evaluator semantics in the component
// design: empty query -> empty result; single atom -> doc set; AND/OR/NOT
// accumulate; Phrase/Proximity test exact position relationships.
func (idx *Index) Search(table, col string, query []storage.QueryTerm) map[string]struct{} {
	if len(query) == 0 {
		return map[string]struct{}{}
	}
	if len(query) == 1 && query[0].Op == storage.OpAnd && len(query[0].Tokens) == 1 {
		return idx.docIDs(table, col, query[0].Tokens[0])
	}

	var current map[string]struct{}
	for i, term := range query {
		switch term.Op {
		case storage.OpAnd:
			set := idx.docIDs(table, col, term.Tokens[0])
			if i == 0 {
				current = set
			} else {
				current = intersect(current, set)
			}
		case storage.OpOr:
			set := idx.docIDs(table, col, term.Tokens[0])
			if i == 0 {
				current = set
			} else {
				current = union(current, set)
			}
		case storage.OpNot:
			set := idx.docIDs(table, col, term.Tokens[0])
			if i == 0 {
				current = difference(idx.allDocs(table, col), set)
			} else {
				current = difference(current, set)
			}
		case storage.OpPhrase:
			set := idx.matchPhrase(table, col, term.Tokens)
			if i == 0 {
				current = set
			} else {
				current = intersect(current, set)
			}
		case storage.OpProximity:
			set := idx.matchProximity(table, col, term.Tokens, term.Distance)
			if i == 0 {
				current = set
			} else {
				current = intersect(current, set)
			}
		}
	}
	if current == nil {
		return map[string]struct{}{}
	}
	return current
}

func (idx *Index) matchPhrase(table, col string, tokens []string) map[string]struct{} {
	out := make(map[string]struct{})
	if len(tokens) == 0 {
		return out
	}
	for doc := range idx.docIDs(table, col, tokens[0]) {
		starts := idx.positions(table, col, tokens[0], doc)
		for _, start := range starts {
			if idx.phraseMatchesAt(table, col, tokens, doc, start) {
				out[doc] = struct{}{}
				break
			}
		}
	}
	return out
}

func (idx *Index) phraseMatchesAt(table, col string, tokens []string, doc string, start int) bool {
	for i, tok := range tokens {
		want := start + i
		found := false
		for _, p := range idx.positions(table, col, tok, doc) {
			if p == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (idx *Index) matchProximity(table, col string, tokens []string, distance int) map[string]struct{} {
	out := make(map[string]struct{})
	if len(tokens) < 2 {
		return out
	}
	for doc := range idx.docIDs(table, col, tokens[0]) {
		ok := true
		for i := 0; i < len(tokens) && ok; i++ {
			for j := i + 1; j < len(tokens) && ok; j++ {
				if !withinDistance(idx.positions(table, col, tokens[i], doc), idx.positions(table, col, tokens[j], doc), distance) {
					ok = false
				}
			}
		}
		if ok {
			out[doc] = struct{}{}
		}
	}
	return out
}

func withinDistance(a, b []int, distance int) bool {
	for _, pa := range a {
		for _, pb := range b {
			d := pa - pb
			if d < 0 {
				d = -d
			}
			if d <= distance {
				return true
			}
		}
	}
	return false
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func union(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func difference(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}
