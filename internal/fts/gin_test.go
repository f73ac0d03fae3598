package fts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fixtures mirror the reference evaluator's test documents: doc1 "rust
// programming", doc2 "rust web development", doc3 "database systems".
func fixtureIndex() *Index {
	idx := New()
	idx.AddDocument("posts", "content", "1", "rust programming")
	idx.AddDocument("posts", "content", "2", "rust web development")
	idx.AddDocument("posts", "content", "3", "database systems")
	return idx
}

func TestBooleanQueries(t *testing.T) {
	idx := fixtureIndex()

	result := idx.Search("posts", "content", ParseQuery("rust & !database"))
	assert.Equal(t, map[string]struct{}{"1": {}, "2": {}}, result)

	result = idx.Search("posts", "content", ParseQuery("rust | database"))
	assert.Equal(t, map[string]struct{}{"1": {}, "2": {}, "3": {}}, result)
}

func TestPhraseQuery(t *testing.T) {
	idx := fixtureIndex()
	result := idx.Search("posts", "content", ParseQuery(`"rust programming"`))
	assert.Equal(t, map[string]struct{}{"1": {}}, result)
}

func TestEmptyQueryIsEmptyResult(t *testing.T) {
	idx := fixtureIndex()
	result := idx.Search("posts", "content", ParseQuery(""))
	assert.Empty(t, result)
}

func TestMissingTokenPolicies(t *testing.T) {
	idx := fixtureIndex()

	// AND against a missing token yields empty.
	result := idx.Search("posts", "content", ParseQuery("rust & nosuchword"))
	assert.Empty(t, result)

	// NOT against a missing token yields the accumulator unchanged.
	result = idx.Search("posts", "content", ParseQuery("rust & !nosuchword"))
	assert.Equal(t, map[string]struct{}{"1": {}, "2": {}}, result)
}

func TestRemoveAndUpdateDocument(t *testing.T) {
	idx := fixtureIndex()
	idx.RemoveDocument("posts", "content", "1")
	result := idx.Search("posts", "content", ParseQuery("rust"))
	assert.Equal(t, map[string]struct{}{"2": {}}, result)

	idx.UpdateDocument("posts", "content", "2", "totally different text")
	result = idx.Search("posts", "content", ParseQuery("rust"))
	assert.Empty(t, result)
}
