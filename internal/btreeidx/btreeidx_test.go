package btreeidx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddSearchRemove(t *testing.T) {
	idx := New()
	idx.AddEntry("alice", "1")
	idx.AddEntry("alice", "2")
	idx.AddEntry("bob", "3")

	ids := idx.Search("alice")
	assert.Len(t, ids, 2)
	_, ok := ids["1"]
	assert.True(t, ok)

	idx.RemoveEntry("alice", "1")
	ids = idx.Search("alice")
	assert.Len(t, ids, 1)

	idx.RemoveEntry("alice", "2")
	ids = idx.Search("alice")
	assert.Nil(t, ids)
}

func TestRangeOrdering(t *testing.T) {
	idx := New()
	idx.AddEntry("a", "1")
	idx.AddEntry("b", "2")
	idx.AddEntry("c", "3")

	var seen []string
	idx.Range("", "", func(value string, ids map[string]struct{}) bool {
		seen = append(seen, value)
		return true
	})
	assert.Equal(t, []string{"a", "b", "c"}, seen)

	seen = nil
	idx.Range("b", "", func(value string, ids map[string]struct{}) bool {
		seen = append(seen, value)
		return true
	})
	assert.Equal(t, []string{"b", "c"}, seen)
}
