package savepoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/storage"
)

func TestCreateRejectsDuplicateName(t *testing.T) {
	m := New()
	require.NoError(t, m.Create(1, "sp1", nil))
	err := m.Create(1, "sp1", nil)
	assert.Error(t, err)
}

func TestRollbackToUnknownNameFails(t *testing.T) {
	m := New()
	_, err := m.RollbackTo(1, "missing")
	assert.Error(t, err)
}

// TestLIFOTruncation mirrors scenario S4: creating sp1, then sp2, then
// rolling back to sp1 must drop sp2 entirely while sp1 remains rollback-
// able.
func TestLIFOTruncation(t *testing.T) {
	m := New()
	require.NoError(t, m.Create(1, "sp1", map[string]storage.Row{"r:t:0:1": {storage.Integer(1)}}))
	require.NoError(t, m.Create(1, "sp2", map[string]storage.Row{"r:t:0:1": {storage.Integer(2)}}))

	assert.ElementsMatch(t, []string{"sp1", "sp2"}, m.Names(1))

	snap, err := m.RollbackTo(1, "sp1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap["r:t:0:1"][0].Int)
	assert.Equal(t, []string{"sp1"}, m.Names(1))

	// sp1 itself must still be reachable after the rollback.
	_, err = m.RollbackTo(1, "sp1")
	require.NoError(t, err)

	_, err = m.RollbackTo(1, "sp2")
	assert.Error(t, err, "sp2 must have been truncated")
}

func TestReleaseRemovesOnlyNamedSavepoint(t *testing.T) {
	m := New()
	require.NoError(t, m.Create(1, "sp1", nil))
	require.NoError(t, m.Create(1, "sp2", nil))

	require.NoError(t, m.Release(1, "sp1"))
	assert.Equal(t, []string{"sp2"}, m.Names(1))
}

func TestClearTransactionDropsAll(t *testing.T) {
	m := New()
	require.NoError(t, m.Create(1, "sp1", nil))
	m.ClearTransaction(1)
	assert.Empty(t, m.Names(1))
}
