package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/storage"
)

func TestWriteReadUncommittedAndCommitted(t *testing.T) {
	m := New()
	tx := m.Begin(ReadCommitted)
	key := "r:users:0:1"

	require.NoError(t, m.Write(tx, key, storage.Row{storage.Integer(1)}))

	v, ok := m.ReadUncommitted(key)
	require.True(t, ok)
	assert.Equal(t, int64(1), v[0].Int)

	_, ok = m.ReadCommitted(key)
	assert.False(t, ok, "uncommitted write must not be read-committed visible")

	require.NoError(t, m.Commit(tx))

	v, ok = m.ReadCommitted(key)
	require.True(t, ok)
	assert.Equal(t, int64(1), v[0].Int)
}

func TestRollbackRemovesVersions(t *testing.T) {
	m := New()
	tx := m.Begin(ReadCommitted)
	key := "r:users:0:1"
	require.NoError(t, m.Write(tx, key, storage.Row{storage.Integer(1)}))

	require.NoError(t, m.Rollback(tx))

	_, ok := m.ReadUncommitted(key)
	assert.False(t, ok)
	_, ok = m.ReadCommitted(key)
	assert.False(t, ok)
}

func TestConcurrentTransactionsVisibility(t *testing.T) {
	m := New()
	tx1 := m.Begin(ReadCommitted)
	tx2 := m.Begin(ReadCommitted)

	key1 := "r:users:0:1"
	key2 := "r:users:0:2"
	require.NoError(t, m.Write(tx1, key1, storage.Row{storage.Integer(1)}))
	require.NoError(t, m.Write(tx2, key2, storage.Row{storage.Integer(2)}))

	_, ok := m.ReadCommitted(key1)
	assert.False(t, ok)

	require.NoError(t, m.Commit(tx1))
	require.NoError(t, m.Commit(tx2))

	v1, ok := m.ReadCommitted(key1)
	require.True(t, ok)
	assert.Equal(t, int64(1), v1[0].Int)
}

func TestSerializableWriteConflict(t *testing.T) {
	m := New()
	tx1 := m.Begin(Serializable)
	key := "r:accounts:0:1"
	require.NoError(t, m.Write(tx1, key, storage.Row{storage.Integer(100)}))
	require.NoError(t, m.Commit(tx1))

	tx2 := m.Begin(Serializable)
	// tx2 started after tx1's commit in wall-clock terms for this test,
	// so no conflict should be raised against tx1's already-committed
	// write; a true conflict requires another committed write after
	// tx2's own start, e.g. a concurrent tx3.
	tx3 := m.Begin(Serializable)
	require.NoError(t, m.Write(tx2, key, storage.Row{storage.Integer(200)}))
	require.NoError(t, m.Write(tx3, key, storage.Row{storage.Integer(300)}))
	require.NoError(t, m.Commit(tx2))

	err := m.Commit(tx3)
	assert.Error(t, err, "tx3 must see tx2's intervening committed write to the same key")
}
