package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/mvcc"
	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/wal"
)

func testColumns() []storage.Column {
	return []storage.Column{
		{Name: "id", Type: storage.TypeInteger, Constraints: storage.ConstraintPrimaryKey},
		{Name: "name", Type: storage.TypeText},
	}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	backend := storage.NewMemStore()
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := wal.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return New(backend, "tenant1", w, nil)
}

func TestInsertSelectCommit(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(tx, "users", testColumns()))
	_, err := m.Insert(tx, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))

	tx2 := m.Begin(mvcc.ReadCommitted)
	rows, err := m.Select(tx2, "users", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0][1].Text)
	require.NoError(t, m.Commit(tx2))
}

func TestUncommittedInsertNotVisibleToOtherReadCommittedTx(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "users", testColumns()))
	require.NoError(t, m.Commit(setup))

	tx1 := m.Begin(mvcc.ReadCommitted)
	_, err := m.Insert(tx1, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)

	tx2 := m.Begin(mvcc.ReadCommitted)
	rows, err := m.Select(tx2, "users", nil)
	require.NoError(t, err)
	assert.Empty(t, rows, "uncommitted insert must not be visible under read committed")

	require.NoError(t, m.Commit(tx1))
	require.NoError(t, m.Commit(tx2))
}

func TestRollbackDiscardsInsert(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "users", testColumns()))
	require.NoError(t, m.Commit(setup))

	tx := m.Begin(mvcc.ReadCommitted)
	_, err := m.Insert(tx, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)
	require.NoError(t, m.Rollback(tx))

	tx2 := m.Begin(mvcc.ReadCommitted)
	rows, err := m.Select(tx2, "users", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateAndDelete(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "users", testColumns()))
	_, err := m.Insert(setup, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)
	require.NoError(t, m.Commit(setup))

	tx := m.Begin(mvcc.ReadCommitted)
	n, err := m.Update(tx, "users", []storage.ColumnUpdate{{Column: "name", Value: storage.Text("alicia")}},
		&storage.Predicate{Column: "id", Value: storage.Integer(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, m.Commit(tx))

	tx2 := m.Begin(mvcc.ReadCommitted)
	rows, err := m.Select(tx2, "users", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alicia", rows[0][1].Text)

	n, err = m.Delete(tx2, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, m.Commit(tx2))

	tx3 := m.Begin(mvcc.ReadCommitted)
	rows, err = m.Select(tx3, "users", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "users", testColumns()))
	_, err := m.Insert(setup, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)
	require.NoError(t, m.Commit(setup))

	tx := m.Begin(mvcc.ReadCommitted)
	_, err = m.Insert(tx, "users", storage.Row{storage.Integer(1), storage.Text("bob")})
	assert.Error(t, err)
}

func TestSavepointRollback(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "users", testColumns()))
	require.NoError(t, m.Commit(setup))

	tx := m.Begin(mvcc.ReadCommitted)
	_, err := m.Insert(tx, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)
	require.NoError(t, m.Savepoint(tx, "sp1"))

	_, err = m.Insert(tx, "users", storage.Row{storage.Integer(2), storage.Text("bob")})
	require.NoError(t, err)

	rows, err := m.Select(tx, "users", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, m.RollbackToSavepoint(tx, "sp1"))
	rows, err = m.Select(tx, "users", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0][1].Text)

	require.NoError(t, m.Commit(tx))
}

func TestExclusiveLockConflictAcrossTransactions(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "users", testColumns()))
	require.NoError(t, m.Commit(setup))

	tx1 := m.Begin(mvcc.ReadCommitted)
	_, err := m.Insert(tx1, "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)

	tx2 := m.Begin(mvcc.ReadCommitted)
	_, err = m.Insert(tx2, "users", storage.Row{storage.Integer(2), storage.Text("bob")})
	assert.Error(t, err, "tx2 should conflict on the Exclusive table lock tx1 holds")

	require.NoError(t, m.Commit(tx1))
}

// TestCrossTransactionDeadlockAbortsTheOtherTransaction drives two real
// transactions into a genuine two-table wait-for cycle through
// Manager.Begin/Insert (not the Detector directly): tx1 holds "a" and
// wants "b", tx2 holds "b" and wants "a". Because tx2 started (and
// therefore registered with the detector) after tx1, tx2 is the younger
// transaction, so when tx1's lock attempt completes the cycle, the
// detector picks tx2 as victim — a different transaction than the
// caller (tx1) — exercising acquireLock's abortLocked(victim) branch for
// a victim that is not the transaction currently calling acquireLock.
func TestCrossTransactionDeadlockAbortsTheOtherTransaction(t *testing.T) {
	m := newManager(t)
	setup := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, m.CreateTable(setup, "a", testColumns()))
	require.NoError(t, m.CreateTable(setup, "b", testColumns()))
	require.NoError(t, m.Commit(setup))

	tx1 := m.Begin(mvcc.ReadCommitted) // older
	tx2 := m.Begin(mvcc.ReadCommitted) // younger

	_, err := m.Insert(tx1, "a", storage.Row{storage.Integer(1), storage.Text("a-row")})
	require.NoError(t, err)
	_, err = m.Insert(tx2, "b", storage.Row{storage.Integer(1), storage.Text("b-row")})
	require.NoError(t, err)

	// tx2 -> tx1 wait edge only; no cycle yet, so this is a plain
	// conflict, not a deadlock.
	_, err = m.Insert(tx2, "a", storage.Row{storage.Integer(2), storage.Text("a-row-2")})
	assert.Error(t, err, "tx2 should conflict on the Exclusive lock tx1 holds on \"a\"")

	// tx1 -> tx2 completes the cycle. tx2 is younger, so it is the
	// victim; tx1 (the caller) is not, so acquireLock retries and
	// succeeds once tx2's locks are released.
	_, err = m.Insert(tx1, "b", storage.Row{storage.Integer(2), storage.Text("b-row-2")})
	require.NoError(t, err, "tx1 should win the cycle since tx2 is the younger victim")

	assert.False(t, m.locks.HasLock(tx2, "b"), "tx2's locks must be released once it is aborted as the deadlock victim")
	assert.False(t, m.locks.HasLock(tx2, "a"))

	require.NoError(t, m.Commit(tx1))

	verify := m.Begin(mvcc.ReadCommitted)
	bRows, err := m.Select(verify, "b", nil)
	require.NoError(t, err)
	assert.Len(t, bRows, 1, "tx2's insert into b must not have survived its forced abort")
	assert.Equal(t, "b-row-2", bRows[0][1].Text)
	require.NoError(t, m.Commit(verify))
}
