// Package savepoint implements per-transaction ordered savepoints:
// create/rollback_to/release/clear_transaction_savepoints, grounded on
// original_source/src/savepoint/manager.rs. The manager itself is
// storage-agnostic: it records, per named savepoint, a snapshot of the
// keys the owning transaction had written up to that point, and hands
// that snapshot back on rollback_to for the caller (internal/txn) to
// re-apply against the MVCC manager.
package savepoint

import (
	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/storage"
)

// entry is one named savepoint: the write-set snapshot as it stood when
// the savepoint was created. A key mapped to a nil Row means the key had
// not yet been written by this transaction at that point, so rolling
// back to this savepoint must undo (remove) any write to that key made
// afterward.
type entry struct {
	name     string
	snapshot map[string]storage.Row
}

// Manager owns the ordered savepoint list for every active transaction.
type Manager struct {
	byTx map[uint64][]entry
}

func New() *Manager {
	return &Manager{byTx: make(map[uint64][]entry)}
}

// Create records a new savepoint named name for tx, snapshotting the
// given write-set (key -> current committed-within-tx row). Duplicate
// names within the same transaction are rejected.
func (m *Manager) Create(tx uint64, name string, writes map[string]storage.Row) error {
	for _, e := range m.byTx[tx] {
		if e.name == name {
			return dberrors.ErrSavepointExists(name)
		}
	}
	snap := make(map[string]storage.Row, len(writes))
	for k, v := range writes {
		if v == nil {
			snap[k] = nil
			continue
		}
		// Keep an empty row non-nil: the caller uses it as a delete tombstone.
		snap[k] = append(make(storage.Row, 0, len(v)), v...)
	}
	m.byTx[tx] = append(m.byTx[tx], entry{name: name, snapshot: snap})
	return nil
}

// RollbackTo finds the named savepoint, truncates every savepoint
// created after it (LIFO — the named one itself survives and can be
// rolled back to again), and returns its write-set snapshot for the
// caller to reinstate.
func (m *Manager) RollbackTo(tx uint64, name string) (map[string]storage.Row, error) {
	list := m.byTx[tx]
	idx := -1
	for i, e := range list {
		if e.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, dberrors.ErrSavepointNotFound(name)
	}
	m.byTx[tx] = list[:idx+1]
	return list[idx].snapshot, nil
}

// Release removes exactly the named savepoint, leaving every other
// savepoint (including ones created after it) intact.
func (m *Manager) Release(tx uint64, name string) error {
	list := m.byTx[tx]
	for i, e := range list {
		if e.name == name {
			m.byTx[tx] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return dberrors.ErrSavepointNotFound(name)
}

// ClearTransaction discards every savepoint belonging to tx, called once
// the owning transaction commits or rolls back in full.
func (m *Manager) ClearTransaction(tx uint64) {
	delete(m.byTx, tx)
}

// Names returns the currently active savepoint names for tx, in
// creation order.
func (m *Manager) Names(tx uint64) []string {
	list := m.byTx[tx]
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.name
	}
	return out
}
