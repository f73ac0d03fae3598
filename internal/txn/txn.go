// Package txn is the transaction orchestrator: it ties the MVCC version
// store, table lock manager, deadlock detector, savepoint manager, WAL,
// and the pluggable storage substrate together behind one Begin/Commit/
// Rollback surface, plus the DML/DDL operations a statement executor
// drives per transaction.
package txn

import (
	"sync"
	"time"

	"github.com/quillsql/quillsql/internal/cmdlog"
	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/deadlock"
	"github.com/quillsql/quillsql/internal/keycodec"
	"github.com/quillsql/quillsql/internal/lockmgr"
	"github.com/quillsql/quillsql/internal/mvcc"
	"github.com/quillsql/quillsql/internal/savepoint"
	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/wal"
)

// tombstone is the sentinel mvcc value representing a deleted row: a
// non-nil zero-length Row. Every real row has at least one column, so
// this is unambiguous.
var tombstone = storage.Row{}

func isTombstone(r storage.Row) bool { return r != nil && len(r) == 0 }

// Manager orchestrates every transaction against one tenant's tables.
type Manager struct {
	mu sync.Mutex

	backend storage.Backend
	tenant  string

	mvcc   *mvcc.Manager
	locks  *lockmgr.Manager
	dl     *deadlock.Detector
	sp     *savepoint.Manager
	wal    *wal.WAL
	sm     *cmdlog.StateMachine
	nextID uint64

	pending map[uint64][]cmdlog.Command
}

// New builds a transaction manager over backend. walLog and sm are
// optional: a nil wal disables durability logging, a nil state machine
// disables command-log replication.
func New(backend storage.Backend, tenant string, walLog *wal.WAL, sm *cmdlog.StateMachine) *Manager {
	return &Manager{
		backend: backend,
		tenant:  tenant,
		mvcc:    mvcc.New(),
		locks:   lockmgr.New(),
		dl:      deadlock.New(),
		sp:      savepoint.New(),
		wal:     walLog,
		sm:      sm,
		pending: make(map[uint64][]cmdlog.Command),
	}
}

func (m *Manager) nextWALID() uint64 {
	m.nextID++
	return m.nextID
}

// Begin starts a new transaction under the given isolation level.
func (m *Manager) Begin(isolation mvcc.Isolation) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.mvcc.Begin(isolation)
	m.dl.Register(tx)
	return tx
}

// acquireLock attempts to grant tx a lock on table, running synchronous
// deadlock detection on conflict: wait-for edges are added against every
// holder whose mode conflicts, a cycle is searched for, and if found the youngest
// transaction in the cycle is aborted to break it — itself if it is the
// youngest, in which case the caller must roll tx back.
func (m *Manager) acquireLock(tx uint64, table string, mode lockmgr.Mode) error {
	for {
		err := m.locks.Acquire(tx, table, mode)
		if err == nil {
			m.dl.RemoveWaitsFrom(tx)
			return nil
		}

		for _, h := range m.locks.ConflictingHolders(tx, table, mode) {
			m.dl.AddWait(tx, h.Tx, table)
		}

		victim, found := m.dl.Detect()
		if !found {
			return err
		}
		if victim == tx {
			m.dl.RemoveTransaction(tx)
			return dberrors.ErrDeadlock(tx)
		}
		m.abortLocked(victim)
	}
}

// abortLocked force-rolls-back a transaction chosen as a deadlock
// victim: releases its locks, clears its wait edges and savepoints, and
// discards its MVCC writes.
func (m *Manager) abortLocked(tx uint64) {
	m.locks.ReleaseAll(tx)
	m.dl.RemoveTransaction(tx)
	m.sp.ClearTransaction(tx)
	m.mvcc.Rollback(tx)
	m.mvcc.Forget(tx)
	delete(m.pending, tx)
}

func rowKey(table, pk string) string {
	return keycodec.RowBase(table, pk)
}

func (m *Manager) recordCommand(tx uint64, cmd cmdlog.Command) {
	m.pending[tx] = append(m.pending[tx], cmd)
}

func (m *Manager) appendWAL(tx uint64, kind wal.EntryKind, table, key string, row, oldRow storage.Row, cols []storage.Column) error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Append(wal.Entry{
		ID:      m.nextWALID(),
		TxID:    tx,
		Kind:    kind,
		Table:   table,
		Key:     key,
		Row:     row,
		OldRow:  oldRow,
		Columns: cols,
	})
}

// CreateTable is a DDL operation: it takes the table's Exclusive lock and
// applies immediately against the backend (schema changes are not
// MVCC-versioned, matching a lock-protected, immediately-visible DDL
// model).
func (m *Manager) CreateTable(tx uint64, table string, cols []storage.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return err
	}
	if err := m.backend.InsertTable(m.tenant, table, cols); err != nil {
		return err
	}
	if err := m.appendWAL(tx, wal.KindCreateTable, table, "", nil, nil, cols); err != nil {
		return err
	}
	m.recordCommand(tx, cmdlog.Command{Kind: wal.KindCreateTable, Table: table, Columns: cols})
	return nil
}

func (m *Manager) DropTable(tx uint64, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return err
	}
	if err := m.backend.DropTable(m.tenant, table); err != nil {
		return err
	}
	if err := m.appendWAL(tx, wal.KindDropTable, table, "", nil, nil, nil); err != nil {
		return err
	}
	m.recordCommand(tx, cmdlog.Command{Kind: wal.KindDropTable, Table: table})
	return nil
}

func (m *Manager) AddColumn(tx uint64, table string, col storage.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return err
	}
	if err := m.backend.AddColumn(m.tenant, table, col); err != nil {
		return err
	}
	if err := m.appendWAL(tx, wal.KindAlterTable, table, "", nil, nil, []storage.Column{col}); err != nil {
		return err
	}
	m.recordCommand(tx, cmdlog.Command{Kind: wal.KindAlterTable, Table: table, Columns: []storage.Column{col}})
	return nil
}

func (m *Manager) DropColumn(tx uint64, table, column string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return err
	}
	if err := m.backend.DropColumn(m.tenant, table, column); err != nil {
		return err
	}
	if err := m.appendWAL(tx, wal.KindAlterTable, table, "", nil, nil, nil); err != nil {
		return err
	}
	m.recordCommand(tx, cmdlog.Command{Kind: wal.KindAlterTable, Table: table})
	return nil
}

func (m *Manager) RenameColumn(tx uint64, table, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return err
	}
	if err := m.backend.RenameColumn(m.tenant, table, oldName, newName); err != nil {
		return err
	}
	if err := m.appendWAL(tx, wal.KindAlterTable, table, "", nil, nil, nil); err != nil {
		return err
	}
	m.recordCommand(tx, cmdlog.Command{Kind: wal.KindAlterTable, Table: table})
	return nil
}

// Insert writes a new row under tx. Uniqueness is checked against the
// backend's already-committed rows plus any live MVCC version at the
// candidate key (covering concurrent uncommitted inserts of the same
// primary key).
func (m *Manager) Insert(tx uint64, table string, row storage.Row) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return "", dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return "", err
	}

	schema, err := m.backend.GetTable(m.tenant, table)
	if err != nil {
		return "", err
	}
	if schema == nil {
		return "", dberrors.ErrTableNotFound(table)
	}
	if err := validateRow(schema, row); err != nil {
		return "", err
	}

	pk := primaryKeyText(schema, row)
	key := rowKey(table, pk)

	if err := m.checkInsertUnique(schema, table, pk, row); err != nil {
		return "", err
	}

	if err := m.mvcc.Write(tx, key, row); err != nil {
		return "", err
	}
	if err := m.appendWAL(tx, wal.KindInsert, table, key, row, nil, nil); err != nil {
		return "", err
	}
	m.recordCommand(tx, cmdlog.Command{Kind: wal.KindInsert, Table: table, Key: key, Row: row})
	return pk, nil
}

func (m *Manager) checkInsertUnique(schema *storage.Table, table, pk string, row storage.Row) error {
	key := rowKey(table, pk)
	if existing, ok := m.mvcc.ReadUncommitted(key); ok && !isTombstone(existing) {
		return dberrors.ErrDuplicateKey("primary key", pk)
	}
	for i, col := range schema.Columns {
		if !col.Has(storage.ConstraintPrimaryKey) && !col.Has(storage.ConstraintUnique) {
			continue
		}
		for ri, existingRow := range schema.Rows {
			if storage.Equal(existingRow[i], row[i]) {
				existingPK := ""
				if ri < len(schema.RowIDs) {
					existingPK = schema.RowIDs[ri]
				}
				if ek := rowKey(table, existingPK); m.isDeletedByAny(ek) {
					continue
				}
				return dberrors.ErrDuplicateKey(col.Name, row[i])
			}
		}
	}
	return nil
}

func (m *Manager) isDeletedByAny(key string) bool {
	v, ok := m.mvcc.ReadUncommitted(key)
	return ok && isTombstone(v)
}

// visibleRows computes, for table, the full set of (pk, row) pairs tx
// can currently see under its isolation level: the backend's committed
// rows overlaid with tx's own writes and any other transaction's writes
// visible per isolation, plus rows only tx's own uncommitted inserts have
// created. A row that exists only as another transaction's uncommitted
// insert is not included, under any isolation level.
func (m *Manager) visibleRows(tx uint64, table string) ([]string, []storage.Row, error) {
	schema, err := m.backend.GetTable(m.tenant, table)
	if err != nil {
		return nil, nil, err
	}
	if schema == nil {
		return nil, nil, dberrors.ErrTableNotFound(table)
	}

	isolation, _ := m.mvcc.Isolation(tx)
	var asOf time.Time
	if isolation == mvcc.RepeatableRead || isolation == mvcc.Serializable {
		asOf, _ = m.mvcc.StartTime(tx)
	}

	seen := make(map[string]bool, len(schema.RowIDs))
	var pks []string
	var rows []storage.Row

	visit := func(pk string, base storage.Row) {
		if seen[pk] {
			return
		}
		seen[pk] = true
		key := rowKey(table, pk)
		row, present := m.resolveVisible(tx, key, isolation, asOf, base)
		if !present {
			return
		}
		pks = append(pks, pk)
		rows = append(rows, row)
	}

	for i, pk := range schema.RowIDs {
		visit(pk, schema.Rows[i])
	}
	for _, key := range m.mvcc.WrittenKeys(tx) {
		k, err := keycodec.Parse(key)
		if err != nil || k.Kind != keycodec.KindRow || k.Table != table {
			continue
		}
		visit(k.PrimaryKey, nil)
	}

	return pks, rows, nil
}

// resolveVisible resolves the visible row at key given base (the
// backend's already-committed copy, or nil if the backend has none).
func (m *Manager) resolveVisible(tx uint64, key string, isolation mvcc.Isolation, asOf time.Time, base storage.Row) (storage.Row, bool) {
	if own, ok := m.mvcc.ReadOwn(tx, key); ok {
		if isTombstone(own) {
			return nil, false
		}
		return own, true
	}

	var v storage.Row
	var ok bool
	switch isolation {
	case mvcc.ReadUncommitted:
		v, ok = m.mvcc.ReadUncommitted(key)
	case mvcc.RepeatableRead, mvcc.Serializable:
		v, ok = m.mvcc.ReadCommittedAsOf(key, asOf)
	default:
		v, ok = m.mvcc.ReadCommitted(key)
	}
	if ok {
		if isTombstone(v) {
			return nil, false
		}
		return v, true
	}
	if base == nil {
		return nil, false
	}
	return base, true
}

// TableSchema returns table's current column schema. Schema changes are
// DDL, applied directly to the backend rather than MVCC-versioned, so
// this reflects the latest committed definition regardless of tx.
func (m *Manager) TableSchema(tx uint64, table string) (*storage.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return nil, dberrors.ErrTransactionNotActive(tx)
	}
	return m.backend.GetTable(m.tenant, table)
}

// Select returns every row in table visible to tx matching where. Under
// Serializable isolation it takes a Shared table lock first (readers do
// not block writers under the other isolation levels).
func (m *Manager) Select(tx uint64, table string, where *storage.Predicate) ([]storage.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return nil, dberrors.ErrTransactionNotActive(tx)
	}

	if isolation, _ := m.mvcc.Isolation(tx); isolation == mvcc.Serializable {
		if err := m.acquireLock(tx, table, lockmgr.Shared); err != nil {
			return nil, err
		}
	}

	schema, err := m.backend.GetTable(m.tenant, table)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, dberrors.ErrTableNotFound(table)
	}

	_, rows, err := m.visibleRows(tx, table)
	if err != nil {
		return nil, err
	}
	if where == nil {
		return rows, nil
	}
	idx := schema.ColumnIndex(where.Column)
	if idx < 0 {
		return nil, dberrors.ErrColumnNotFound(where.Column)
	}
	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		if storage.Equal(r[idx], where.Value) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Update applies updates to every row in table matching where, visible
// to tx.
func (m *Manager) Update(tx uint64, table string, updates []storage.ColumnUpdate, where *storage.Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return 0, dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return 0, err
	}

	schema, err := m.backend.GetTable(m.tenant, table)
	if err != nil {
		return 0, err
	}
	if schema == nil {
		return 0, dberrors.ErrTableNotFound(table)
	}

	pks, rows, err := m.visibleRows(tx, table)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, row := range rows {
		if where != nil {
			idx := schema.ColumnIndex(where.Column)
			if idx < 0 {
				return n, dberrors.ErrColumnNotFound(where.Column)
			}
			if !storage.Equal(row[idx], where.Value) {
				continue
			}
		}
		newRow := append(storage.Row(nil), row...)
		for _, u := range updates {
			idx := schema.ColumnIndex(u.Column)
			if idx < 0 {
				return n, dberrors.ErrColumnNotFound(u.Column)
			}
			newRow[idx] = u.Value
		}
		if err := validateRow(schema, newRow); err != nil {
			return n, err
		}
		key := rowKey(table, pks[i])
		if err := m.mvcc.Write(tx, key, newRow); err != nil {
			return n, err
		}
		if err := m.appendWAL(tx, wal.KindUpdate, table, key, newRow, row, nil); err != nil {
			return n, err
		}
		m.recordCommand(tx, cmdlog.Command{Kind: wal.KindUpdate, Table: table, Key: key, Row: newRow, OldRow: row})
		n++
	}
	return n, nil
}

// Delete removes every row in table matching where, visible to tx, by
// writing a tombstone version.
func (m *Manager) Delete(tx uint64, table string, where *storage.Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return 0, dberrors.ErrTransactionNotActive(tx)
	}
	if err := m.acquireLock(tx, table, lockmgr.Exclusive); err != nil {
		return 0, err
	}

	schema, err := m.backend.GetTable(m.tenant, table)
	if err != nil {
		return 0, err
	}
	if schema == nil {
		return 0, dberrors.ErrTableNotFound(table)
	}

	pks, rows, err := m.visibleRows(tx, table)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, row := range rows {
		if where != nil {
			idx := schema.ColumnIndex(where.Column)
			if idx < 0 {
				return n, dberrors.ErrColumnNotFound(where.Column)
			}
			if !storage.Equal(row[idx], where.Value) {
				continue
			}
		}
		key := rowKey(table, pks[i])
		if err := m.mvcc.Write(tx, key, tombstone); err != nil {
			return n, err
		}
		if err := m.appendWAL(tx, wal.KindDelete, table, key, nil, row, nil); err != nil {
			return n, err
		}
		m.recordCommand(tx, cmdlog.Command{Kind: wal.KindDelete, Table: table, Key: key, OldRow: row})
		n++
	}
	return n, nil
}

// Savepoint creates a named savepoint capturing tx's current write set.
func (m *Manager) Savepoint(tx uint64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	writes := make(map[string]storage.Row)
	for _, key := range m.mvcc.WrittenKeys(tx) {
		row, _ := m.mvcc.ReadOwn(tx, key)
		writes[key] = row
	}
	return m.sp.Create(tx, name, writes)
}

// RollbackToSavepoint restores tx's write set to the state captured at
// the named savepoint and discards every savepoint created after it.
func (m *Manager) RollbackToSavepoint(tx uint64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mvcc.IsActive(tx) {
		return dberrors.ErrTransactionNotActive(tx)
	}
	snap, err := m.sp.RollbackTo(tx, name)
	if err != nil {
		return err
	}

	current := m.mvcc.WrittenKeys(tx)
	for _, key := range current {
		if _, keep := snap[key]; !keep {
			m.mvcc.Write(tx, key, tombstone)
		}
	}
	for key, row := range snap {
		m.mvcc.Write(tx, key, row)
	}
	return nil
}

func (m *Manager) ReleaseSavepoint(tx uint64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sp.Release(tx, name)
}

// Commit runs the commit protocol: a durable WAL commit marker, the
// MVCC commit (which may fail with WriteConflict under Serializable),
// merging tx's writes into the backend, applying the buffered command
// batch to the replicated state machine, and releasing every lock/
// savepoint/deadlock-detector entry tx held.
func (m *Manager) Commit(tx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	writtenKeys := m.mvcc.WrittenKeys(tx)
	rows := make(map[string]storage.Row, len(writtenKeys))
	for _, key := range writtenKeys {
		row, _ := m.mvcc.ReadOwn(tx, key)
		rows[key] = row
	}

	commitID := m.nextWALID()
	if err := m.appendWAL(tx, wal.KindCommit, "", "", nil, nil, nil); err != nil {
		return err
	}

	if err := m.mvcc.Commit(tx); err != nil {
		m.abortLocked(tx)
		return err
	}

	for key, row := range rows {
		k, perr := keycodec.Parse(key)
		if perr != nil || k.Kind != keycodec.KindRow {
			continue
		}
		if err := m.mergeRow(k.Table, k.PrimaryKey, row); err != nil {
			return err
		}
	}

	if m.sm != nil {
		if cmds := m.pending[tx]; len(cmds) > 0 {
			m.sm.Apply(cmdlog.CommandBatch{ID: commitID, Commands: cmds})
		}
	}

	delete(m.pending, tx)
	m.locks.ReleaseAll(tx)
	m.dl.RemoveTransaction(tx)
	m.sp.ClearTransaction(tx)
	m.mvcc.Forget(tx)
	return nil
}

func (m *Manager) mergeRow(table, pk string, row storage.Row) error {
	existing, err := m.backend.GetTable(m.tenant, table)
	if err != nil {
		return err
	}
	if existing == nil {
		return dberrors.ErrTableNotFound(table)
	}
	rowIdx := -1
	for i, id := range existing.RowIDs {
		if id == pk {
			rowIdx = i
			break
		}
	}

	if isTombstone(row) {
		if rowIdx < 0 {
			return nil
		}
		pkCol := existing.PrimaryKeyIndex()
		if pkCol >= 0 {
			_, err := m.backend.DeleteRows(m.tenant, table, &storage.Predicate{Column: existing.Columns[pkCol].Name, Value: existing.Rows[rowIdx][pkCol]})
			return err
		}
		return nil
	}

	if rowIdx < 0 {
		_, err := m.backend.PushRow(m.tenant, table, row)
		return err
	}

	updates := make([]storage.ColumnUpdate, len(existing.Columns))
	for i, col := range existing.Columns {
		updates[i] = storage.ColumnUpdate{Column: col.Name, Value: row[i]}
	}
	pkCol := existing.PrimaryKeyIndex()
	if pkCol < 0 {
		return nil
	}
	_, err = m.backend.UpdateRows(m.tenant, table, updates, &storage.Predicate{Column: existing.Columns[pkCol].Name, Value: existing.Rows[rowIdx][pkCol]})
	return err
}

// Rollback discards every write tx made and releases its resources.
func (m *Manager) Rollback(tx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	walErr := m.appendWAL(tx, wal.KindRollback, "", "", nil, nil, nil)
	err := m.mvcc.Rollback(tx)
	delete(m.pending, tx)
	m.locks.ReleaseAll(tx)
	m.dl.RemoveTransaction(tx)
	m.sp.ClearTransaction(tx)
	m.mvcc.Forget(tx)
	if err != nil {
		return err
	}
	return walErr
}

func primaryKeyText(schema *storage.Table, row storage.Row) string {
	idx := schema.PrimaryKeyIndex()
	if idx < 0 {
		return ""
	}
	return row[idx].String()
}

func validateRow(schema *storage.Table, row storage.Row) error {
	if len(row) != len(schema.Columns) {
		return dberrors.ErrSchemaArity(len(row), len(schema.Columns))
	}
	for i, col := range schema.Columns {
		v := row[i]
		if col.Has(storage.ConstraintNotNull) && v.IsNull() {
			return dberrors.ErrNotNullViolation(col.Name)
		}
		if !col.Type.Matches(v) {
			return dberrors.ErrTypeMismatch(col.Name, col.Type, v.Kind)
		}
	}
	return nil
}
