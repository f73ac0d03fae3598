package storage

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/quillsql/quillsql/internal/dberrors"
)

// MemStore is the in-memory Backend variant: tables live only in RAM,
// guarded by a single mutex. There is no persistence; Sync and Close are
// no-ops, matching the contract's "In-memory: maps only" clause.
type MemStore struct {
	mu      sync.Mutex
	tenants map[string]map[string]*Table
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		tenants: make(map[string]map[string]*Table),
	}
}

func (m *MemStore) tables(tenant string) map[string]*Table {
	t, ok := m.tenants[tenant]
	if !ok {
		t = make(map[string]*Table)
		m.tenants[tenant] = t
	}
	return t
}

func (m *MemStore) InsertTable(tenant, name string, cols []Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbls := m.tables(tenant)
	if _, exists := tbls[name]; exists {
		return dberrors.ErrOther("table %q already exists", name)
	}
	tbls[name] = &Table{Name: name, Columns: append([]Column(nil), cols...)}
	return nil
}

func (m *MemStore) GetTable(tenant, name string) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[name]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (m *MemStore) TableExists(tenant, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables(tenant)[name]
	return ok
}

func (m *MemStore) ListTables(tenant string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables(tenant)))
	for n := range m.tables(tenant) {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) DropTable(tenant, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbls := m.tables(tenant)
	if _, ok := tbls[name]; !ok {
		return dberrors.ErrTableNotFound(name)
	}
	delete(tbls, name)
	return nil
}

func (m *MemStore) Clear(tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = make(map[string]*Table)
	return nil
}

func (m *MemStore) PushRow(tenant, table string, row Row) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[table]
	if !ok {
		return "", dberrors.ErrTableNotFound(table)
	}
	if err := validatePush(t, row); err != nil {
		return "", err
	}
	for i, col := range t.Columns {
		if col.Has(ConstraintPrimaryKey) || col.Has(ConstraintUnique) {
			if err := checkUnique(t, i, row[i]); err != nil {
				return "", err
			}
		}
	}
	t.Rows = append(t.Rows, row)
	id := rowPrimaryKeyText(t, row)
	if id == "" {
		id = uuid.New().String()
	}
	t.RowIDs = append(t.RowIDs, id)
	return id, nil
}

func (m *MemStore) UpdateRows(tenant, table string, updates []ColumnUpdate, where *Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[table]
	if !ok {
		return 0, dberrors.ErrTableNotFound(table)
	}
	n := 0
	for ri, row := range t.Rows {
		if !where.matches(t, row) {
			continue
		}
		for _, u := range updates {
			idx := t.ColumnIndex(u.Column)
			if idx < 0 {
				return n, dberrors.ErrColumnNotFound(u.Column)
			}
			row[idx] = u.Value
		}
		t.Rows[ri] = row
		n++
	}
	return n, nil
}

func (m *MemStore) DeleteRows(tenant, table string, where *Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[table]
	if !ok {
		return 0, dberrors.ErrTableNotFound(table)
	}
	keep := t.Rows[:0]
	keepIDs := t.RowIDs[:0]
	n := 0
	for i, row := range t.Rows {
		if where.matches(t, row) {
			n++
			continue
		}
		keep = append(keep, row)
		keepIDs = append(keepIDs, t.RowIDs[i])
	}
	t.Rows = keep
	t.RowIDs = keepIDs
	return n, nil
}

func (m *MemStore) AddColumn(tenant, table string, col Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[table]
	if !ok {
		return dberrors.ErrTableNotFound(table)
	}
	if t.ColumnIndex(col.Name) >= 0 {
		return dberrors.ErrOther("column %q already exists in table %q", col.Name, table)
	}
	t.Columns = append(t.Columns, col)
	for i, row := range t.Rows {
		t.Rows[i] = append(row, Null())
	}
	return nil
}

func (m *MemStore) DropColumn(tenant, table, column string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[table]
	if !ok {
		return dberrors.ErrTableNotFound(table)
	}
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return dberrors.ErrColumnNotFound(column)
	}
	t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)
	for i, row := range t.Rows {
		t.Rows[i] = append(row[:idx], row[idx+1:]...)
	}
	return nil
}

func (m *MemStore) RenameColumn(tenant, table, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[table]
	if !ok {
		return dberrors.ErrTableNotFound(table)
	}
	idx := t.ColumnIndex(oldName)
	if idx < 0 {
		return dberrors.ErrColumnNotFound(oldName)
	}
	if t.ColumnIndex(newName) >= 0 {
		return dberrors.ErrOther("column %q already exists in table %q", newName, table)
	}
	t.Columns[idx].Name = newName
	return nil
}

func (m *MemStore) Sync() error  { return nil }
func (m *MemStore) Close() error { return nil }
func (m *MemStore) Mode() Mode   { return ModeMemory }
