package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"

	"github.com/quillsql/quillsql/internal/dberrors"
)

// MmapStore is the memory-mapped Backend variant. The whole catalog
// (every tenant's tables) is gob-encoded and kept in a single backing
// file opened with github.com/edsrzf/mmap-go; every mutation re-encodes
// the catalog and writes it back into the mapping, growing the file by
// closing, truncating to a larger size and re-mapping when the encoded
// catalog no longer fits (the contract's "grow by resizing" clause).
type MmapStore struct {
	mu      sync.Mutex
	file    *os.File
	mapping mmap.MMap
	tenants map[string]map[string]*Table
}

const mmapHeaderSize = 8 // uint64 LE length prefix for the encoded catalog

// OpenMmapStore opens (creating if absent) a memory-mapped catalog file.
func OpenMmapStore(path string) (*MmapStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, dberrors.ErrIoError(err, "opening mmap store %q", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberrors.ErrIoError(err, "stat mmap store %q", path)
	}
	if info.Size() < mmapHeaderSize {
		if err := f.Truncate(mmapHeaderSize); err != nil {
			f.Close()
			return nil, dberrors.ErrIoError(err, "initializing mmap store %q", path)
		}
	}
	m := &MmapStore{file: f, tenants: make(map[string]map[string]*Table)}
	if err := m.remap(); err != nil {
		f.Close()
		return nil, err
	}
	if err := m.load(); err != nil {
		m.mapping.Unmap()
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *MmapStore) remap() error {
	if m.mapping != nil {
		m.mapping.Unmap()
	}
	mapping, err := mmap.Map(m.file, mmap.RDWR, 0)
	if err != nil {
		return dberrors.ErrIoError(err, "mapping file")
	}
	m.mapping = mapping
	return nil
}

func (m *MmapStore) load() error {
	if len(m.mapping) < mmapHeaderSize {
		return nil
	}
	n := binary.LittleEndian.Uint64(m.mapping[:mmapHeaderSize])
	if n == 0 || mmapHeaderSize+n > uint64(len(m.mapping)) {
		return nil
	}
	payload := m.mapping[mmapHeaderSize : mmapHeaderSize+n]
	var tenants map[string]map[string]*Table
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&tenants); err != nil {
		return nil // empty/corrupt catalog treated as fresh store
	}
	m.tenants = tenants
	return nil
}

// flush re-encodes the whole catalog and writes it into the mapping,
// growing the backing file first if the encoded form no longer fits.
func (m *MmapStore) flush() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.tenants); err != nil {
		return dberrors.ErrIoError(err, "encoding mmap catalog")
	}
	payload := buf.Bytes()
	needed := uint64(mmapHeaderSize + len(payload))
	if needed > uint64(len(m.mapping)) {
		if err := m.mapping.Unmap(); err != nil {
			return dberrors.ErrIoError(err, "unmapping before grow")
		}
		newSize := needed * 2
		if err := m.file.Truncate(int64(newSize)); err != nil {
			return dberrors.ErrIoError(err, "growing mmap store file")
		}
		if err := m.remap(); err != nil {
			return err
		}
	}
	binary.LittleEndian.PutUint64(m.mapping[:mmapHeaderSize], uint64(len(payload)))
	copy(m.mapping[mmapHeaderSize:], payload)
	return m.mapping.Flush()
}

func (m *MmapStore) tables(tenant string) map[string]*Table {
	t, ok := m.tenants[tenant]
	if !ok {
		t = make(map[string]*Table)
		m.tenants[tenant] = t
	}
	return t
}

func (m *MmapStore) InsertTable(tenant, name string, cols []Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbls := m.tables(tenant)
	if _, exists := tbls[name]; exists {
		return dberrors.ErrOther("table %q already exists", name)
	}
	tbls[name] = &Table{Name: name, Columns: append([]Column(nil), cols...)}
	return m.flush()
}

func (m *MmapStore) GetTable(tenant, name string) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables(tenant)[name]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *MmapStore) TableExists(tenant, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables(tenant)[name]
	return ok
}

func (m *MmapStore) ListTables(tenant string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables(tenant)))
	for n := range m.tables(tenant) {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MmapStore) DropTable(tenant, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbls := m.tables(tenant)
	if _, ok := tbls[name]; !ok {
		return dberrors.ErrTableNotFound(name)
	}
	delete(tbls, name)
	return m.flush()
}

func (m *MmapStore) Clear(tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = make(map[string]*Table)
	return m.flush()
}

func (m *MmapStore) PushRow(tenant, table string, row Row) (string, error) {
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
	return id, m.flush()
}

func (m *MmapStore) UpdateRows(tenant, table string, updates []ColumnUpdate, where *Predicate) (int, error) {
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
	if n > 0 {
		if err := m.flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (m *MmapStore) DeleteRows(tenant, table string, where *Predicate) (int, error) {
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
	if n > 0 {
		if err := m.flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (m *MmapStore) AddColumn(tenant, table string, col Column) error {
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
	return m.flush()
}

func (m *MmapStore) DropColumn(tenant, table, column string) error {
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
	return m.flush()
}

func (m *MmapStore) RenameColumn(tenant, table, oldName, newName string) error {
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
	return m.flush()
}

func (m *MmapStore) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapping.Flush()
}

func (m *MmapStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.flush(); err != nil {
		return err
	}
	if err := m.mapping.Unmap(); err != nil {
		return dberrors.ErrIoError(err, "unmapping on close")
	}
	return m.file.Close()
}

func (m *MmapStore) Mode() Mode { return ModeMmap }
