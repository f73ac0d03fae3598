package storage

import "github.com/quillsql/quillsql/internal/dberrors"

// Predicate is an optional equality filter used by update_rows/delete_rows
// (where_clause in the original design): column name and the value it must
// equal. A nil Predicate matches every row.
type Predicate struct {
	Column string
	Value  Value
}

func (p *Predicate) matches(t *Table, row Row) bool {
	if p == nil {
		return true
	}
	idx := t.ColumnIndex(p.Column)
	if idx < 0 {
		return false
	}
	return Equal(row[idx], p.Value)
}

// ColumnUpdate is one SET clause: column name and new value.
type ColumnUpdate struct {
	Column string
	Value  Value
}

// Backend is the single storage substrate contract shared by every
// variant (in-memory, file-backed, memory-mapped). Implementations own
// table catalog and row vectors. Arity, type and not-null checks happen
// in the package-level validatePush helper below; primary-key/unique
// checks are done per backend (MemStore and MmapStore through
// checkUnique, FileStore by scanning its table bucket).
type Backend interface {
	InsertTable(tenant, name string, cols []Column) error
	GetTable(tenant, name string) (*Table, error)
	TableExists(tenant, name string) bool
	ListTables(tenant string) ([]string, error)
	DropTable(tenant, name string) error
	Clear(tenant string) error

	PushRow(tenant, table string, row Row) (rowID string, err error)
	UpdateRows(tenant, table string, updates []ColumnUpdate, where *Predicate) (updated int, err error)
	DeleteRows(tenant, table string, where *Predicate) (deleted int, err error)

	AddColumn(tenant, table string, col Column) error
	DropColumn(tenant, table, column string) error
	RenameColumn(tenant, table, oldName, newName string) error

	Sync() error
	Close() error
	Mode() Mode
}

// Mode names which storage variant a Backend implements.
type Mode int

const (
	ModeMemory Mode = iota
	ModeFile
	ModeMmap
)

func (m Mode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeMmap:
		return "mmap"
	default:
		return "memory"
	}
}

// validatePush enforces SchemaArity, TypeMismatch and NotNullViolation for
// a candidate row being pushed into t. PrimaryKey/Unique duplicate
// checking is the caller's job since it requires scanning existing rows,
// which every backend does differently.
func validatePush(t *Table, row Row) error {
	if len(row) != len(t.Columns) {
		return dberrors.ErrSchemaArity(len(row), len(t.Columns))
	}
	for i, col := range t.Columns {
		v := row[i]
		if col.Has(ConstraintNotNull) {
			if v.IsNull() || (v.Kind == KindText && v.Text == "") {
				return dberrors.ErrNotNullViolation(col.Name)
			}
		}
		if !col.Type.Matches(v) {
			return dberrors.ErrTypeMismatch(col.Name, col.Type, v.Kind)
		}
	}
	return nil
}

// checkUnique scans existing rows for a PrimaryKey/Unique collision on
// the given column index.
func checkUnique(t *Table, colIdx int, v Value) error {
	if v.IsNull() {
		return nil
	}
	for _, r := range t.Rows {
		if Equal(r[colIdx], v) {
			return dberrors.ErrDuplicateKey(t.Columns[colIdx].Name, v)
		}
	}
	return nil
}

func rowPrimaryKeyText(t *Table, row Row) string {
	pk := t.PrimaryKeyIndex()
	if pk < 0 {
		return ""
	}
	return row[pk].String()
}
