package storage

// DataType names the declared type of a column. It governs TypeMismatch
// checks on push_row/update_rows.
type DataType int

const (
	TypeInteger DataType = iota
	TypeFloat
	TypeText
	TypeBoolean
	TypeDate
	TypeTimestamp
	TypeTSVector
	TypeNull
)

func (t DataType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeTSVector:
		return "TSVECTOR"
	default:
		return "NULL"
	}
}

// Matches reports whether v's kind is compatible with the declared type.
func (t DataType) Matches(v Value) bool {
	if v.IsNull() {
		return true
	}
	switch t {
	case TypeInteger:
		return v.Kind == KindInteger
	case TypeFloat:
		return v.Kind == KindFloat || v.Kind == KindInteger
	case TypeText:
		return v.Kind == KindText
	case TypeBoolean:
		return v.Kind == KindBoolean
	case TypeDate:
		return v.Kind == KindDate
	case TypeTimestamp:
		return v.Kind == KindTimestamp
	case TypeTSVector:
		return v.Kind == KindTSVector || v.Kind == KindText
	default:
		return true
	}
}

// Constraint is a bit in a Column's constraint set.
type Constraint int

const (
	ConstraintPrimaryKey Constraint = 1 << iota
	ConstraintNotNull
	ConstraintUnique
	ConstraintForeignKey
)

// ForeignKeyRef names the referenced table/column for a ForeignKey
// constraint.
type ForeignKeyRef struct {
	Table  string
	Column string
}

// Column is one field of a table schema.
type Column struct {
	Name        string
	Type        DataType
	Constraints Constraint
	References  *ForeignKeyRef
}

func (c Column) Has(con Constraint) bool { return c.Constraints&con != 0 }

// Row is an ordered Value vector matching a Table's column arity.
type Row []Value

// Table is an ordered column schema plus an ordered row vector. Lookups
// by primary key scan Rows/RowIDs linearly.
type Table struct {
	Name    string
	Columns []Column
	Rows    []Row

	// RowIDs parallels Rows; it is the primary key text used to build row
	// keys, populated from the PrimaryKey column (or a random UUID when
	// no PrimaryKey constraint is declared).
	RowIDs []string
}

// PrimaryKeyIndex returns the column index carrying PrimaryKey, or -1.
func (t *Table) PrimaryKeyIndex() int {
	for i, c := range t.Columns {
		if c.Has(ConstraintPrimaryKey) {
			return i
		}
	}
	return -1
}

func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone deep-copies the table, used by MmapStore.GetTable to hand out a
// copy independent of the store's catalog.
func (t *Table) Clone() *Table {
	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = append(Row(nil), r...)
	}
	ids := make([]string, len(t.RowIDs))
	copy(ids, t.RowIDs)
	return &Table{Name: t.Name, Columns: cols, Rows: rows, RowIDs: ids}
}
