package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testColumns() []Column {
	return []Column{
		{Name: "id", Type: TypeInteger, Constraints: ConstraintPrimaryKey},
		{Name: "name", Type: TypeText},
	}
}

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	require.NoError(t, b.InsertTable("default", "users", testColumns()))
	assert.True(t, b.TableExists("default", "users"))

	id, err := b.PushRow("default", "users", Row{Integer(1), Text("Alice")})
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = b.PushRow("default", "users", Row{Integer(1), Text("Bob")})
	assert.Error(t, err, "duplicate primary key must fail")

	tbl, err := b.GetTable("default", "users")
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Alice", tbl.Rows[0][1].Text)

	n, err := b.UpdateRows("default", "users", []ColumnUpdate{{Column: "name", Value: Text("Alicia")}}, &Predicate{Column: "id", Value: Integer(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tbl, _ = b.GetTable("default", "users")
	assert.Equal(t, "Alicia", tbl.Rows[0][1].Text)

	require.NoError(t, b.AddColumn("default", "users", Column{Name: "age", Type: TypeInteger}))
	tbl, _ = b.GetTable("default", "users")
	assert.Len(t, tbl.Columns, 3)
	assert.True(t, tbl.Rows[0][2].IsNull())

	require.NoError(t, b.RenameColumn("default", "users", "age", "years"))
	tbl, _ = b.GetTable("default", "users")
	assert.Equal(t, "years", tbl.Columns[2].Name)

	require.NoError(t, b.DropColumn("default", "users", "years"))
	tbl, _ = b.GetTable("default", "users")
	assert.Len(t, tbl.Columns, 2)

	deleted, err := b.DeleteRows("default", "users", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	require.NoError(t, b.DropTable("default", "users"))
	assert.False(t, b.TableExists("default", "users"))
}

func TestMemStore(t *testing.T) {
	exerciseBackend(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := OpenFileStore(filepath.Join(dir, "quill.db"))
	require.NoError(t, err)
	defer fs.Close()
	exerciseBackend(t, fs)
}

func TestMmapStore(t *testing.T) {
	dir := t.TempDir()
	ms, err := OpenMmapStore(filepath.Join(dir, "quill.mmap"))
	require.NoError(t, err)
	defer ms.Close()
	exerciseBackend(t, ms)
}
