package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/sqlast"
	"github.com/quillsql/quillsql/internal/storage"
)

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, bio TSVECTOR)`)
	require.NoError(t, err)
	ct, ok := stmt.(sqlast.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Table)
	require.Len(t, ct.Columns, 3)
	assert.True(t, ct.Columns[0].PrimaryKey)
	assert.True(t, ct.Columns[1].NotNull)
	assert.Equal(t, storage.TypeTSVector, ct.Columns[2].Type)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse(`INSERT INTO users (id, name) VALUES (1, 'alice')`)
	require.NoError(t, err)
	ins, ok := stmt.(sqlast.Insert)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name"}, ins.Columns)
	require.Len(t, ins.Values, 2)
	lit := ins.Values[1].(sqlast.Literal)
	assert.Equal(t, "alice", lit.Value.Text)
}

func TestParseSelectWhereAndOrderBy(t *testing.T) {
	stmt, err := Parse(`SELECT id, name FROM users WHERE id = 1 AND name <> 'bob' ORDER BY name DESC LIMIT 10`)
	require.NoError(t, err)
	sel, ok := stmt.(sqlast.Select)
	require.True(t, ok)
	assert.Equal(t, "users", sel.From)
	require.Len(t, sel.Items, 2)
	assert.Equal(t, 10, sel.Limit)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Desc)
	be, ok := sel.Where.(sqlast.BoolExpr)
	require.True(t, ok)
	assert.Equal(t, sqlast.BoolAnd, be.Op)
}

func TestParseSelectJoin(t *testing.T) {
	stmt, err := Parse(`SELECT orders.id, users.name FROM orders JOIN users ON orders.user_id = users.id`)
	require.NoError(t, err)
	sel, ok := stmt.(sqlast.Select)
	require.True(t, ok)
	require.Len(t, sel.Joins, 1)
	assert.Equal(t, "users", sel.Joins[0].Table)
}

func TestParseMatchPredicate(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM docs WHERE MATCH(body, 'database engine')`)
	require.NoError(t, err)
	sel, ok := stmt.(sqlast.Select)
	require.True(t, ok)
	m, ok := sel.Where.(sqlast.Match)
	require.True(t, ok)
	assert.Equal(t, "body", m.Column.Column)
	assert.Equal(t, "database engine", m.Query)
}

func TestParseAtAtOperator(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM docs WHERE body @@ 'quill'`)
	require.NoError(t, err)
	sel := stmt.(sqlast.Select)
	m, ok := sel.Where.(sqlast.Match)
	require.True(t, ok)
	assert.Equal(t, "quill", m.Query)
}

func TestParseTsRankSelectItemWithAlias(t *testing.T) {
	stmt, err := Parse(`SELECT id, ts_rank(body, 'rust') AS score FROM docs`)
	require.NoError(t, err)
	sel, ok := stmt.(sqlast.Select)
	require.True(t, ok)
	require.Len(t, sel.Items, 2)
	require.NotNil(t, sel.Items[1].Rank)
	assert.Equal(t, "body", sel.Items[1].Rank.Column.Column)
	assert.Equal(t, "rust", sel.Items[1].Rank.Query)
	assert.Equal(t, "score", sel.Items[1].Alias)
}

func TestParseTsRankOrderBy(t *testing.T) {
	stmt, err := Parse(`SELECT id FROM docs ORDER BY ts_rank(body, 'rust') DESC`)
	require.NoError(t, err)
	sel, ok := stmt.(sqlast.Select)
	require.True(t, ok)
	require.Len(t, sel.OrderBy, 1)
	require.NotNil(t, sel.OrderBy[0].Rank)
	assert.Equal(t, "body", sel.OrderBy[0].Rank.Column.Column)
	assert.Equal(t, "rust", sel.OrderBy[0].Rank.Query)
	assert.True(t, sel.OrderBy[0].Desc)
}

func TestParseUpdateDelete(t *testing.T) {
	stmt, err := Parse(`UPDATE users SET name = 'carol' WHERE id = 2`)
	require.NoError(t, err)
	up, ok := stmt.(sqlast.Update)
	require.True(t, ok)
	assert.Equal(t, "users", up.Table)

	stmt, err = Parse(`DELETE FROM users WHERE id = 2`)
	require.NoError(t, err)
	_, ok = stmt.(sqlast.Delete)
	require.True(t, ok)
}

func TestParseTransactionControl(t *testing.T) {
	stmt, err := Parse(`BEGIN ISOLATION LEVEL SERIALIZABLE`)
	require.NoError(t, err)
	b, ok := stmt.(sqlast.Begin)
	require.True(t, ok)
	assert.Equal(t, sqlast.IsolationSerializable, b.Isolation)

	_, err = Parse(`SAVEPOINT sp1`)
	require.NoError(t, err)
	_, err = Parse(`ROLLBACK TO SAVEPOINT sp1`)
	require.NoError(t, err)
	_, err = Parse(`RELEASE SAVEPOINT sp1`)
	require.NoError(t, err)
	_, err = Parse(`COMMIT`)
	require.NoError(t, err)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(`SELEKT * FROM users`)
	assert.Error(t, err)
}
