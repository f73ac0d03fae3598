package engine

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/sqlparse"
	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/txn"
	"github.com/quillsql/quillsql/internal/wal"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	backend := storage.NewMemStore()
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := wal.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	txm := txn.New(backend, "tenant1", w, nil)
	return New(txm, zerolog.Nop())
}

func mustExec(t *testing.T, s *Session, sql string) Result {
	t.Helper()
	res, err := s.Exec(sql, sqlparse.Parse)
	require.NoError(t, err, sql)
	return res
}

func TestEngineCreateInsertSelect(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	mustExec(t, s, `INSERT INTO users (id, name) VALUES (1, 'alice')`)
	mustExec(t, s, `INSERT INTO users (id, name) VALUES (2, 'bob')`)

	res := mustExec(t, s, `SELECT id, name FROM users WHERE id = 2`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "bob", res.Rows[0][1].Text)
}

func TestEngineExplicitTransactionRollback(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)

	mustExec(t, s, `BEGIN`)
	mustExec(t, s, `INSERT INTO users (id, name) VALUES (1, 'alice')`)
	mustExec(t, s, `ROLLBACK`)

	res := mustExec(t, s, `SELECT id, name FROM users`)
	assert.Empty(t, res.Rows)
}

func TestEngineUpdateDeleteWithCompoundWhere(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, active BOOLEAN)`)
	mustExec(t, s, `INSERT INTO users (id, name, active) VALUES (1, 'alice', TRUE)`)
	mustExec(t, s, `INSERT INTO users (id, name, active) VALUES (2, 'bob', FALSE)`)

	res := mustExec(t, s, `UPDATE users SET name = 'carol' WHERE id = 1 AND active = TRUE`)
	assert.Equal(t, 1, res.RowsAffected)

	res = mustExec(t, s, `DELETE FROM users WHERE active = FALSE`)
	assert.Equal(t, 1, res.RowsAffected)

	res = mustExec(t, s, `SELECT name FROM users`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "carol", res.Rows[0][0].Text)
}

func TestEngineJoinAndOrderBy(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	mustExec(t, s, `CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, amount INTEGER)`)
	mustExec(t, s, `INSERT INTO users (id, name) VALUES (1, 'alice')`)
	mustExec(t, s, `INSERT INTO users (id, name) VALUES (2, 'bob')`)
	mustExec(t, s, `INSERT INTO orders (id, user_id, amount) VALUES (10, 1, 5)`)
	mustExec(t, s, `INSERT INTO orders (id, user_id, amount) VALUES (11, 2, 9)`)
	mustExec(t, s, `INSERT INTO orders (id, user_id, amount) VALUES (12, 1, 2)`)

	res := mustExec(t, s, `SELECT orders.amount, users.name FROM orders JOIN users ON orders.user_id = users.id ORDER BY orders.amount DESC`)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, int64(9), res.Rows[0][0].Int)
	assert.Equal(t, "bob", res.Rows[0][1].Text)
}

func TestEngineFullTextMatch(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE docs (id INTEGER PRIMARY KEY, body TSVECTOR)`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (1, 'an embeddable relational database engine')`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (2, 'a completely unrelated document')`)

	res := mustExec(t, s, `SELECT id FROM docs WHERE MATCH(body, 'database')`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0][0].Int)
}

func TestEngineTsRankOrdersByRelevance(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE docs (id INTEGER PRIMARY KEY, body TSVECTOR)`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (1, 'rust rust rust programming')`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (2, 'a brief mention of rust')`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (3, 'completely unrelated document')`)

	res := mustExec(t, s, `SELECT id, ts_rank(body, 'rust') AS score FROM docs ORDER BY score DESC`)
	require.Len(t, res.Rows, 3)
	require.Equal(t, []string{"id", "score"}, res.Columns)
	assert.Equal(t, int64(1), res.Rows[0][0].Int, "the doc with the most occurrences of 'rust' must rank first")
	assert.Equal(t, int64(3), res.Rows[2][0].Int, "the doc with no occurrences of 'rust' must rank last")
	assert.Greater(t, res.Rows[0][1].Float, res.Rows[1][1].Float)
	assert.Equal(t, 0.0, res.Rows[2][1].Float)
}

// TestEngineTsRankOrderByWithoutSelectAlias covers ORDER BY ts_rank(...)
// when the rank expression is not also projected in the SELECT list: it
// must still sort by the computed score without leaking a hidden column
// into the result.
func TestEngineTsRankOrderByWithoutSelectAlias(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE docs (id INTEGER PRIMARY KEY, body TSVECTOR)`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (1, 'rust rust rust')`)
	mustExec(t, s, `INSERT INTO docs (id, body) VALUES (2, 'rust')`)

	res := mustExec(t, s, `SELECT id FROM docs ORDER BY ts_rank(body, 'rust') DESC`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"id"}, res.Columns)
	assert.Equal(t, int64(1), res.Rows[0][0].Int)
	assert.Equal(t, int64(2), res.Rows[1][0].Int)
}

func TestEngineCreateIndexBuildsStructures(t *testing.T) {
	e := newEngine(t)
	s := e.NewSession()
	mustExec(t, s, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	mustExec(t, s, `INSERT INTO users (id, name) VALUES (1, 'alice')`)
	mustExec(t, s, `CREATE INDEX idx_name ON users (name)`)

	e.mu.Lock()
	idx, ok := e.btrees[indexKey{table: "users", column: "name"}]
	e.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, idx.Len())
}
