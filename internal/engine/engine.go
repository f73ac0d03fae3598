// Package engine binds the parsed statement tree (internal/sqlast) to
// the transaction orchestrator (internal/txn), executing DDL/DML/SELECT
// against it, evaluating WHERE/ON predicates and full-text MATCH
// predicates, performing joins and ORDER BY, and holding the secondary
// B-tree and GIN full-text indexes a CREATE INDEX statement builds (once,
// from the rows present at that time; later writes do not update them). It plays the role the teacher's eval.go/executor.go plays,
// generalized to this engine's MVCC-backed transaction semantics.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quillsql/quillsql/internal/btreeidx"
	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/fts"
	"github.com/quillsql/quillsql/internal/mvcc"
	"github.com/quillsql/quillsql/internal/sqlast"
	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/txn"
)

// indexKey identifies one secondary B-tree index by table+column.
type indexKey struct{ table, column string }

// Engine executes parsed statements against a transaction Manager,
// autocommitting statements issued outside an explicit BEGIN, and
// holding the secondary indexes a CREATE INDEX/CREATE FULLTEXT INDEX
// statement builds.
type Engine struct {
	mu sync.Mutex

	txm *txn.Manager
	log zerolog.Logger

	btrees map[indexKey]*btreeidx.Index
	ftsIdx *fts.Index

	autoIsolation mvcc.Isolation
}

// New constructs an Engine bound to txm, logging at log's level.
func New(txm *txn.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		txm:           txm,
		log:           log.With().Str("component", "engine").Logger(),
		btrees:        make(map[indexKey]*btreeidx.Index),
		ftsIdx:        fts.New(),
		autoIsolation: mvcc.ReadCommitted,
	}
}

// Session is a single client's handle into the Engine: it tracks which
// explicit transaction (if any) is open so callers can issue a sequence
// of statements the way a database/sql driver connection would.
type Session struct {
	e    *Engine
	txID uint64
	inTx bool
}

// NewSession starts a fresh session with no open explicit transaction.
func (e *Engine) NewSession() *Session { return &Session{e: e} }

// Result is the outcome of executing one statement.
type Result struct {
	Columns      []string
	Rows         []storage.Row
	RowsAffected int
	LastInsertID string
}

// Exec parses sql with parse and executes the resulting statement.
func (s *Session) Exec(sql string, parse func(string) (sqlast.Statement, error)) (Result, error) {
	stmt, err := parse(sql)
	if err != nil {
		return Result{}, err
	}
	return s.ExecStatement(stmt)
}

// ExecStatement executes an already-parsed statement, autocommitting it
// in its own transaction unless the session already has one open.
func (s *Session) ExecStatement(stmt sqlast.Statement) (Result, error) {
	switch st := stmt.(type) {
	case sqlast.Begin:
		if s.inTx {
			return Result{}, dberrors.ErrOther("BEGIN issued while a transaction is already open")
		}
		s.txID = s.e.txm.Begin(mvccIsolation(st.Isolation))
		s.inTx = true
		return Result{}, nil
	case sqlast.Commit:
		if !s.inTx {
			return Result{}, dberrors.ErrOther("COMMIT outside of a transaction")
		}
		err := s.e.txm.Commit(s.txID)
		s.inTx = false
		return Result{}, err
	case sqlast.Rollback:
		if !s.inTx {
			return Result{}, dberrors.ErrOther("ROLLBACK outside of a transaction")
		}
		err := s.e.txm.Rollback(s.txID)
		s.inTx = false
		return Result{}, err
	case sqlast.Savepoint:
		if !s.inTx {
			return Result{}, dberrors.ErrOther("SAVEPOINT outside of a transaction")
		}
		return Result{}, s.e.txm.Savepoint(s.txID, st.Name)
	case sqlast.ReleaseSavepoint:
		if !s.inTx {
			return Result{}, dberrors.ErrOther("RELEASE SAVEPOINT outside of a transaction")
		}
		return Result{}, s.e.txm.ReleaseSavepoint(s.txID, st.Name)
	case sqlast.RollbackToSavepoint:
		if !s.inTx {
			return Result{}, dberrors.ErrOther("ROLLBACK TO SAVEPOINT outside of a transaction")
		}
		return Result{}, s.e.txm.RollbackToSavepoint(s.txID, st.Name)
	}

	if s.inTx {
		return s.e.execOn(s.txID, stmt)
	}

	tx := s.e.txm.Begin(s.e.autoIsolation)
	res, err := s.e.execOn(tx, stmt)
	if err != nil {
		_ = s.e.txm.Rollback(tx)
		return res, err
	}
	if err := s.e.txm.Commit(tx); err != nil {
		return res, err
	}
	return res, nil
}

func mvccIsolation(i sqlast.Isolation) mvcc.Isolation {
	switch i {
	case sqlast.IsolationReadUncommitted:
		return mvcc.ReadUncommitted
	case sqlast.IsolationRepeatableRead:
		return mvcc.RepeatableRead
	case sqlast.IsolationSerializable:
		return mvcc.Serializable
	default:
		return mvcc.ReadCommitted
	}
}

func (e *Engine) execOn(tx uint64, stmt sqlast.Statement) (Result, error) {
	switch st := stmt.(type) {
	case sqlast.CreateTable:
		return Result{}, e.execCreateTable(tx, st)
	case sqlast.DropTable:
		return Result{}, e.txm.DropTable(tx, st.Table)
	case sqlast.AlterTable:
		return Result{}, e.execAlter(tx, st)
	case sqlast.CreateIndex:
		return Result{}, e.execCreateIndex(tx, st)
	case sqlast.Insert:
		return e.execInsert(tx, st)
	case sqlast.Update:
		return e.execUpdate(tx, st)
	case sqlast.Delete:
		return e.execDelete(tx, st)
	case sqlast.Select:
		return e.execSelect(tx, st)
	default:
		return Result{}, dberrors.ErrOther("unsupported statement type %T", stmt)
	}
}

func columnFlags(c sqlast.ColumnDef) storage.Constraint {
	var con storage.Constraint
	if c.PrimaryKey {
		con |= storage.ConstraintPrimaryKey
	}
	if c.NotNull {
		con |= storage.ConstraintNotNull
	}
	if c.Unique {
		con |= storage.ConstraintUnique
	}
	if c.References != nil {
		con |= storage.ConstraintForeignKey
	}
	return con
}

func (e *Engine) execCreateTable(tx uint64, st sqlast.CreateTable) error {
	cols := make([]storage.Column, len(st.Columns))
	for i, c := range st.Columns {
		cols[i] = storage.Column{Name: c.Name, Type: c.Type, Constraints: columnFlags(c), References: c.References}
	}
	return e.txm.CreateTable(tx, st.Table, cols)
}

func (e *Engine) execAlter(tx uint64, st sqlast.AlterTable) error {
	switch st.Kind {
	case sqlast.AlterAddColumn:
		col := storage.Column{Name: st.Column.Name, Type: st.Column.Type, Constraints: columnFlags(st.Column)}
		return e.txm.AddColumn(tx, st.Table, col)
	case sqlast.AlterDropColumn:
		return e.txm.DropColumn(tx, st.Table, st.ColumnName)
	case sqlast.AlterRenameColumn:
		return e.txm.RenameColumn(tx, st.Table, st.ColumnName, st.NewName)
	default:
		return dberrors.ErrOther("unknown ALTER TABLE kind")
	}
}

// execCreateIndex builds the secondary index by scanning every row
// currently visible to tx. The index is a point-in-time snapshot: it is
// not incrementally maintained by later Insert/Update/Delete, matching
// this engine's read-mostly analytic use of CREATE INDEX rather than an
// OLTP-grade always-consistent index.
func (e *Engine) execCreateIndex(tx uint64, st sqlast.CreateIndex) error {
	schema, err := e.txm.TableSchema(tx, st.Table)
	if err != nil {
		return err
	}
	colIdx := schema.ColumnIndex(st.Column)
	if colIdx < 0 {
		return dberrors.ErrColumnNotFound(st.Column)
	}
	pkIdx := schema.PrimaryKeyIndex()
	rows, err := e.txm.Select(tx, st.Table, nil)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if st.FTS {
		e.ftsIdx.AddColumn(st.Table, st.Column)
		for _, row := range rows {
			doc := rowDocID(pkIdx, row)
			e.ftsIdx.AddDocument(st.Table, st.Column, doc, row[colIdx].Text)
		}
		return nil
	}

	idx := btreeidx.New()
	for _, row := range rows {
		doc := rowDocID(pkIdx, row)
		idx.AddEntry(row[colIdx].String(), doc)
	}
	e.btrees[indexKey{table: st.Table, column: st.Column}] = idx
	return nil
}

func rowDocID(pkIdx int, row storage.Row) string {
	if pkIdx < 0 {
		return row[0].String()
	}
	return row[pkIdx].String()
}

func (e *Engine) execInsert(tx uint64, st sqlast.Insert) (Result, error) {
	row, err := e.buildInsertRow(tx, st)
	if err != nil {
		return Result{}, err
	}
	id, err := e.txm.Insert(tx, st.Table, row)
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: 1, LastInsertID: id}, nil
}

func (e *Engine) buildInsertRow(tx uint64, st sqlast.Insert) (storage.Row, error) {
	schema, err := e.txm.TableSchema(tx, st.Table)
	if err != nil {
		return nil, err
	}
	row := make(storage.Row, len(schema.Columns))
	for i := range row {
		row[i] = storage.Null()
	}
	if len(st.Columns) == 0 {
		if len(st.Values) != len(schema.Columns) {
			return nil, dberrors.ErrSchemaArity(len(st.Values), len(schema.Columns))
		}
		for i, v := range st.Values {
			val, err := evalLiteral(v)
			if err != nil {
				return nil, err
			}
			row[i] = val
		}
		return row, nil
	}
	if len(st.Columns) != len(st.Values) {
		return nil, dberrors.ErrSchemaArity(len(st.Values), len(st.Columns))
	}
	for i, colName := range st.Columns {
		idx := schema.ColumnIndex(colName)
		if idx < 0 {
			return nil, dberrors.ErrColumnNotFound(colName)
		}
		val, err := evalLiteral(st.Values[i])
		if err != nil {
			return nil, err
		}
		row[idx] = val
	}
	return row, nil
}

func evalLiteral(e sqlast.Expr) (storage.Value, error) {
	lit, ok := e.(sqlast.Literal)
	if !ok {
		return storage.Value{}, dberrors.ErrOther("INSERT values must be literals")
	}
	return lit.Value, nil
}

func (e *Engine) execUpdate(tx uint64, st sqlast.Update) (Result, error) {
	schema, err := e.txm.TableSchema(tx, st.Table)
	if err != nil {
		return Result{}, err
	}
	updates := make([]storage.ColumnUpdate, len(st.Set))
	for i, a := range st.Set {
		v, err := evalLiteral(a.Value)
		if err != nil {
			return Result{}, err
		}
		updates[i] = storage.ColumnUpdate{Column: a.Column, Value: v}
	}
	pred, residual, err := whereToPredicate(schema, st.Where)
	if err != nil {
		return Result{}, err
	}
	if residual == nil {
		n, err := e.txm.Update(tx, st.Table, updates, pred)
		return Result{RowsAffected: n}, err
	}
	return e.scanAndUpdate(tx, schema, updates, st.Where)
}

// scanAndUpdate handles WHERE clauses the single-equality Predicate
// can't express (AND/OR/MATCH combinations) by selecting every row,
// evaluating the full expression in memory, and issuing one
// primary-key-targeted Update per matching row.
func (e *Engine) scanAndUpdate(tx uint64, schema *storage.Table, updates []storage.ColumnUpdate, where sqlast.Expr) (Result, error) {
	rows, err := e.txm.Select(tx, schema.Name, nil)
	if err != nil {
		return Result{}, err
	}
	pkIdx := schema.PrimaryKeyIndex()
	if pkIdx < 0 {
		return Result{}, dberrors.ErrOther("UPDATE with a compound WHERE requires a primary key on %q", schema.Name)
	}
	n := 0
	for _, row := range rows {
		matched, err := evalBool(single(schema, row), where)
		if err != nil {
			return Result{}, err
		}
		if !matched {
			continue
		}
		cnt, err := e.txm.Update(tx, schema.Name, updates, &storage.Predicate{Column: schema.Columns[pkIdx].Name, Value: row[pkIdx]})
		if err != nil {
			return Result{}, err
		}
		n += cnt
	}
	return Result{RowsAffected: n}, nil
}

func (e *Engine) execDelete(tx uint64, st sqlast.Delete) (Result, error) {
	schema, err := e.txm.TableSchema(tx, st.Table)
	if err != nil {
		return Result{}, err
	}
	pred, residual, err := whereToPredicate(schema, st.Where)
	if err != nil {
		return Result{}, err
	}
	if residual == nil {
		n, err := e.txm.Delete(tx, st.Table, pred)
		return Result{RowsAffected: n}, err
	}
	rows, err := e.txm.Select(tx, st.Table, nil)
	if err != nil {
		return Result{}, err
	}
	pkIdx := schema.PrimaryKeyIndex()
	if pkIdx < 0 {
		return Result{}, dberrors.ErrOther("DELETE with a compound WHERE requires a primary key on %q", st.Table)
	}
	n := 0
	for _, row := range rows {
		matched, err := evalBool(single(schema, row), st.Where)
		if err != nil {
			return Result{}, err
		}
		if !matched {
			continue
		}
		cnt, err := e.txm.Delete(tx, st.Table, &storage.Predicate{Column: schema.Columns[pkIdx].Name, Value: row[pkIdx]})
		if err != nil {
			return Result{}, err
		}
		n += cnt
	}
	return Result{RowsAffected: n}, nil
}

// whereToPredicate recognizes the single case the Manager's Predicate
// can express directly (a bare `column = literal` equality, no AND/OR),
// returning it so the Manager's own row scan is used; any other shape of
// WHERE is reported as a non-nil residual so the caller falls back to
// the in-memory expression evaluator below.
func whereToPredicate(schema *storage.Table, where sqlast.Expr) (*storage.Predicate, sqlast.Expr, error) {
	if where == nil {
		return nil, nil, nil
	}
	cmp, ok := where.(sqlast.Comparison)
	if !ok || cmp.Op != sqlast.OpEq {
		return nil, where, nil
	}
	col, colOK := cmp.Left.(sqlast.ColumnRef)
	lit, litOK := cmp.Right.(sqlast.Literal)
	if !colOK || !litOK {
		col, colOK = cmp.Right.(sqlast.ColumnRef)
		lit, litOK = cmp.Left.(sqlast.Literal)
		if !colOK || !litOK {
			return nil, where, nil
		}
	}
	if schema.ColumnIndex(col.Column) < 0 {
		return nil, nil, dberrors.ErrColumnNotFound(col.Column)
	}
	return &storage.Predicate{Column: col.Column, Value: lit.Value}, nil, nil
}

// scope binds each table alias reachable from a tuple to its schema and
// current row, letting the expression evaluator resolve an unqualified
// or qualified ColumnRef across a join's several tables.
type scope struct {
	schemas map[string]*storage.Table
	rows    map[string]storage.Row
	order   []string
}

func single(schema *storage.Table, row storage.Row) scope {
	return scope{
		schemas: map[string]*storage.Table{schema.Name: schema},
		rows:    map[string]storage.Row{schema.Name: row},
		order:   []string{schema.Name},
	}
}

func (s scope) resolveTable(column string) (string, bool) {
	for _, tn := range s.order {
		if s.schemas[tn].ColumnIndex(column) >= 0 {
			return tn, true
		}
	}
	return "", false
}

func (e *Engine) execSelect(tx uint64, st sqlast.Select) (Result, error) {
	schema, err := e.txm.TableSchema(tx, st.From)
	if err != nil {
		return Result{}, err
	}
	rows, err := e.txm.Select(tx, st.From, nil)
	if err != nil {
		return Result{}, err
	}

	schemas := map[string]*storage.Table{st.From: schema}
	tuples := make([]scope, 0, len(rows))
	for _, r := range rows {
		tuples = append(tuples, single(schema, r))
	}

	for _, j := range st.Joins {
		jschema, err := e.txm.TableSchema(tx, j.Table)
		if err != nil {
			return Result{}, err
		}
		jrows, err := e.txm.Select(tx, j.Table, nil)
		if err != nil {
			return Result{}, err
		}
		schemas[j.Table] = jschema
		tuples, err = joinOne(schemas, tuples, j, jschema, jrows)
		if err != nil {
			return Result{}, err
		}
	}

	// ORDER BY ts_rank(...) terms not already projected by a SELECT item
	// are appended as hidden trailing columns so sortRows can key off
	// them the same way it keys off a normal projected column; they are
	// sliced back off the result before it's returned.
	hiddenRanks := make(map[int]string)
	var extraItems []sqlast.SelectItem
	for i, term := range st.OrderBy {
		if term.Rank == nil {
			continue
		}
		name := fmt.Sprintf("__order_rank_%d", i)
		hiddenRanks[i] = name
		extraItems = append(extraItems, sqlast.SelectItem{Rank: term.Rank, Alias: name})
	}

	var out []storage.Row
	var cols []string
	baseLen := -1
	for _, t := range tuples {
		if st.Where != nil {
			ok, err := evalBool(t, st.Where)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				continue
			}
		}
		row, rowCols, err := e.projectTuple(t, st.Items)
		if err != nil {
			return Result{}, err
		}
		if baseLen < 0 {
			baseLen = len(rowCols)
		}
		for _, extra := range extraItems {
			extraRow, extraCols, err := e.projectTuple(t, []sqlast.SelectItem{extra})
			if err != nil {
				return Result{}, err
			}
			row = append(row, extraRow...)
			rowCols = append(rowCols, extraCols...)
		}
		if cols == nil {
			cols = rowCols
		}
		out = append(out, row)
	}
	if baseLen < 0 {
		baseLen = 0
	}

	if len(st.OrderBy) > 0 {
		orderCols := make([]string, len(st.OrderBy))
		for i, term := range st.OrderBy {
			if name, ok := hiddenRanks[i]; ok {
				orderCols[i] = name
			} else {
				orderCols[i] = term.Column
			}
		}
		sortRows(out, cols, orderCols, st.OrderBy)
	}
	if len(hiddenRanks) > 0 {
		for i := range out {
			out[i] = out[i][:baseLen]
		}
		cols = cols[:baseLen]
	}
	if st.Limit > 0 && len(out) > st.Limit {
		out = out[:st.Limit]
	}
	return Result{Columns: cols, Rows: out}, nil
}

// joinOne hash-joins tuples against jrows when j.On is a bare equality
// between a column on j.Table and a column already in scope; any other
// ON shape falls back to a nested-loop scan evaluated per candidate
// pair, grounded on the same predicate evaluator used for WHERE.
func joinOne(schemas map[string]*storage.Table, tuples []scope, j sqlast.Join, jschema *storage.Table, jrows []storage.Row) ([]scope, error) {
	buildCol, probeCol, ok := equalityJoinColumns(j.On, j.Table)

	var buckets map[string][]storage.Row
	buildIdx := -1
	if ok {
		buildIdx = jschema.ColumnIndex(buildCol)
		if buildIdx >= 0 {
			buckets = make(map[string][]storage.Row, len(jrows))
			for _, jr := range jrows {
				k := jr[buildIdx].String()
				buckets[k] = append(buckets[k], jr)
			}
		}
	}

	next := make([]scope, 0, len(tuples))
	for _, outer := range tuples {
		var candidates []storage.Row
		if buckets != nil {
			tn, found := outer.resolveTable(probeCol.Column)
			if !found {
				return nil, dberrors.ErrColumnNotFound(probeCol.Column)
			}
			idx := outer.schemas[tn].ColumnIndex(probeCol.Column)
			candidates = buckets[outer.rows[tn][idx].String()]
		} else {
			candidates = jrows
		}
		for _, jr := range candidates {
			merged := scope{
				schemas: schemas,
				rows:    make(map[string]storage.Row, len(outer.rows)+1),
				order:   append(append([]string{}, outer.order...), j.Table),
			}
			for k, v := range outer.rows {
				merged.rows[k] = v
			}
			merged.rows[j.Table] = jr
			matched, err := evalBool(merged, j.On)
			if err != nil {
				return nil, err
			}
			if matched {
				next = append(next, merged)
			}
		}
	}
	return next, nil
}

func equalityJoinColumns(on sqlast.Expr, jtable string) (buildCol string, probeCol sqlast.ColumnRef, ok bool) {
	cmp, isCmp := on.(sqlast.Comparison)
	if !isCmp || cmp.Op != sqlast.OpEq {
		return "", sqlast.ColumnRef{}, false
	}
	left, lok := cmp.Left.(sqlast.ColumnRef)
	right, rok := cmp.Right.(sqlast.ColumnRef)
	if !lok || !rok {
		return "", sqlast.ColumnRef{}, false
	}
	if right.Table == jtable {
		return right.Column, left, true
	}
	if left.Table == jtable {
		return left.Column, right, true
	}
	return "", sqlast.ColumnRef{}, false
}

func (e *Engine) projectTuple(t scope, items []sqlast.SelectItem) (storage.Row, []string, error) {
	var row storage.Row
	var cols []string
	for _, item := range items {
		if item.Rank != nil {
			v, err := e.evalRank(t, *item.Rank)
			if err != nil {
				return nil, nil, err
			}
			row = append(row, v)
			name := item.Alias
			if name == "" {
				name = "ts_rank"
			}
			cols = append(cols, name)
			continue
		}
		if item.Star {
			tables := t.order
			if item.Table != "" {
				tables = []string{item.Table}
			}
			for _, tn := range tables {
				schema := t.schemas[tn]
				r := t.rows[tn]
				for i, c := range schema.Columns {
					row = append(row, r[i])
					cols = append(cols, c.Name)
				}
			}
			continue
		}
		tn := item.Table
		if tn == "" {
			if resolved, found := t.resolveTable(item.Column); found {
				tn = resolved
			} else {
				tn = t.order[0]
			}
		}
		idx := t.schemas[tn].ColumnIndex(item.Column)
		if idx >= 0 {
			row = append(row, t.rows[tn][idx])
		} else {
			row = append(row, storage.Null())
		}
		cols = append(cols, item.Column)
	}
	return row, cols, nil
}

// sortRows orders rows by terms, resolving each term against orderCols[i]
// (the hidden ts_rank(...) column name for a Rank term, or the term's
// plain Column name otherwise) looked up in cols.
func sortRows(rows []storage.Row, cols []string, orderCols []string, terms []sqlast.OrderTerm) {
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[c] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, term := range terms {
			idx, ok := colIdx[orderCols[k]]
			if !ok {
				continue
			}
			cmp, ok := storage.Compare(rows[i][idx], rows[j][idx])
			if !ok || cmp == 0 {
				continue
			}
			if term.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func evalBool(s scope, expr sqlast.Expr) (bool, error) {
	switch ex := expr.(type) {
	case sqlast.BoolExpr:
		left, err := evalBool(s, ex.Left)
		if err != nil {
			return false, err
		}
		if ex.Op == sqlast.BoolAnd && !left {
			return false, nil
		}
		if ex.Op == sqlast.BoolOr && left {
			return true, nil
		}
		return evalBool(s, ex.Right)
	case sqlast.Comparison:
		l, err := evalValue(s, ex.Left)
		if err != nil {
			return false, err
		}
		r, err := evalValue(s, ex.Right)
		if err != nil {
			return false, err
		}
		return compareMatches(l, r, ex.Op), nil
	case sqlast.Match:
		return evalMatch(s, ex)
	default:
		return false, dberrors.ErrOther("unsupported predicate expression %T", expr)
	}
}

// evalMatch evaluates a MATCH/@@ predicate against the row's text by
// indexing that one row into a throwaway GIN index and delegating to
// Index.Search for the actual AND/OR/NOT/Phrase/Proximity evaluation,
// rather than the persistent e.ftsIdx, which is built only once at
// CREATE FULLTEXT INDEX time and would otherwise go stale against
// uncommitted writes in the current transaction.
func evalMatch(s scope, m sqlast.Match) (bool, error) {
	tn := m.Column.Table
	if tn == "" {
		resolved, found := s.resolveTable(m.Column.Column)
		if !found {
			return false, dberrors.ErrColumnNotFound(m.Column.Column)
		}
		tn = resolved
	}
	schema, ok := s.schemas[tn]
	if !ok {
		return false, dberrors.ErrColumnNotFound(m.Column.Column)
	}
	idx := schema.ColumnIndex(m.Column.Column)
	if idx < 0 {
		return false, dberrors.ErrColumnNotFound(m.Column.Column)
	}
	text := s.rows[tn][idx].Text
	query := fts.ParseQuery(m.Query)

	const doc = "row"
	rowIdx := fts.New()
	rowIdx.AddDocument(tn, m.Column.Column, doc, text)
	_, matched := rowIdx.Search(tn, m.Column.Column, query)[doc]
	return matched, nil
}

// evalRank scores a ts_rank(column, query) call against the row's text
// using the BM25 ranking engine (fts.Rank with BM25Params set). Document
// frequency and corpus size are drawn from e.ftsIdx when a CREATE
// FULLTEXT INDEX already covers the column; otherwise it ranks against a
// single-document corpus (df=1 for any matched token, N=1), which still
// orders rows by term frequency and position the same way the indexed
// path would for a corpus of one.
func (e *Engine) evalRank(s scope, r sqlast.RankCall) (storage.Value, error) {
	tn := r.Column.Table
	if tn == "" {
		resolved, found := s.resolveTable(r.Column.Column)
		if !found {
			return storage.Value{}, dberrors.ErrColumnNotFound(r.Column.Column)
		}
		tn = resolved
	}
	schema, ok := s.schemas[tn]
	if !ok {
		return storage.Value{}, dberrors.ErrColumnNotFound(r.Column.Column)
	}
	idx := schema.ColumnIndex(r.Column.Column)
	if idx < 0 {
		return storage.Value{}, dberrors.ErrColumnNotFound(r.Column.Column)
	}
	text := s.rows[tn][idx].Text

	toks := fts.Process(text)
	tokens := make([]string, len(toks))
	weights := make([]float64, len(toks))
	for i, t := range toks {
		tokens[i] = t.Text
		weights[i] = fts.TokenWeight(t.Weight)
	}
	queryTerms := fts.ParseQuery(r.Query)
	var query []string
	for _, qt := range queryTerms {
		query = append(query, qt.Tokens...)
	}

	df, corpusSize, ok := e.ftsIdx.Stats(tn, r.Column.Column)
	if !ok {
		indexed := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			indexed[t] = struct{}{}
		}
		df = func(token string) int {
			if _, present := indexed[token]; present {
				return 1
			}
			return 0
		}
		corpusSize = 1
	}

	doc := fts.Doc{
		Tokens:       tokens,
		Weights:      weights,
		DocLength:    len(tokens),
		AvgDocLength: float64(len(tokens)),
		CorpusSize:   corpusSize,
	}
	cfg := fts.DefaultConfig()
	bm25 := fts.DefaultBM25Params()
	cfg.BM25Params = &bm25
	score := fts.Rank(doc, query, df, cfg)
	return storage.Float(score), nil
}

func evalValue(s scope, expr sqlast.Expr) (storage.Value, error) {
	switch ex := expr.(type) {
	case sqlast.Literal:
		return ex.Value, nil
	case sqlast.ColumnRef:
		tn := ex.Table
		if tn == "" {
			resolved, found := s.resolveTable(ex.Column)
			if !found {
				return storage.Value{}, dberrors.ErrColumnNotFound(ex.Column)
			}
			tn = resolved
		}
		schema, ok := s.schemas[tn]
		if !ok {
			return storage.Value{}, dberrors.ErrColumnNotFound(ex.Column)
		}
		idx := schema.ColumnIndex(ex.Column)
		if idx < 0 {
			return storage.Value{}, dberrors.ErrColumnNotFound(ex.Column)
		}
		return s.rows[tn][idx], nil
	default:
		return storage.Value{}, dberrors.ErrOther("unsupported value expression %T", expr)
	}
}

func compareMatches(l, r storage.Value, op sqlast.CompareOp) bool {
	if op == sqlast.OpEq {
		return storage.Equal(l, r)
	}
	if op == sqlast.OpNeq {
		return !storage.Equal(l, r)
	}
	cmp, ok := storage.Compare(l, r)
	if !ok {
		return false
	}
	switch op {
	case sqlast.OpLt:
		return cmp < 0
	case sqlast.OpLte:
		return cmp <= 0
	case sqlast.OpGt:
		return cmp > 0
	case sqlast.OpGte:
		return cmp >= 0
	default:
		return false
	}
}
