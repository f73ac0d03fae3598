package sqlparse

import (
	"strconv"
	"strings"

	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/sqlast"
	"github.com/quillsql/quillsql/internal/storage"
)

// Parse lexes and parses a single SQL statement (trailing ';' optional).
func Parse(sql string) (sqlast.Statement, error) {
	toks, err := newLexer(sql).tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.consumeOptional(";")
	if !p.atEOF() {
		return nil, dberrors.ErrSyntaxError("unexpected trailing input near %q", p.cur().text)
	}
	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) atEOF() bool { return p.cur().kind == tokEOF }

func (p *parser) peek() token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) upper() string { return strings.ToUpper(p.cur().text) }

// keyword consumes the current token if it is an identifier matching kw
// case-insensitively, reporting whether it matched.
func (p *parser) keyword(kw string) bool {
	if p.cur().kind == tokIdent && p.upper() == kw {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return dberrors.ErrSyntaxError("expected %q, got %q", kw, p.cur().text)
	}
	return nil
}

func (p *parser) expectPunct(s string) error {
	if p.cur().kind == tokPunct && p.cur().text == s {
		p.advance()
		return nil
	}
	return dberrors.ErrSyntaxError("expected %q, got %q", s, p.cur().text)
}

func (p *parser) consumeOptional(s string) bool {
	if p.cur().kind == tokPunct && p.cur().text == s {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectIdent() (string, error) {
	if p.cur().kind != tokIdent {
		return "", dberrors.ErrSyntaxError("expected identifier, got %q", p.cur().text)
	}
	return p.advance().text, nil
}

func (p *parser) parseStatement() (sqlast.Statement, error) {
	switch p.upper() {
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "ALTER":
		return p.parseAlter()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "SELECT":
		return p.parseSelect()
	case "BEGIN", "START":
		return p.parseBegin()
	case "COMMIT":
		p.advance()
		return sqlast.Commit{}, nil
	case "ROLLBACK":
		return p.parseRollback()
	case "SAVEPOINT":
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return sqlast.Savepoint{Name: name}, nil
	case "RELEASE":
		p.advance()
		p.keyword("SAVEPOINT")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return sqlast.ReleaseSavepoint{Name: name}, nil
	default:
		return nil, dberrors.ErrSyntaxError("unrecognized statement near %q", p.cur().text)
	}
}

func (p *parser) parseBegin() (sqlast.Statement, error) {
	p.advance()
	p.keyword("TRANSACTION")
	iso := sqlast.IsolationReadCommitted
	if p.keyword("ISOLATION") {
		if err := p.expectKeyword("LEVEL"); err != nil {
			return nil, err
		}
		switch {
		case p.keyword("READ"):
			if p.keyword("UNCOMMITTED") {
				iso = sqlast.IsolationReadUncommitted
			} else if p.keyword("COMMITTED") {
				iso = sqlast.IsolationReadCommitted
			} else {
				return nil, dberrors.ErrSyntaxError("expected UNCOMMITTED/COMMITTED")
			}
		case p.keyword("REPEATABLE"):
			if err := p.expectKeyword("READ"); err != nil {
				return nil, err
			}
			iso = sqlast.IsolationRepeatableRead
		case p.keyword("SERIALIZABLE"):
			iso = sqlast.IsolationSerializable
		default:
			return nil, dberrors.ErrSyntaxError("unknown isolation level near %q", p.cur().text)
		}
	}
	return sqlast.Begin{Isolation: iso}, nil
}

func (p *parser) parseRollback() (sqlast.Statement, error) {
	p.advance()
	if p.keyword("TO") {
		p.keyword("SAVEPOINT")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return sqlast.RollbackToSavepoint{Name: name}, nil
	}
	return sqlast.Rollback{}, nil
}

func (p *parser) parseCreate() (sqlast.Statement, error) {
	p.advance()
	switch {
	case p.keyword("TABLE"):
		return p.parseCreateTable()
	case p.keyword("INDEX"):
		return p.parseCreateIndex(false)
	default:
		if p.keyword("FULLTEXT") || p.keyword("FTS") {
			if err := p.expectKeyword("INDEX"); err != nil {
				return nil, err
			}
			return p.parseCreateIndex(true)
		}
		return nil, dberrors.ErrSyntaxError("expected TABLE or INDEX after CREATE")
	}
}

func (p *parser) parseCreateIndex(fts bool) (sqlast.Statement, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	col, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return sqlast.CreateIndex{Name: name, Table: table, Column: col, FTS: fts}, nil
}

func parseDataType(s string) (storage.DataType, bool) {
	switch strings.ToUpper(s) {
	case "INT", "INTEGER", "BIGINT":
		return storage.TypeInteger, true
	case "FLOAT", "DOUBLE", "REAL", "NUMERIC":
		return storage.TypeFloat, true
	case "TEXT", "VARCHAR", "CHAR", "STRING":
		return storage.TypeText, true
	case "BOOL", "BOOLEAN":
		return storage.TypeBoolean, true
	case "DATE":
		return storage.TypeDate, true
	case "TIMESTAMP", "DATETIME":
		return storage.TypeTimestamp, true
	case "TSVECTOR":
		return storage.TypeTSVector, true
	default:
		return storage.TypeNull, false
	}
}

func (p *parser) parseCreateTable() (sqlast.Statement, error) {
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []sqlast.ColumnDef
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		typeName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		dt, ok := parseDataType(typeName)
		if !ok {
			return nil, dberrors.ErrSyntaxError("unknown column type %q", typeName)
		}
		col := sqlast.ColumnDef{Name: name, Type: dt}
		for {
			switch {
			case p.keyword("PRIMARY"):
				if err := p.expectKeyword("KEY"); err != nil {
					return nil, err
				}
				col.PrimaryKey = true
			case p.keyword("NOT"):
				if err := p.expectKeyword("NULL"); err != nil {
					return nil, err
				}
				col.NotNull = true
			case p.keyword("UNIQUE"):
				col.Unique = true
			case p.keyword("REFERENCES"):
				refTable, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				if err := p.expectPunct("("); err != nil {
					return nil, err
				}
				refCol, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
				col.References = &storage.ForeignKeyRef{Table: refTable, Column: refCol}
			default:
				goto doneColumnConstraints
			}
		}
	doneColumnConstraints:
		cols = append(cols, col)
		if p.consumeOptional(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return sqlast.CreateTable{Table: table, Columns: cols}, nil
}

func (p *parser) parseDrop() (sqlast.Statement, error) {
	p.advance()
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return sqlast.DropTable{Table: table}, nil
}

func (p *parser) parseAlter() (sqlast.Statement, error) {
	p.advance()
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	switch {
	case p.keyword("ADD"):
		p.keyword("COLUMN")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		typeName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		dt, ok := parseDataType(typeName)
		if !ok {
			return nil, dberrors.ErrSyntaxError("unknown column type %q", typeName)
		}
		return sqlast.AlterTable{Table: table, Kind: sqlast.AlterAddColumn, Column: sqlast.ColumnDef{Name: name, Type: dt}}, nil
	case p.keyword("DROP"):
		p.keyword("COLUMN")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return sqlast.AlterTable{Table: table, Kind: sqlast.AlterDropColumn, ColumnName: name}, nil
	case p.keyword("RENAME"):
		p.keyword("COLUMN")
		from, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("TO"); err != nil {
			return nil, err
		}
		to, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return sqlast.AlterTable{Table: table, Kind: sqlast.AlterRenameColumn, ColumnName: from, NewName: to}, nil
	default:
		return nil, dberrors.ErrSyntaxError("expected ADD/DROP/RENAME after ALTER TABLE")
	}
}

func (p *parser) parseInsert() (sqlast.Statement, error) {
	p.advance()
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var cols []string
	if p.consumeOptional("(") {
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.consumeOptional(",") {
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var values []sqlast.Expr
	for {
		v, err := p.parseLiteralExpr()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.consumeOptional(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return sqlast.Insert{Table: table, Columns: cols, Values: values}, nil
}

func (p *parser) parseLiteralExpr() (sqlast.Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, dberrors.ErrSyntaxError("invalid number %q", t.text)
			}
			return sqlast.Literal{Value: storage.Float(f)}, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, dberrors.ErrSyntaxError("invalid number %q", t.text)
		}
		return sqlast.Literal{Value: storage.Integer(n)}, nil
	case tokString:
		p.advance()
		return sqlast.Literal{Value: storage.Text(t.text)}, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "NULL":
			p.advance()
			return sqlast.Literal{Value: storage.Null()}, nil
		case "TRUE":
			p.advance()
			return sqlast.Literal{Value: storage.Boolean(true)}, nil
		case "FALSE":
			p.advance()
			return sqlast.Literal{Value: storage.Boolean(false)}, nil
		}
	}
	return nil, dberrors.ErrSyntaxError("expected literal value, got %q", t.text)
}

func (p *parser) parseUpdate() (sqlast.Statement, error) {
	p.advance()
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var assigns []sqlast.Assignment
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseLiteralExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, sqlast.Assignment{Column: col, Value: val})
		if p.consumeOptional(",") {
			continue
		}
		break
	}
	var where sqlast.Expr
	if p.keyword("WHERE") {
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return sqlast.Update{Table: table, Set: assigns, Where: where}, nil
}

func (p *parser) parseDelete() (sqlast.Statement, error) {
	p.advance()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var where sqlast.Expr
	if p.keyword("WHERE") {
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return sqlast.Delete{Table: table, Where: where}, nil
}

func (p *parser) parseSelect() (sqlast.Statement, error) {
	p.advance()
	var items []sqlast.SelectItem
	for {
		if p.cur().kind == tokPunct && p.cur().text == "*" {
			p.advance()
			items = append(items, sqlast.SelectItem{Star: true})
		} else if p.isRankCallAhead() {
			rank, err := p.parseRankCall()
			if err != nil {
				return nil, err
			}
			item := sqlast.SelectItem{Rank: rank}
			item.Alias = p.parseOptionalAlias()
			items = append(items, item)
		} else {
			first, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			item := sqlast.SelectItem{Column: first}
			if p.consumeOptional(".") {
				if p.cur().kind == tokPunct && p.cur().text == "*" {
					p.advance()
					item = sqlast.SelectItem{Table: first, Star: true}
				} else {
					col, err := p.expectIdent()
					if err != nil {
						return nil, err
					}
					item = sqlast.SelectItem{Table: first, Column: col}
				}
			}
			items = append(items, item)
		}
		if p.consumeOptional(",") {
			continue
		}
		break
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	sel := sqlast.Select{Items: items, From: from}
	for {
		p.keyword("INNER")
		if !p.keyword("JOIN") {
			break
		}
		jtable, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		on, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, sqlast.Join{Kind: sqlast.JoinInner, Table: jtable, On: on})
	}
	if p.keyword("WHERE") {
		sel.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.keyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			var term sqlast.OrderTerm
			if p.isRankCallAhead() {
				rank, err := p.parseRankCall()
				if err != nil {
					return nil, err
				}
				term = sqlast.OrderTerm{Rank: rank}
			} else {
				col, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				if p.consumeOptional(".") {
					col, err = p.expectIdent()
					if err != nil {
						return nil, err
					}
				}
				term = sqlast.OrderTerm{Column: col}
			}
			if p.keyword("DESC") {
				term.Desc = true
			} else {
				p.keyword("ASC")
			}
			sel.OrderBy = append(sel.OrderBy, term)
			if p.consumeOptional(",") {
				continue
			}
			break
		}
	}
	if p.keyword("LIMIT") {
		if p.cur().kind != tokNumber {
			return nil, dberrors.ErrSyntaxError("expected number after LIMIT")
		}
		n, _ := strconv.Atoi(p.advance().text)
		sel.Limit = n
	}
	return sel, nil
}

// parseExpr parses a WHERE/ON boolean expression: OR-of-ANDs of
// comparisons and MATCH predicates.
func (p *parser) parseExpr() (sqlast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = sqlast.BoolExpr{Op: sqlast.BoolOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (sqlast.Expr, error) {
	left, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		left = sqlast.BoolExpr{Op: sqlast.BoolAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseCondition() (sqlast.Expr, error) {
	if p.consumeOptional("(") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	if p.keyword("MATCH") {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		col, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		q, err := p.expectString()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return sqlast.Match{Column: col, Query: q}, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokPunct && p.cur().text == "@@" {
		p.advance()
		colRef, ok := left.(sqlast.ColumnRef)
		if !ok {
			return nil, dberrors.ErrSyntaxError("@@ requires a column on the left")
		}
		q, err := p.expectString()
		if err != nil {
			return nil, err
		}
		return sqlast.Match{Column: colRef, Query: q}, nil
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return sqlast.Comparison{Left: left, Op: op, Right: right}, nil
}

func (p *parser) expectString() (string, error) {
	if p.cur().kind != tokString {
		return "", dberrors.ErrSyntaxError("expected string literal, got %q", p.cur().text)
	}
	return p.advance().text, nil
}

func (p *parser) parseCompareOp() (sqlast.CompareOp, error) {
	t := p.cur()
	if t.kind != tokPunct {
		return 0, dberrors.ErrSyntaxError("expected comparison operator, got %q", t.text)
	}
	p.advance()
	switch t.text {
	case "=":
		return sqlast.OpEq, nil
	case "<>", "!=":
		return sqlast.OpNeq, nil
	case "<":
		return sqlast.OpLt, nil
	case "<=":
		return sqlast.OpLte, nil
	case ">":
		return sqlast.OpGt, nil
	case ">=":
		return sqlast.OpGte, nil
	default:
		return 0, dberrors.ErrSyntaxError("unknown comparison operator %q", t.text)
	}
}

// isRankCallAhead reports whether the cursor sits on `ts_rank(`, without
// consuming anything.
func (p *parser) isRankCallAhead() bool {
	return p.cur().kind == tokIdent && strings.ToUpper(p.cur().text) == "TS_RANK" &&
		p.peek().kind == tokPunct && p.peek().text == "("
}

// parseRankCall parses ts_rank(column, 'query').
func (p *parser) parseRankCall() (*sqlast.RankCall, error) {
	p.advance() // TS_RANK
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	col, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	q, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &sqlast.RankCall{Column: col, Query: q}, nil
}

// parseOptionalAlias consumes an optional `AS alias`, returning "" if none
// is present. A bare identifier without AS is not taken as an alias.
func (p *parser) parseOptionalAlias() string {
	if p.keyword("AS") {
		name, err := p.expectIdent()
		if err == nil {
			return name
		}
		return ""
	}
	return ""
}

func (p *parser) parseColumnRef() (sqlast.ColumnRef, error) {
	first, err := p.expectIdent()
	if err != nil {
		return sqlast.ColumnRef{}, err
	}
	if p.consumeOptional(".") {
		col, err := p.expectIdent()
		if err != nil {
			return sqlast.ColumnRef{}, err
		}
		return sqlast.ColumnRef{Table: first, Column: col}, nil
	}
	return sqlast.ColumnRef{Column: first}, nil
}

func (p *parser) parseOperand() (sqlast.Expr, error) {
	if p.cur().kind == tokIdent {
		switch strings.ToUpper(p.cur().text) {
		case "NULL", "TRUE", "FALSE":
			return p.parseLiteralExpr()
		}
		return p.parseColumnRef()
	}
	return p.parseLiteralExpr()
}
