// Package storage defines the data model (Value, Column, Table, Row) and
// the pluggable Backend contract shared by the in-memory, file-backed and
// memory-mapped storage variants.
package storage

import (
	"fmt"
	"time"
)

// ValueKind tags the variant carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindFloat
	KindText
	KindBoolean
	KindDate
	KindTimestamp
	KindTSVector
	KindTSQuery
	KindFunction
)

// Token is a single normalized term inside a TSVector, or a parsed atom
// inside a TSQuery.
type Token struct {
	Text     string
	Position int // 1-based
	Weight   byte
	Kind     TokenKind
}

// TokenKind classifies a token the way the text processor does.
type TokenKind int

const (
	TokWord TokenKind = iota
	TokNotWord
	TokNumber
	TokEmail
	TokURL
	TokSymbol
)

// QueryOp is the boolean/phrase/proximity operator attached to a TSQuery
// token sequence.
type QueryOp int

const (
	OpAnd QueryOp = iota
	OpOr
	OpNot
	OpPhrase
	OpProximity
)

// QueryTerm is one operator-tagged atom (or atom group, for Phrase) in a
// parsed TSQuery.
type QueryTerm struct {
	Tokens   []string // a single atom, or the ordered phrase/proximity group
	Op       QueryOp
	Distance int // only meaningful for OpProximity
}

// FunctionCall is an unevaluated call expression, e.g. to_tsvector(col) or
// setweight(x, 'A'), bound by the engine at statement-bind time.
type FunctionCall struct {
	Name string
	Args []Value
}

// Value is the sum type over every SQL-visible datum.
type Value struct {
	Kind     ValueKind
	Int      int64
	Float    float64
	Text     string
	Bool     bool
	Time     time.Time
	TSVector []Token
	TSQuery  []QueryTerm
	Function *FunctionCall
}

func Null() Value               { return Value{Kind: KindNull} }
func Integer(v int64) Value     { return Value{Kind: KindInteger, Int: v} }
func Float(v float64) Value     { return Value{Kind: KindFloat, Float: v} }
func Text(v string) Value       { return Value{Kind: KindText, Text: v} }
func Boolean(v bool) Value      { return Value{Kind: KindBoolean, Bool: v} }
func Date(v time.Time) Value    { return Value{Kind: KindDate, Time: v} }
func Timestamp(v time.Time) Value { return Value{Kind: KindTimestamp, Time: v} }
func TSVector(toks []Token) Value { return Value{Kind: KindTSVector, TSVector: toks} }
func TSQuery(terms []QueryTerm) Value { return Value{Kind: KindTSQuery, TSQuery: terms} }
func Function(name string, args []Value) Value {
	return Value{Kind: KindFunction, Function: &FunctionCall{Name: name, Args: args}}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindText:
		return v.Text
	case KindBoolean:
		return fmt.Sprintf("%t", v.Bool)
	case KindDate:
		return v.Time.Format("2006-01-02")
	case KindTimestamp:
		return v.Time.Format(time.RFC3339)
	case KindTSVector:
		return fmt.Sprintf("tsvector(%d tokens)", len(v.TSVector))
	case KindTSQuery:
		return fmt.Sprintf("tsquery(%d terms)", len(v.TSQuery))
	case KindFunction:
		return fmt.Sprintf("%s(...)", v.Function.Name)
	default:
		return "?"
	}
}

// Compare defines the total order over homogeneous, comparable pairs.
// Null sorts least. Incomparable pairs (different kinds, neither Null)
// return ok=false and must not be used for ordering decisions.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.Kind == KindNull && b.Kind == KindNull {
		return 0, true
	}
	if a.Kind == KindNull {
		return -1, true
	}
	if b.Kind == KindNull {
		return 1, true
	}
	if a.Kind != b.Kind {
		// Integer/Float are mutually comparable as numbers.
		if (a.Kind == KindInteger || a.Kind == KindFloat) && (b.Kind == KindInteger || b.Kind == KindFloat) {
			return compareFloat(numeric(a), numeric(b)), true
		}
		return 0, false
	}
	switch a.Kind {
	case KindInteger:
		return compareInt(a.Int, b.Int), true
	case KindFloat:
		return compareFloat(a.Float, b.Float), true
	case KindText:
		return compareString(a.Text, b.Text), true
	case KindBoolean:
		return compareBool(a.Bool, b.Bool), true
	case KindDate, KindTimestamp:
		return compareTime(a.Time, b.Time), true
	default:
		return 0, false
	}
}

func numeric(v Value) float64 {
	if v.Kind == KindInteger {
		return float64(v.Int)
	}
	return v.Float
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// Equal reports value equality (used for PK/unique constraint checks).
func Equal(a, b Value) bool {
	cmp, ok := Compare(a, b)
	return ok && cmp == 0
}
