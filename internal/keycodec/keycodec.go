// Package keycodec builds and parses the namespaced textual keys that
// every other component uses to address table metadata, rows, index
// entries and system metadata.
//
// Four disjoint namespaces share one colon-separated encoding:
//
//	t:<table>                       table metadata
//	r:<table>:<version>:<pk>        row data (version is reserved, always 0)
//	i:<table>:<column>:<value>      index entry
//	m:<name>                        system metadata
package keycodec

import (
	"strconv"
	"strings"

	"github.com/quillsql/quillsql/internal/dberrors"
)

const (
	nsTable = "t"
	nsRow   = "r"
	nsIndex = "i"
	nsMeta  = "m"
	sep     = ":"

	// RowVersion is the reserved version segment every row key currently
	// encodes. A future schema-versioning scheme may populate it; until
	// then writers must always emit this value.
	RowVersion = 0
)

// Kind identifies which namespace a parsed key belongs to.
type Kind int

const (
	KindTable Kind = iota
	KindRow
	KindIndex
	KindMeta
)

// Key is the parsed, structured form of any namespaced key.
type Key struct {
	Kind       Kind
	Table      string
	Version    uint64
	PrimaryKey string
	Column     string
	Value      string
	Name       string
}

// Table builds a table metadata key: t:<table>.
func Table(table string) string {
	return nsTable + sep + table
}

// Row builds a row data key: r:<table>:<version>:<pk>. Callers should pass
// RowVersion for version until a future design assigns it meaning.
func Row(table string, version uint64, primaryKey string) string {
	return nsRow + sep + table + sep + strconv.FormatUint(version, 10) + sep + primaryKey
}

// Index builds an index entry key: i:<table>:<column>:<value>.
func Index(table, column, value string) string {
	return nsIndex + sep + table + sep + column + sep + value
}

// Meta builds a system metadata key: m:<name>.
func Meta(name string) string {
	return nsMeta + sep + name
}

// Parse recovers the structured Key from its textual encoding. It fails
// with MalformedKey when the namespace is unrecognized or the namespace's
// field count doesn't match.
//
// Row and Index keys are split with a bounded SplitN(4) rather than an
// unbounded split so that index values themselves containing ':' still
// round-trip; this is a strict superset of the original encoding's
// accepted inputs.
func Parse(key string) (Key, error) {
	head, _, found := strings.Cut(key, sep)
	if !found {
		return Key{}, dberrors.ErrMalformedKey(key)
	}

	switch head {
	case nsTable:
		parts := strings.SplitN(key, sep, 2)
		if len(parts) != 2 || parts[1] == "" {
			return Key{}, dberrors.ErrMalformedKey(key)
		}
		return Key{Kind: KindTable, Table: parts[1]}, nil

	case nsRow:
		parts := strings.SplitN(key, sep, 4)
		if len(parts) != 4 {
			return Key{}, dberrors.ErrMalformedKey(key)
		}
		version, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return Key{}, dberrors.ErrMalformedKey(key)
		}
		return Key{Kind: KindRow, Table: parts[1], Version: version, PrimaryKey: parts[3]}, nil

	case nsIndex:
		parts := strings.SplitN(key, sep, 4)
		if len(parts) != 4 {
			return Key{}, dberrors.ErrMalformedKey(key)
		}
		return Key{Kind: KindIndex, Table: parts[1], Column: parts[2], Value: parts[3]}, nil

	case nsMeta:
		parts := strings.SplitN(key, sep, 2)
		if len(parts) != 2 || parts[1] == "" {
			return Key{}, dberrors.ErrMalformedKey(key)
		}
		return Key{Kind: KindMeta, Name: parts[1]}, nil

	default:
		return Key{}, dberrors.ErrMalformedKey(key)
	}
}

// RowBase builds the row key for (table, primaryKey) with the reserved
// version segment. MVCC callers use this as the single base key every
// version chain lives under.
func RowBase(table, primaryKey string) string {
	return Row(table, RowVersion, primaryKey)
}
