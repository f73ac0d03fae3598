// Package dberrors defines the single kinded error type every public
// QuillSQL operation returns, following the exhaustive kind set described
// in the engine's error handling design.
package dberrors

import "fmt"

// Kind classifies a failure so callers can switch on it without parsing
// messages.
type Kind int

const (
	Other Kind = iota
	TableNotFound
	ColumnNotFound
	SchemaArity
	TypeMismatch
	DuplicateKey
	NotNullViolation
	TransactionNotActive
	TransactionNotFound
	SavepointNotFound
	SavepointNotActive
	SavepointExists
	LockConflict
	Deadlock
	WriteConflict
	MVCCError
	WALError
	IoError
	MalformedKey
	InvalidIsolationLevel
	SyntaxError
)

func (k Kind) String() string {
	switch k {
	case TableNotFound:
		return "TableNotFound"
	case ColumnNotFound:
		return "ColumnNotFound"
	case SchemaArity:
		return "SchemaArity"
	case TypeMismatch:
		return "TypeMismatch"
	case DuplicateKey:
		return "DuplicateKey"
	case NotNullViolation:
		return "NotNullViolation"
	case TransactionNotActive:
		return "TransactionNotActive"
	case TransactionNotFound:
		return "TransactionNotFound"
	case SavepointNotFound:
		return "SavepointNotFound"
	case SavepointNotActive:
		return "SavepointNotActive"
	case SavepointExists:
		return "SavepointExists"
	case LockConflict:
		return "LockConflict"
	case Deadlock:
		return "Deadlock"
	case WriteConflict:
		return "WriteConflict"
	case MVCCError:
		return "MVCCError"
	case WALError:
		return "WALError"
	case IoError:
		return "IoError"
	case MalformedKey:
		return "MalformedKey"
	case InvalidIsolationLevel:
		return "InvalidIsolationLevel"
	case SyntaxError:
		return "SyntaxError"
	default:
		return "Other"
	}
}

// Error is the single error sum type used across the engine. It wraps an
// optional cause so errors.Is/errors.As chains through to driver-level
// failures (I/O, encoding) without losing the kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, dberrors.New(Kind, "")) style kind comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel helpers, one per kind, named so call sites read like the kind.

func ErrTableNotFound(name string) *Error { return New(TableNotFound, "table %q not found", name) }
func ErrColumnNotFound(name string) *Error {
	return New(ColumnNotFound, "column %q not found", name)
}
func ErrSchemaArity(got, want int) *Error {
	return New(SchemaArity, "row has %d values, schema has %d columns", got, want)
}
func ErrTypeMismatch(col string, want, got any) *Error {
	return New(TypeMismatch, "column %q: expected %v, got %v", col, want, got)
}
func ErrDuplicateKey(col string, val any) *Error {
	return New(DuplicateKey, "duplicate value %v for unique column %q", val, col)
}
func ErrNotNullViolation(col string) *Error {
	return New(NotNullViolation, "column %q may not be null", col)
}
func ErrTransactionNotActive(id uint64) *Error {
	return New(TransactionNotActive, "transaction %d is not active", id)
}
func ErrTransactionNotFound(id uint64) *Error {
	return New(TransactionNotFound, "transaction %d not found", id)
}
func ErrSavepointNotFound(name string) *Error {
	return New(SavepointNotFound, "savepoint %q not found", name)
}
func ErrSavepointNotActive(name string) *Error {
	return New(SavepointNotActive, "savepoint %q is not active", name)
}
func ErrSavepointExists(name string) *Error {
	return New(SavepointExists, "savepoint %q already exists", name)
}
func ErrLockConflict(format string, args ...any) *Error {
	return New(LockConflict, format, args...)
}
func ErrDeadlock(tx uint64) *Error {
	return New(Deadlock, "transaction %d chosen as deadlock victim", tx)
}
func ErrWriteConflict(key string) *Error {
	return New(WriteConflict, "concurrent committed write to key %q", key)
}
func ErrMVCCError(format string, args ...any) *Error { return New(MVCCError, format, args...) }
func ErrWALError(cause error, format string, args ...any) *Error {
	return Wrap(WALError, cause, format, args...)
}
func ErrIoError(cause error, format string, args ...any) *Error {
	return Wrap(IoError, cause, format, args...)
}
func ErrMalformedKey(key string) *Error { return New(MalformedKey, "malformed key %q", key) }
func ErrInvalidIsolationLevel(s string) *Error {
	return New(InvalidIsolationLevel, "invalid isolation level %q", s)
}
func ErrOther(format string, args ...any) *Error { return New(Other, format, args...) }
func ErrSyntaxError(format string, args ...any) *Error {
	return New(SyntaxError, format, args...)
}
