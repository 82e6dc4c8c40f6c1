package database

import (
	"errors"
	"fmt"
)

var (
	ErrNoPrimaryKey = errors.New("no primary key")
	ErrNoColumns    = errors.New("no writable columns")
)

// SchemaLookupError reports a table that does not exist or cannot be introspected.
type SchemaLookupError struct {
	Table string
	Err   error
}

func (e *SchemaLookupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("schema lookup %s: table not found", e.Table)
	}
	return fmt.Sprintf("schema lookup %s: %v", e.Table, e.Err)
}

func (e *SchemaLookupError) Unwrap() error { return e.Err }

// CastingError reports a value that cannot be coerced to its column type without loss.
type CastingError struct {
	Column string
	Kind   ColumnKind
	Value  any
	Reason string
}

func (e *CastingError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("cannot cast %#v to %s for column %s: %s", e.Value, e.Kind, e.Column, e.Reason)
	}
	return fmt.Sprintf("cannot cast %#v to %s: %s", e.Value, e.Kind, e.Reason)
}

// UpsertError wraps a database failure in one chunk. Chunk and Row are zero-based;
// Row is -1 when the failure is not tied to a single row (begin, lock, commit).
type UpsertError struct {
	Table string
	Chunk int
	Row   int
	Err   error
}

func (e *UpsertError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("upsert %s: chunk %d row %d: %v", e.Table, e.Chunk, e.Row, e.Err)
	}
	return fmt.Sprintf("upsert %s: chunk %d: %v", e.Table, e.Chunk, e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }
