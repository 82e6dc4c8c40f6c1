package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ColumnKind int

const (
	KindOther ColumnKind = iota
	KindInteger
	KindFloat
	KindText
	KindDate
	KindJSON
)

func (k ColumnKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindJSON:
		return "json"
	default:
		return "other"
	}
}

// KindOf maps an information_schema data_type to a ColumnKind.
func KindOf(dataType string) ColumnKind {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "integer", "smallint", "bigint", "int":
		return KindInteger
	case "numeric", "real", "float", "decimal", "double precision":
		return KindFloat
	case "character varying", "text", "character":
		return KindText
	case "date":
		return KindDate
	case "json", "jsonb":
		return KindJSON
	default:
		return KindOther
	}
}

type Column struct {
	Name     string
	DataType string
	Kind     ColumnKind
}

// TableSchema is a per-call snapshot of a table's columns and primary key.
type TableSchema struct {
	Schema      string
	Table       string
	Columns     []Column
	PrimaryKeys []string
}

func (s *TableSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Identifier is the schema-qualified table name.
func (s *TableSchema) Identifier() pgx.Identifier {
	return pgx.Identifier{s.Schema, s.Table}
}

// SplitTable splits "schema.table". Schema is empty for unqualified names.
// Names with more than one dot, or an empty part, are rejected.
func SplitTable(name string) (schema, table string, err error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 || slices.Contains(parts, "") {
		return "", "", &SchemaLookupError{Table: name, Err: errors.New("expected table or schema.table")}
	}
	if len(parts) == 2 {
		return parts[0], parts[1], nil
	}
	return "", parts[0], nil
}

const columnsQuery = `
	SELECT table_schema, column_name, data_type
	FROM information_schema.columns
	WHERE table_name = $1
	  AND (($2::text = '' AND table_schema::name = ANY(current_schemas(false))) OR table_schema::text = $2::text)
	ORDER BY array_position(current_schemas(false), table_schema::name), ordinal_position`

const primaryKeysQuery = `
	SELECT kc.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kc
	  ON kc.table_name = tc.table_name
	 AND kc.table_schema = tc.table_schema
	 AND kc.constraint_name = tc.constraint_name
	WHERE tc.constraint_type = 'PRIMARY KEY'
	  AND kc.ordinal_position IS NOT NULL
	  AND tc.table_schema = $1
	  AND tc.table_name = $2
	ORDER BY kc.ordinal_position`

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadSchema introspects table. Unqualified names resolve to the first schema
// on the search path that has the table.
func loadSchema(ctx context.Context, q queryer, table string) (*TableSchema, error) {
	schemaName, tableName, err := SplitTable(table)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, columnsQuery, tableName, schemaName)
	if err != nil {
		return nil, &SchemaLookupError{Table: table, Err: err}
	}
	s := &TableSchema{Table: tableName}
	for rows.Next() {
		var tableSchema, name, dataType string
		if err := rows.Scan(&tableSchema, &name, &dataType); err != nil {
			rows.Close()
			return nil, &SchemaLookupError{Table: table, Err: err}
		}
		if s.Schema == "" {
			s.Schema = tableSchema
		}
		if tableSchema != s.Schema {
			continue
		}
		s.Columns = append(s.Columns, Column{Name: name, DataType: dataType, Kind: KindOf(dataType)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &SchemaLookupError{Table: table, Err: err}
	}
	if len(s.Columns) == 0 {
		return nil, &SchemaLookupError{Table: table}
	}

	rows, err = q.Query(ctx, primaryKeysQuery, s.Schema, s.Table)
	if err != nil {
		return nil, &SchemaLookupError{Table: table, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &SchemaLookupError{Table: table, Err: err}
		}
		s.PrimaryKeys = append(s.PrimaryKeys, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &SchemaLookupError{Table: table, Err: fmt.Errorf("primary keys: %w", err)}
	}
	return s, nil
}

// Schema returns a fresh snapshot of table's columns, types and primary key.
func (d *Database) Schema(ctx context.Context, table string) (*TableSchema, error) {
	var s *TableSchema
	err := d.withConn(ctx, func(conn Conn) error {
		var err error
		s, err = loadSchema(ctx, conn, table)
		return err
	})
	return s, err
}

func (d *Database) Columns(ctx context.Context, table string) ([]string, error) {
	s, err := d.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	return s.Names(), nil
}

func (d *Database) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	s, err := d.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	return s.PrimaryKeys, nil
}
