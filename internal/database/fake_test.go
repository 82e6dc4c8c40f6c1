package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errInjected = errors.New("injected failure")

// fakeConn stands in for a pgx connection. It answers the information_schema
// queries from schema and records every transaction it sees.
type fakeConn struct {
	schema *TableSchema

	// failChunk/failRow make the row at that position fail inside its batch.
	failChunk int
	failRow   int

	result *fakeRows
	execs  []string

	begins    int
	commits   int
	rollbacks int
	closes    int
	committed [][]any
	queries   []string

	copyTable   pgx.Identifier
	copyColumns []string
	copied      [][]any
}

func newFakeConn(schema *TableSchema) *fakeConn {
	return &fakeConn{schema: schema, failChunk: -1, failRow: -1}
}

func (c *fakeConn) factory() ConnFactory {
	return func(ctx context.Context) (Conn, error) { return c, nil }
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{conn: c, chunk: c.begins}
	c.begins++
	return tx, nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("UPDATE 3"), nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	switch {
	case strings.Contains(sql, "information_schema.columns"):
		rows := &fakeRows{}
		if c.schema != nil {
			for _, col := range c.schema.Columns {
				rows.data = append(rows.data, []any{c.schema.Schema, col.Name, col.DataType})
			}
		}
		return rows, nil
	case strings.Contains(sql, "table_constraints"):
		rows := &fakeRows{}
		for _, k := range c.schema.PrimaryKeys {
			rows.data = append(rows.data, []any{k})
		}
		return rows, nil
	case c.result != nil:
		return c.result, nil
	default:
		return &fakeRows{}, nil
	}
}

func (c *fakeConn) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	c.copyTable = table
	c.copyColumns = columns
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		c.copied = append(c.copied, values)
	}
	return int64(len(c.copied)), src.Err()
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closes++
	return nil
}

type fakeTx struct {
	pgx.Tx
	conn    *fakeConn
	chunk   int
	pending [][]any
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.conn.execs = append(t.conn.execs, sql)
	return pgconn.NewCommandTag("LOCK TABLE"), nil
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &fakeBatchResults{tx: t, queries: b.QueuedQueries}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.conn.commits++
	t.conn.committed = append(t.conn.committed, t.pending...)
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.conn.rollbacks++
	t.pending = nil
	return nil
}

type fakeBatchResults struct {
	pgx.BatchResults
	tx      *fakeTx
	queries []*pgx.QueuedQuery
	next    int
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	i := r.next
	r.next++
	if i >= len(r.queries) {
		return pgconn.CommandTag{}, errors.New("no more queued queries")
	}
	if r.tx.chunk == r.tx.conn.failChunk && i == r.tx.conn.failRow {
		return pgconn.CommandTag{}, errInjected
	}
	q := r.queries[i]
	r.tx.conn.queries = append(r.tx.conn.queries, q.SQL)
	r.tx.pending = append(r.tx.pending, q.Arguments)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Close() error { return nil }

type fakeRows struct {
	pgx.Rows
	fields []string
	data   [][]any
	i      int
}

func (r *fakeRows) Next() bool {
	if r.i < len(r.data) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		p, ok := d.(*string)
		if !ok {
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
		*p = row[i].(string)
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.i-1], nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		fds[i] = pgconn.FieldDescription{Name: f}
	}
	return fds
}

func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.data)))
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func racesSchema() *TableSchema {
	return &TableSchema{
		Schema: "tvg",
		Table:  "races",
		Columns: []Column{
			{Name: "race_id", DataType: "text"},
			{Name: "track_id", DataType: "text"},
			{Name: "race_number", DataType: "integer"},
			{Name: "race_date", DataType: "date"},
			{Name: "num_runners", DataType: "integer"},
		},
		PrimaryKeys: []string{"race_id"},
	}
}
