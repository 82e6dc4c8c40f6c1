package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"race-sync-service/internal/logger"
)

const DefaultBatchSize = 10000

// ConflictPolicy decides which value wins when an upserted row hits an existing primary key.
type ConflictPolicy int

const (
	// Overwrite always takes the incoming value.
	Overwrite ConflictPolicy = iota
	// OverwriteIfSourceNonNull takes the incoming value unless it is NULL.
	OverwriteIfSourceNonNull
	// FillIfTargetNull keeps the existing value unless it is NULL.
	FillIfTargetNull
)

func (p ConflictPolicy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case OverwriteIfSourceNonNull:
		return "overwrite_if_source_non_null"
	case FillIfTargetNull:
		return "fill_if_target_null"
	default:
		return "policy(" + strconv.Itoa(int(p)) + ")"
	}
}

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return Overwrite, nil
	case "overwrite_if_source_non_null", "except_null":
		return OverwriteIfSourceNonNull, nil
	case "fill_if_target_null", "only_null":
		return FillIfTargetNull, nil
	default:
		return Overwrite, fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Record is one row keyed by column name.
type Record map[string]any

// Absent marks a frame cell the source record did not supply. Upserts leave
// that column untouched for the row; COPY writes NULL.
var Absent any = absentCell{}

type absentCell struct{}

func isAbsent(v any) bool {
	_, ok := v.(absentCell)
	return ok
}

// Frame is tabular input: every row is aligned to Columns.
type Frame struct {
	Columns []string
	Rows    [][]any
}

type UpsertOptions struct {
	// PrimaryKeys defaults to the table's primary key.
	PrimaryKeys []string
	Policy      ConflictPolicy
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// LockTable takes an EXCLUSIVE lock on the table inside each chunk's transaction.
	LockTable bool
	// NullValue replaces null inputs. Nil writes SQL NULL.
	NullValue any
}

type UpsertResult struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Skipped []string `json:"skipped,omitempty"`
	Rows    int      `json:"rows"`
	Batches int      `json:"batches"`
}

// Upsert writes records into table. Keys that are not table columns are dropped.
func (d *Database) Upsert(ctx context.Context, table string, records []Record, opts UpsertOptions) (*UpsertResult, error) {
	return d.UpsertFrame(ctx, table, FrameFromRecords(records), opts)
}

// UpsertFrame writes frame into table in chunks of opts.BatchSize. Each chunk is
// its own transaction; a failing chunk is rolled back and stops the call, while
// chunks committed before it stay applied.
func (d *Database) UpsertFrame(ctx context.Context, table string, frame Frame, opts UpsertOptions) (*UpsertResult, error) {
	if len(frame.Rows) == 0 {
		return &UpsertResult{Table: table}, nil
	}

	var res *UpsertResult
	err := d.withConn(ctx, func(conn Conn) error {
		schema, err := loadSchema(ctx, conn, table)
		if err != nil {
			return err
		}
		plan, err := prepare(schema, frame, opts)
		if err != nil {
			return err
		}
		res = &UpsertResult{Table: table, Columns: plan.columns, Skipped: plan.skipped, Rows: len(plan.rows)}
		res.Batches, err = executeBatches(ctx, conn, table, schema.Identifier(), plan, opts)
		return err
	})
	if err != nil {
		return res, err
	}

	logger.Log.Info("Upserted rows",
		zap.String("table", table),
		zap.Stringer("policy", opts.Policy),
		zap.Int("rows", res.Rows),
		zap.Int("batches", res.Batches),
	)
	return res, nil
}

// FrameFromRecords lays records out as a frame. Columns appear in first-seen
// order; a record missing a column contributes Absent for it.
func FrameFromRecords(records []Record) Frame {
	var f Frame
	index := make(map[string]int)
	for _, r := range records {
		keys := make([]string, 0, len(r))
		for k := range r {
			if _, ok := index[k]; !ok {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		for _, k := range keys {
			index[k] = len(f.Columns)
			f.Columns = append(f.Columns, k)
		}
	}
	for _, r := range records {
		row := make([]any, len(f.Columns))
		for i := range row {
			row[i] = Absent
		}
		for k, v := range r {
			row[index[k]] = v
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}

type plan struct {
	columns []string
	keys    []string
	skipped []string
	rows    [][]any
}

// prepare keeps the frame columns that exist in schema (in schema order),
// coerces every value to its column kind and resolves the conflict key.
func prepare(schema *TableSchema, frame Frame, opts UpsertOptions) (*plan, error) {
	p, err := prepareColumns(schema, frame, opts.NullValue)
	if err != nil {
		return nil, err
	}

	p.keys = opts.PrimaryKeys
	if len(p.keys) == 0 {
		p.keys = schema.PrimaryKeys
	}
	if len(p.keys) == 0 {
		return nil, fmt.Errorf("%s.%s: %w", schema.Schema, schema.Table, ErrNoPrimaryKey)
	}
	keyIdx := make([]int, len(p.keys))
	for i, k := range p.keys {
		keyIdx[i] = slices.Index(p.columns, k)
		if keyIdx[i] < 0 {
			return nil, fmt.Errorf("primary key column %q missing from input", k)
		}
	}
	for i, row := range p.rows {
		for j, idx := range keyIdx {
			if isAbsent(row[idx]) {
				return nil, fmt.Errorf("row %d: primary key column %q missing from input", i, p.keys[j])
			}
		}
	}
	return p, nil
}

func prepareColumns(schema *TableSchema, frame Frame, fill any) (*plan, error) {
	present := make(map[string]int, len(frame.Columns))
	p := &plan{}
	for i, c := range frame.Columns {
		if _, ok := schema.Column(c); ok {
			present[c] = i
		} else {
			p.skipped = append(p.skipped, c)
		}
	}
	if len(p.skipped) > 0 {
		logger.Log.Warn("Skipping columns not found in table",
			zap.String("table", schema.Schema+"."+schema.Table),
			zap.Strings("columns", p.skipped),
		)
	}

	var cols []Column
	for _, c := range schema.Columns {
		if _, ok := present[c.Name]; ok {
			cols = append(cols, c)
			p.columns = append(p.columns, c.Name)
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}

	p.rows = make([][]any, 0, len(frame.Rows))
	for i, src := range frame.Rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			raw := Absent
			if idx := present[c.Name]; idx < len(src) {
				raw = src[idx]
			}
			if isAbsent(raw) {
				row[j] = Absent
				continue
			}
			v, err := Coerce(raw, c.Kind, fill)
			if err != nil {
				var ce *CastingError
				if errors.As(err, &ce) {
					ce.Column = c.Name
				}
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			row[j] = v
		}
		p.rows = append(p.rows, row)
	}
	return p, nil
}

// upsertSQL renders the INSERT ... ON CONFLICT statement for one row.
func upsertSQL(table pgx.Identifier, columns, keys []string, policy ConflictPolicy) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = "$" + strconv.Itoa(i+1)
	}
	quotedKeys := make([]string, len(keys))
	for i, k := range keys {
		quotedKeys[i] = pgx.Identifier{k}.Sanitize()
	}

	var sets []string
	for _, c := range columns {
		if slices.Contains(keys, c) {
			continue
		}
		col := pgx.Identifier{c}.Sanitize()
		incoming := "EXCLUDED." + col
		existing := "t." + col
		switch policy {
		case OverwriteIfSourceNonNull:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", col, incoming, existing))
		case FillIfTargetNull:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", col, existing, incoming))
		default:
			sets = append(sets, fmt.Sprintf("%s = %s", col, incoming))
		}
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		strings.Join(quotedKeys, ", "),
		action,
	)
}

// supplied returns the columns and values of row without its Absent cells.
func (p *plan) supplied(row []any) ([]string, []any) {
	if !slices.ContainsFunc(row, isAbsent) {
		return p.columns, row
	}
	cols := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for i, v := range row {
		if isAbsent(v) {
			continue
		}
		cols = append(cols, p.columns[i])
		args = append(args, v)
	}
	return cols, args
}

// chunk splits rows into contiguous slices of at most size rows.
func chunk(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][][]any
	for i := 0; i < len(rows); i += size {
		out = append(out, rows[i:min(i+size, len(rows))])
	}
	return out
}

func executeBatches(ctx context.Context, conn Conn, table string, ident pgx.Identifier, p *plan, opts UpsertOptions) (int, error) {
	// one statement per distinct set of supplied columns
	statements := make(map[string]string)
	statement := func(cols []string) string {
		key := strings.Join(cols, "\x00")
		q, ok := statements[key]
		if !ok {
			q = upsertSQL(ident, cols, p.keys, opts.Policy)
			statements[key] = q
		}
		return q
	}
	lock := "LOCK TABLE " + ident.Sanitize() + " IN EXCLUSIVE MODE"

	chunks := chunk(p.rows, opts.BatchSize)
	for n, rows := range chunks {
		rowErr := -1
		err := ExecTx(ctx, conn, func(tx pgx.Tx) error {
			if opts.LockTable {
				if _, err := tx.Exec(ctx, lock); err != nil {
					return err
				}
			}
			batch := &pgx.Batch{}
			for _, row := range rows {
				cols, args := p.supplied(row)
				batch.Queue(statement(cols), args...)
			}
			br := tx.SendBatch(ctx, batch)
			for i := range rows {
				if _, err := br.Exec(); err != nil {
					rowErr = i
					_ = br.Close()
					return err
				}
			}
			return br.Close()
		})
		if err != nil {
			return n, &UpsertError{Table: table, Chunk: n, Row: rowErr, Err: err}
		}
		logger.Log.Debug("Committed chunk", zap.String("table", table), zap.Int("chunk", n), zap.Int("rows", len(rows)))
	}
	return len(chunks), nil
}
