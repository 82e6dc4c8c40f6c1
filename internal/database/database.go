// Package database synchronises records into PostgreSQL tables.
//
// Every operation opens its own connection through a ConnFactory, does its
// work, and closes the connection before returning. Upserts are keyed on the
// table's primary key and resolve conflicts with a ConflictPolicy.
package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"race-sync-service/internal/config"
	"race-sync-service/internal/logger"
)

// Conn is the part of *pgx.Conn the synchroniser needs.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Close(ctx context.Context) error
}

// ConnFactory opens a new connection. The caller owns and closes it.
type ConnFactory func(ctx context.Context) (Conn, error)

// PgxConnFactory dials connString on every call.
func PgxConnFactory(connString string) ConnFactory {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return conn, nil
	}
}

type Database struct {
	connect ConnFactory
}

func New(connect ConnFactory) *Database {
	return &Database{connect: connect}
}

func NewDatabase(cfg config.DatabaseConnection) *Database {
	logger.Log.Info("Using database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return New(PgxConnFactory(cfg.ConnString()))
}

// withConn runs fn on a fresh connection and always closes it.
func (d *Database) withConn(ctx context.Context, fn func(conn Conn) error) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Log.Warn("Failed to close connection", zap.Error(cerr))
		}
	}()
	return fn(conn)
}

// ExecTx executes a function within a transaction
func ExecTx(ctx context.Context, conn Conn, fn func(tx pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

var mutatingPattern = regexp.MustCompile(`(?i)(?:^\s*update\b)|(?:(?:create|drop|alter|truncate)\s+table)|(?:insert\s+into)|(?:delete\s+from)`)

// IsMutating reports whether query is DDL/DML that returns no result set.
func IsMutating(query string) bool {
	return mutatingPattern.MatchString(query)
}

type ExecOptions struct {
	// AsMaps returns rows keyed by field name instead of tuples.
	AsMaps bool
	// Flatten concatenates tuple rows into a single slice of scalars. Ignored with AsMaps.
	Flatten bool
}

type Result struct {
	Mutating     bool
	RowsAffected int64
	Columns      []string
	Rows         [][]any
	Maps         []map[string]any
	Flat         []any
}

// Execute runs an arbitrary parameterised statement. Results are fetched only
// for statements that IsMutating classifies as read-only.
func (d *Database) Execute(ctx context.Context, query string, args []any, opts ExecOptions) (*Result, error) {
	res := &Result{Mutating: IsMutating(query)}
	err := d.withConn(ctx, func(conn Conn) error {
		if res.Mutating {
			tag, err := conn.Exec(ctx, query, args...)
			if err != nil {
				return err
			}
			res.RowsAffected = tag.RowsAffected()
			return nil
		}

		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for _, fd := range rows.FieldDescriptions() {
			res.Columns = append(res.Columns, fd.Name)
		}
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			switch {
			case opts.AsMaps:
				m := make(map[string]any, len(values))
				for i, v := range values {
					m[res.Columns[i]] = v
				}
				res.Maps = append(res.Maps, m)
			case opts.Flatten:
				res.Flat = append(res.Flat, values...)
			default:
				res.Rows = append(res.Rows, values)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		res.RowsAffected = rows.CommandTag().RowsAffected()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return res, nil
}

// Query runs a read-only statement and returns rows keyed by field name.
func (d *Database) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	res, err := d.Execute(ctx, query, args, ExecOptions{AsMaps: true})
	if err != nil {
		return nil, err
	}
	if res.Maps == nil {
		return []map[string]any{}, nil
	}
	return res.Maps, nil
}
