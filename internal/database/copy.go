package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"race-sync-service/internal/logger"
)

// InsertFrame appends frame to table with COPY. There is no conflict handling:
// any duplicate key fails the whole load.
func (d *Database) InsertFrame(ctx context.Context, table string, frame Frame) (int64, error) {
	if len(frame.Rows) == 0 {
		return 0, nil
	}

	var n int64
	err := d.withConn(ctx, func(conn Conn) error {
		schema, err := loadSchema(ctx, conn, table)
		if err != nil {
			return err
		}
		p, err := prepareColumns(schema, frame, nil)
		if err != nil {
			return err
		}

		kinds := make([]ColumnKind, len(p.columns))
		for i, c := range p.columns {
			col, _ := schema.Column(c)
			kinds[i] = col.Kind
		}
		for _, row := range p.rows {
			for i, v := range row {
				row[i], err = copyValue(v, kinds[i])
				if err != nil {
					return fmt.Errorf("column %s: %w", p.columns[i], err)
				}
			}
		}

		n, err = conn.CopyFrom(ctx, schema.Identifier(), p.columns, pgx.CopyFromRows(p.rows))
		return err
	})
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	logger.Log.Info("Copied rows", zap.String("table", table), zap.Int64("rows", n))
	return n, nil
}

// InsertRecords is InsertFrame for records.
func (d *Database) InsertRecords(ctx context.Context, table string, records []Record) (int64, error) {
	return d.InsertFrame(ctx, table, FrameFromRecords(records))
}

// copyValue adapts coerced values for the binary COPY protocol.
func copyValue(v any, kind ColumnKind) (any, error) {
	if isAbsent(v) {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok || kind != KindDate {
		return v, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, &CastingError{Kind: KindDate, Value: s, Reason: "not a YYYY-MM-DD date"}
	}
	return t, nil
}
