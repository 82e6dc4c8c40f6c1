package racing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"race-sync-service/internal/config"
	"race-sync-service/internal/database"
)

var ErrReadOnly = errors.New("table is not editable")

// DB is the slice of *database.Database the repository uses.
type DB interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	Upsert(ctx context.Context, table string, records []database.Record, opts database.UpsertOptions) (*database.UpsertResult, error)
}

type Repository struct {
	db     DB
	races  config.TableConfig
	horses config.TableConfig
}

func NewRepository(db DB, cfg config.SyncConfig) *Repository {
	races, ok := cfg.Table(config.RacesTable)
	if !ok {
		races = config.TableConfig{Name: config.RacesTable}
	}
	horses, ok := cfg.Table(config.HorsesTable)
	if !ok {
		horses = config.TableConfig{Name: config.HorsesTable}
	}
	return &Repository{db: db, races: races, horses: horses}
}

// ListRaces returns every column of the races table, optionally limited to tracks.
func (r *Repository) ListRaces(ctx context.Context, tracks []string) ([]map[string]any, error) {
	query := "SELECT * FROM " + quoteTable(r.races.Name)
	var args []any
	if len(tracks) > 0 {
		query += " WHERE track_id = ANY($1)"
		args = append(args, tracks)
	}
	query += " ORDER BY race_date, track_id, race_number"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list races: %w", err)
	}
	return rows, nil
}

func (r *Repository) SaveRaces(ctx context.Context, races []Race) (*database.UpsertResult, error) {
	records := make([]database.Record, len(races))
	for i, race := range races {
		records[i] = race.Record()
	}
	opts, err := UpsertOptions(r.races)
	if err != nil {
		return nil, err
	}
	return r.db.Upsert(ctx, r.races.Name, records, opts)
}

func (r *Repository) ListHorses(ctx context.Context, tracks []string) ([]Horse, error) {
	query := "SELECT horse_id, horse_name, foaling_date, sex FROM " + quoteTable(r.horses.Name)
	var args []any
	if len(tracks) > 0 {
		query += " WHERE track_id = ANY($1)"
		args = append(args, tracks)
	}
	query += " ORDER BY horse_name, horse_id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list horses: %w", err)
	}
	horses := make([]Horse, 0, len(rows))
	for _, row := range rows {
		horses = append(horses, Horse{
			HorseID:     text(row["horse_id"]),
			HorseName:   text(row["horse_name"]),
			FoalingDate: text(row["foaling_date"]),
			Sex:         text(row["sex"]),
		})
	}
	return horses, nil
}

// SaveHorses writes rows edited on the dashboard back to the stable table.
// Columns the table does not have are dropped by the upsert.
func (r *Repository) SaveHorses(ctx context.Context, records []database.Record) (*database.UpsertResult, error) {
	if !r.horses.Editable {
		return nil, fmt.Errorf("%s: %w", r.horses.Name, ErrReadOnly)
	}
	opts, err := UpsertOptions(r.horses)
	if err != nil {
		return nil, err
	}
	return r.db.Upsert(ctx, r.horses.Name, records, opts)
}

// SexBreakdown counts horses per sex, largest group first.
func (r *Repository) SexBreakdown(ctx context.Context) ([]SexCount, error) {
	query := "SELECT COALESCE(sex, '') AS sex, COUNT(*) AS count FROM " + quoteTable(r.horses.Name) +
		" GROUP BY 1 ORDER BY count DESC, sex"
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sex breakdown: %w", err)
	}
	counts := make([]SexCount, 0, len(rows))
	for _, row := range rows {
		n, _ := row["count"].(int64)
		counts = append(counts, SexCount{Sex: text(row["sex"]), Count: n})
	}
	return counts, nil
}

// UpsertOptions turns a table's sync settings into executor options.
func UpsertOptions(tc config.TableConfig) (database.UpsertOptions, error) {
	policy, err := database.ParseConflictPolicy(tc.ConflictResolution)
	if err != nil {
		return database.UpsertOptions{}, fmt.Errorf("%s: %w", tc.Name, err)
	}
	opts := database.UpsertOptions{
		Policy:    policy,
		BatchSize: tc.BatchSize,
		LockTable: tc.LockTable,
	}
	for _, k := range strings.Split(tc.PrimaryKey, ",") {
		if k = strings.TrimSpace(k); k != "" {
			opts.PrimaryKeys = append(opts.PrimaryKeys, k)
		}
	}
	return opts, nil
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.DateOnly)
	default:
		return fmt.Sprint(x)
	}
}
