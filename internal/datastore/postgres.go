package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ccsml/internal/config"
	"ccsml/internal/dataset"
)

// ErrNotIngested is returned when a good-data table has never been written.
var ErrNotIngested = errors.New("no ingested data")

// PredictionRow is one persisted prediction.
type PredictionRow struct {
	RunID     string
	ID        string
	ClusterID int
	Model     string
	Value     float64
	CreatedAt time.Time
}

// Sink receives background writes.
type Sink interface {
	ReplaceGoodData(ctx context.Context, table string, data *dataset.Table) error
	InsertPredictions(ctx context.Context, table string, rows []PredictionRow) error
}

// Postgres is the pgx-backed datastore.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a connection pool from the datastore configuration.
func Connect(ctx context.Context, cfg config.DatastoreConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse datastore url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect datastore: %w", err)
	}
	logger.InfoContext(ctx, "datastore connected",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.String("database", poolCfg.ConnConfig.Database),
		slog.Int("max_conns", int(poolCfg.MaxConns)))
	return &Postgres{pool: pool, logger: logger.With(slog.String("component", "datastore"))}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// ReplaceGoodData recreates table with the columns of data and copies every
// row into it in one transaction.
func (p *Postgres) ReplaceGoodData(ctx context.Context, table string, data *dataset.Table) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createGoodDataSQL(table, data.Columns())); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, append([]string{"id"}, data.Columns()...),
		pgx.CopyFromRows(goodDataRows(data)))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.logger.InfoContext(ctx, "good data replaced", slog.String("table", table), slog.Int64("rows", n))
	return nil
}

// ExportGoodData reads table back as a dataset ordered by id.
func (p *Postgres) ExportGoodData(ctx context.Context, table string) (*dataset.Table, error) {
	rows, err := p.pool.Query(ctx, "SELECT * FROM "+pgx.Identifier{table}.Sanitize()+" ORDER BY id")
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%s: %w", table, ErrNotIngested)
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, 0, len(fields))
	idIdx := -1
	for i, f := range fields {
		if string(f.Name) == "id" {
			idIdx = i
			continue
		}
		names = append(names, string(f.Name))
	}
	cols := make([][]float64, len(names))
	var ids []string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		j := 0
		for i, v := range values {
			if i == idIdx {
				ids = append(ids, fmt.Sprint(v))
				continue
			}
			cols[j] = append(cols[j], toFloat(v))
			j++
		}
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%s: %w", table, ErrNotIngested)
		}
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	if idIdx < 0 {
		ids = nil
	}
	return dataset.NewTable(names, cols, ids)
}

// InsertPredictions appends rows to the prediction results table.
func (p *Postgres) InsertPredictions(ctx context.Context, table string, rows []PredictionRow) error {
	if _, err := p.pool.Exec(ctx, createPredictionsSQL(table)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{table}, predictionColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			r := rows[i]
			return []interface{}{r.RunID, r.ID, r.ClusterID, r.Model, r.Value, r.CreatedAt}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	p.logger.DebugContext(ctx, "predictions stored", slog.String("table", table), slog.Int64("rows", n))
	return nil
}

var predictionColumns = []string{"run_id", "id", "cluster_id", "model", "prediction", "created_at"}

func createGoodDataSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (id TEXT PRIMARY KEY")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(pgx.Identifier{c}.Sanitize())
		b.WriteString(" DOUBLE PRECISION")
	}
	b.WriteString(")")
	return b.String()
}

func createPredictionsSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + pgx.Identifier{table}.Sanitize() + ` (
	run_id TEXT NOT NULL,
	id TEXT NOT NULL,
	cluster_id INTEGER NOT NULL,
	model TEXT NOT NULL,
	prediction DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, id)
)`
}

// goodDataRows lays out data for COPY with the id first. NaN becomes NULL.
func goodDataRows(data *dataset.Table) [][]interface{} {
	ids := data.IDs()
	out := make([][]interface{}, data.NumRows())
	for i := range out {
		row := data.Row(i)
		vals := make([]interface{}, 0, len(row)+1)
		if ids != nil {
			vals = append(vals, ids[i])
		} else {
			vals = append(vals, fmt.Sprint(i))
		}
		for _, v := range row {
			if math.IsNaN(v) {
				vals = append(vals, nil)
			} else {
				vals = append(vals, v)
			}
		}
		out[i] = vals
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	default:
		return math.NaN()
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
