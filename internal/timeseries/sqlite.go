package timeseries

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// migrations are applied in order; applied versions are tracked in
// schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS data_points (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_id   TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    value       REAL NOT NULL,
    tags        TEXT NOT NULL DEFAULT '{}',
    metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_data_points_metric_ts ON data_points(metric_id, ts);
`,
	},
}

// sqliteStore persists series in a single SQLite table keyed by metric id.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies
// migrations. ":memory:" is accepted for tests.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Append(ctx context.Context, metricID string, points []types.DataPoint, retention time.Duration, now time.Time) ([]types.DataPoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append %s: %w", metricID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(points) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO data_points(metric_id, ts, value, tags, metadata) VALUES(?, ?, ?, ?, ?)`)
		if err != nil {
			return nil, fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range points {
			tags, err := json.Marshal(p.Tags)
			if err != nil {
				return nil, fmt.Errorf("marshal tags: %w", err)
			}
			meta, err := json.Marshal(p.Metadata)
			if err != nil {
				return nil, fmt.Errorf("marshal metadata: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, metricID, p.Timestamp.UnixNano(), p.Value, string(tags), string(meta)); err != nil {
				return nil, fmt.Errorf("insert point for %s: %w", metricID, err)
			}
		}
	}

	if retention > 0 {
		cutoff := now.Add(-retention).UnixNano()
		if _, err := tx.ExecContext(ctx, `DELETE FROM data_points WHERE metric_id = ? AND ts < ?`, metricID, cutoff); err != nil {
			return nil, fmt.Errorf("prune %s: %w", metricID, err)
		}
	}

	out, err := queryPoints(ctx, tx, `SELECT ts, value, tags, metadata FROM data_points WHERE metric_id = ? ORDER BY ts ASC, id ASC`, metricID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append %s: %w", metricID, err)
	}
	return out, nil
}

func (s *sqliteStore) Series(ctx context.Context, metricID string) ([]types.DataPoint, error) {
	return queryPoints(ctx, s.db, `SELECT ts, value, tags, metadata FROM data_points WHERE metric_id = ? ORDER BY ts ASC, id ASC`, metricID)
}

func (s *sqliteStore) Range(ctx context.Context, metricID string, start, end time.Time) ([]types.DataPoint, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !start.IsZero() {
		lo = start.UnixNano()
	}
	if !end.IsZero() {
		hi = end.UnixNano()
	}
	return queryPoints(ctx, s.db,
		`SELECT ts, value, tags, metadata FROM data_points WHERE metric_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC, id ASC`,
		metricID, lo, hi)
}

func (s *sqliteStore) MetricIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT metric_id FROM data_points ORDER BY metric_id`)
	if err != nil {
		return nil, fmt.Errorf("list metric ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan metric id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryPoints(ctx context.Context, q queryer, query string, args ...interface{}) ([]types.DataPoint, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	out := []types.DataPoint{}
	for rows.Next() {
		var (
			ts         int64
			value      float64
			tags, meta string
		)
		if err := rows.Scan(&ts, &value, &tags, &meta); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p := types.DataPoint{Timestamp: time.Unix(0, ts).UTC(), Value: value}
		if tags != "" && tags != "null" {
			if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
				return nil, fmt.Errorf("decode tags: %w", err)
			}
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
