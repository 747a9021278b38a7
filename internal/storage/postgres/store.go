// Package postgres is the durable reading sink backed by
// TimescaleDB (or plain Postgres; the SQL avoids Timescale-only
// functions so both work).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/storage"
)

const defaultReadingsTable = "sensor_readings"

// Store persists readings in a time-partitioned table.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// NewStore constructs a store with the default table name.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, table: defaultReadingsTable, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert appends readings. Append-only: duplicates are accepted as new
// rows, never upserted.
func (s *Store) Insert(ctx context.Context, readings []sensors.Reading) error {
	if s == nil || s.db == nil {
		return errors.New("postgres sink: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	device_type,
	location,
	value,
	unit,
	quality,
	ts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)`, s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if r.DeviceID == "" || !r.DeviceType.Valid() || r.Timestamp.IsZero() {
			_ = tx.Rollback()
			return errors.New("postgres sink: invalid reading")
		}
		if _, err := stmt.ExecContext(
			ctx,
			r.DeviceID,
			string(r.DeviceType),
			nullString(r.Location),
			r.Value,
			r.Unit,
			nullString(r.Quality),
			r.Timestamp,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LatestByType returns up to limit newest readings of the kind.
func (s *Store) LatestByType(ctx context.Context, kind sensors.SensorKind, limit int) ([]sensors.Reading, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres sink: nil db")
	}
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
SELECT device_id, device_type, location, value, unit, quality, ts
FROM %s
WHERE device_type = $1
ORDER BY ts DESC
LIMIT $2`, s.table)

	rows, err := s.db.QueryContext(ctx, query, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// Readings runs a filtered range query, newest first.
func (s *Store) Readings(ctx context.Context, filter storage.ReadingFilter) ([]sensors.Reading, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres sink: nil db")
	}
	filter = filter.WithDefaults(s.now())

	var b strings.Builder
	fmt.Fprintf(&b, `
SELECT device_id, device_type, location, value, unit, quality, ts
FROM %s
WHERE ts >= $1 AND ts <= $2`, s.table)
	args := []any{filter.Start, filter.End}

	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		fmt.Fprintf(&b, " AND device_id = $%d", len(args))
	}
	if filter.DeviceType != "" {
		args = append(args, string(filter.DeviceType))
		fmt.Fprintf(&b, " AND device_type = $%d", len(args))
	}
	args = append(args, filter.Limit)
	fmt.Fprintf(&b, " ORDER BY ts DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// HourlyAverages aggregates readings of the kind into one-hour buckets
// within [start, end], newest bucket first.
func (s *Store) HourlyAverages(ctx context.Context, kind sensors.SensorKind, start, end time.Time) ([]sensors.HourlyStat, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres sink: nil db")
	}
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.Add(-storage.DefaultWindow)
	}

	query := fmt.Sprintf(`
SELECT
	date_trunc('hour', ts) AS hour,
	AVG(value) AS avg_value,
	MIN(value) AS min_value,
	MAX(value) AS max_value,
	COUNT(*) AS reading_count
FROM %s
WHERE device_type = $1
	AND ts >= $2
	AND ts <= $3
GROUP BY hour
ORDER BY hour DESC`, s.table)

	rows, err := s.db.QueryContext(ctx, query, string(kind), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sensors.HourlyStat, 0)
	for rows.Next() {
		stat := sensors.HourlyStat{DeviceType: kind}
		if err := rows.Scan(&stat.Hour, &stat.AvgValue, &stat.MinValue, &stat.MaxValue, &stat.ReadingCount); err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

// DeviceSummary reports device and reading counts per type.
func (s *Store) DeviceSummary(ctx context.Context) ([]sensors.TypeSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres sink: nil db")
	}

	query := fmt.Sprintf(`
SELECT
	device_type,
	COUNT(DISTINCT device_id) AS device_count,
	COUNT(*) AS reading_count,
	MAX(ts) AS last_seen
FROM %s
GROUP BY device_type
ORDER BY device_type`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sensors.TypeSummary, 0)
	for rows.Next() {
		var summary sensors.TypeSummary
		var deviceType string
		if err := rows.Scan(&deviceType, &summary.DeviceCount, &summary.ReadingCount, &summary.LastSeen); err != nil {
			return nil, err
		}
		summary.DeviceType = sensors.SensorKind(deviceType)
		out = append(out, summary)
	}
	return out, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]sensors.Reading, error) {
	out := make([]sensors.Reading, 0)
	for rows.Next() {
		var r sensors.Reading
		var deviceType string
		var location, quality sql.NullString
		if err := rows.Scan(&r.DeviceID, &deviceType, &location, &r.Value, &r.Unit, &quality, &r.Timestamp); err != nil {
			return nil, err
		}
		r.DeviceType = sensors.SensorKind(deviceType)
		r.Location = location.String
		r.Quality = quality.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
