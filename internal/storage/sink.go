// Package storage defines the reading sink consumed by the ingestion
// pipeline and the query surface. Two implementations exist: a bounded
// in-memory buffer and a Timescale/Postgres store.
package storage

import (
	"context"
	"time"

	sensors "hydrosense-cloud/internal/sensors/domain"
)

// DefaultWindow is the history window applied when a range query gives
// no start time.
const DefaultWindow = 24 * time.Hour

// DefaultLimit is the result cap applied when a range query gives none.
const DefaultLimit = 100

// ReadingFilter narrows a range query. Zero fields are unfiltered.
type ReadingFilter struct {
	DeviceID   string
	DeviceType sensors.SensorKind
	Start      time.Time
	End        time.Time
	Limit      int
}

// WithDefaults fills the last-24h window and the default limit.
func (f ReadingFilter) WithDefaults(now time.Time) ReadingFilter {
	if f.End.IsZero() {
		f.End = now
	}
	if f.Start.IsZero() {
		f.Start = f.End.Add(-DefaultWindow)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	return f
}

// Sink records every reading for later query. Insert is append-only and
// never rejects duplicates; queries are read-only.
type Sink interface {
	Insert(ctx context.Context, readings []sensors.Reading) error
	LatestByType(ctx context.Context, kind sensors.SensorKind, limit int) ([]sensors.Reading, error)
	Readings(ctx context.Context, filter ReadingFilter) ([]sensors.Reading, error)
	HourlyAverages(ctx context.Context, kind sensors.SensorKind, start, end time.Time) ([]sensors.HourlyStat, error)
	DeviceSummary(ctx context.Context) ([]sensors.TypeSummary, error)
}
