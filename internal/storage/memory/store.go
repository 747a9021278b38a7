// Package memory is the semi-durable reading sink: an append-only
// buffer with fixed high/low watermark compaction. It stands in for the
// time-series database in demo deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/storage"
)

const (
	highWatermark = 1000
	lowWatermark  = 500
)

// Store keeps readings in an in-memory slice. Once the buffer grows past
// the high watermark it is truncated to the newest low-watermark entries
// (keep-newest eviction, not LRU).
type Store struct {
	mu       sync.RWMutex
	readings []sensors.Reading
	now      func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Insert appends readings, compacting at the watermark.
func (s *Store) Insert(_ context.Context, readings []sensors.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range readings {
		if len(s.readings) > highWatermark {
			s.readings = append([]sensors.Reading(nil), s.readings[len(s.readings)-lowWatermark:]...)
		}
		s.readings = append(s.readings, r)
	}
	return nil
}

// LatestByType returns up to limit newest readings of the kind,
// newest first.
func (s *Store) LatestByType(_ context.Context, kind sensors.SensorKind, limit int) ([]sensors.Reading, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]sensors.Reading, 0, limit)
	for i := len(s.readings) - 1; i >= 0 && len(out) < limit; i-- {
		if s.readings[i].DeviceType == kind {
			out = append(out, s.readings[i])
		}
	}
	return out, nil
}

// Readings filters from the tail of the buffer, newest first.
func (s *Store) Readings(_ context.Context, filter storage.ReadingFilter) ([]sensors.Reading, error) {
	filter = filter.WithDefaults(s.now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]sensors.Reading, 0, filter.Limit)
	for i := len(s.readings) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		r := s.readings[i]
		if filter.DeviceID != "" && r.DeviceID != filter.DeviceID {
			continue
		}
		if filter.DeviceType != "" && r.DeviceType != filter.DeviceType {
			continue
		}
		if r.Timestamp.Before(filter.Start) || r.Timestamp.After(filter.End) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// HourlyAverages buckets readings of the kind by hour, newest bucket
// first.
func (s *Store) HourlyAverages(_ context.Context, kind sensors.SensorKind, start, end time.Time) ([]sensors.HourlyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[time.Time]*sensors.HourlyStat)
	for _, r := range s.readings {
		if r.DeviceType != kind {
			continue
		}
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		hour := r.Timestamp.UTC().Truncate(time.Hour)
		stat := buckets[hour]
		if stat == nil {
			stat = &sensors.HourlyStat{Hour: hour, DeviceType: kind, MinValue: r.Value, MaxValue: r.Value}
			buckets[hour] = stat
		}
		stat.AvgValue += r.Value
		stat.ReadingCount++
		if r.Value < stat.MinValue {
			stat.MinValue = r.Value
		}
		if r.Value > stat.MaxValue {
			stat.MaxValue = r.Value
		}
	}

	out := make([]sensors.HourlyStat, 0, len(buckets))
	for _, stat := range buckets {
		stat.AvgValue = stat.AvgValue / float64(stat.ReadingCount)
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.After(out[j].Hour) })
	return out, nil
}

// DeviceSummary reports per-type device and reading counts over the
// current buffer contents.
func (s *Store) DeviceSummary(_ context.Context) ([]sensors.TypeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		devices  map[string]struct{}
		count    int
		lastSeen time.Time
	}
	byType := make(map[sensors.SensorKind]*acc)
	for _, r := range s.readings {
		a := byType[r.DeviceType]
		if a == nil {
			a = &acc{devices: make(map[string]struct{})}
			byType[r.DeviceType] = a
		}
		a.devices[r.DeviceID] = struct{}{}
		a.count++
		if r.Timestamp.After(a.lastSeen) {
			a.lastSeen = r.Timestamp
		}
	}

	out := make([]sensors.TypeSummary, 0, len(byType))
	for _, kind := range sensors.Kinds() {
		a := byType[kind]
		if a == nil {
			continue
		}
		out = append(out, sensors.TypeSummary{
			DeviceType:   kind,
			DeviceCount:  len(a.devices),
			ReadingCount: a.count,
			LastSeen:     a.lastSeen,
		})
	}
	return out, nil
}

// Len reports the current buffer length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}
