package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/storage"
)

func reading(i int, kind sensors.SensorKind, at time.Time) sensors.Reading {
	return sensors.Reading{
		DeviceID:   fmt.Sprintf("dev-%03d", i%7),
		DeviceType: kind,
		Value:      float64(i),
		Unit:       kind.Unit(),
		Timestamp:  at,
	}
}

func TestWatermarkCompaction(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 1002; i++ {
		r := reading(i, sensors.KindORP, base.Add(time.Duration(i)*time.Second))
		if err := store.Insert(ctx, []sensors.Reading{r}); err != nil {
			t.Fatal(err)
		}
	}

	// After crossing the 1000 high watermark the buffer was cut to the
	// newest 500 before the final append.
	if got := store.Len(); got != 501 {
		t.Fatalf("buffer length %d, want 501", got)
	}

	latest, err := store.LatestByType(ctx, sensors.KindORP, 1000)
	if err != nil {
		t.Fatal(err)
	}
	cut := base.Add(502 * time.Second)
	for _, r := range latest {
		if r.Timestamp.Before(cut) {
			t.Fatalf("reading %v predates truncation point %v", r.Timestamp, cut)
		}
	}
}

func TestLatestByTypeNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_ = store.Insert(ctx, []sensors.Reading{reading(i, sensors.KindPH, base.Add(time.Duration(i) * time.Minute))})
		_ = store.Insert(ctx, []sensors.Reading{reading(i, sensors.KindPower, base.Add(time.Duration(i) * time.Minute))})
	}

	got, err := store.LatestByType(ctx, sensors.KindPH, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d readings, want 3", len(got))
	}
	if got[0].Value != 4 || got[2].Value != 2 {
		t.Fatalf("unexpected order: %v, %v", got[0].Value, got[2].Value)
	}
	for _, r := range got {
		if r.DeviceType != sensors.KindPH {
			t.Fatalf("wrong type %s in result", r.DeviceType)
		}
	}
}

func TestReadingsDefaults(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	old := reading(1, sensors.KindFlowRate, now.Add(-36*time.Hour))
	fresh := reading(2, sensors.KindFlowRate, now.Add(-time.Hour))
	_ = store.Insert(ctx, []sensors.Reading{old, fresh})

	got, err := store.Readings(ctx, storage.ReadingFilter{DeviceType: sensors.KindFlowRate})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d readings, want only the one inside the 24h default window", len(got))
	}
	if got[0].Value != 2 {
		t.Fatalf("got value %v, want 2", got[0].Value)
	}
}

func TestReadingsLimit(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		_ = store.Insert(ctx, []sensors.Reading{reading(i, sensors.KindPower, now.Add(-time.Duration(i) * time.Minute))})
	}

	got, err := store.Readings(ctx, storage.ReadingFilter{DeviceType: sensors.KindPower})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != storage.DefaultLimit {
		t.Fatalf("got %d readings, want default limit %d", len(got), storage.DefaultLimit)
	}
}

func TestHourlyAverages(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	vals := []float64{440, 450, 460}
	for i, v := range vals {
		r := sensors.Reading{
			DeviceID:   "ORP001",
			DeviceType: sensors.KindORP,
			Value:      v,
			Timestamp:  hour.Add(time.Duration(i*10) * time.Minute),
		}
		_ = store.Insert(ctx, []sensors.Reading{r})
	}
	// One reading in the next hour.
	_ = store.Insert(ctx, []sensors.Reading{{
		DeviceID:   "ORP001",
		DeviceType: sensors.KindORP,
		Value:      500,
		Timestamp:  hour.Add(90 * time.Minute),
	}})

	stats, err := store.HourlyAverages(ctx, sensors.KindORP, hour, hour.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d buckets, want 2", len(stats))
	}
	// Newest bucket first.
	if !stats[0].Hour.Equal(hour.Add(time.Hour)) {
		t.Fatalf("first bucket %v, want %v", stats[0].Hour, hour.Add(time.Hour))
	}
	full := stats[1]
	if full.AvgValue != 450 || full.MinValue != 440 || full.MaxValue != 460 || full.ReadingCount != 3 {
		t.Fatalf("bucket stats avg=%v min=%v max=%v n=%d", full.AvgValue, full.MinValue, full.MaxValue, full.ReadingCount)
	}
}

func TestDeviceSummary(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = store.Insert(ctx, []sensors.Reading{
		{DeviceID: "PH001", DeviceType: sensors.KindPH, Value: 7.2, Timestamp: now},
		{DeviceID: "PH002", DeviceType: sensors.KindPH, Value: 7.4, Timestamp: now.Add(time.Minute)},
		{DeviceID: "PH001", DeviceType: sensors.KindPH, Value: 7.3, Timestamp: now.Add(2 * time.Minute)},
	})

	summary, err := store.DeviceSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summary))
	}
	s := summary[0]
	if s.DeviceType != sensors.KindPH || s.DeviceCount != 2 || s.ReadingCount != 3 {
		t.Fatalf("summary %+v", s)
	}
	if !s.LastSeen.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("last seen %v", s.LastSeen)
	}
}
