// Package application owns the process-wide dashboard state: the
// sensor snapshot and the device registry. All mutation goes through
// the Service, which applies one ingested batch (or simulation tick)
// atomically and publishes the resulting events.
package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"hydrosense-cloud/internal/eventing"
	"hydrosense-cloud/internal/observability/metrics"
	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/sensors/simulation"
	"hydrosense-cloud/internal/storage"
)

// Known sub-device keys of the combined payload.
const (
	KeyPowerMeter = "power_meter_01"
	KeyFlowSensor = "flow_rate_01"
	KeyORP1       = "ORP_01"
	KeyORP2       = "ORP_02"
	KeyPH1        = "pH_01"
	KeyPH2        = "pH_02"
)

// Per-device synthetic offsets applied to the shared computed value.
// The dashboard shows a small spread across probes of the same kind,
// not a multi-sensor fusion model.
const (
	flowSpreadStep  = 2.0
	orpSpreadStep   = 5.0
	phSpreadStep    = 0.1
	powerSpreadStep = 0.0
)

// ErrEmptyBatch is returned when a combined payload carries no devices.
var ErrEmptyBatch = errors.New("dashboard: batch has no devices")

// CombinedBatch is one inbound message on the combined sensor channel.
type CombinedBatch struct {
	Batch     int64                       `json:"batch"`
	Timestamp string                      `json:"timestamp"`
	Devices   map[string]SubDeviceReading `json:"devices"`
}

// SubDeviceReading is one nested reading keyed by sub-device id. Power
// meters report watts under "power"; every other sensor reports under
// "value".
type SubDeviceReading struct {
	Value    *float64 `json:"value"`
	Power    *float64 `json:"power"`
	Unit     string   `json:"unit"`
	Location string   `json:"location"`
	Quality  string   `json:"quality"`
}

// At resolves the batch timestamp, falling back to now.
func (b CombinedBatch) At(now time.Time) time.Time {
	if b.Timestamp == "" {
		return now
	}
	ts, err := time.Parse(time.RFC3339, b.Timestamp)
	if err != nil {
		return now
	}
	return ts
}

// Service owns the snapshot and registry and serializes all mutation.
type Service struct {
	mu       sync.Mutex
	snapshot sensors.Snapshot
	registry *sensors.Registry

	sink   storage.Sink
	bus    eventing.Bus
	logger *log.Logger
	clock  func() time.Time
	newID  func() string
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDFactory overrides activity entry id generation, for tests.
func WithIDFactory(factory func() string) Option {
	return func(s *Service) {
		if factory != nil {
			s.newID = factory
		}
	}
}

// NewService constructs the dashboard service. The seed status is
// offline for the broker-fed variant and operational for simulation.
func NewService(sink storage.Sink, bus eventing.Bus, seed sensors.DeviceStatus, logger *log.Logger, opts ...Option) (*Service, error) {
	if sink == nil {
		return nil, errors.New("dashboard: nil sink")
	}
	if bus == nil {
		return nil, errors.New("dashboard: nil bus")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		registry: sensors.NewRegistry(seed),
		sink:     sink,
		bus:      bus,
		logger:   logger,
		clock:    time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot returns a copy of the current snapshot.
func (s *Service) Snapshot() sensors.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Report returns a deep copy of the current device state.
func (s *Service) Report() sensors.StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Report()
}

// ApplyBatch applies one combined payload: unit conversions, redundant
// probe averaging, registry spread updates and sink appends, then
// exactly one round of broadcast events.
func (s *Service) ApplyBatch(ctx context.Context, batch CombinedBatch) error {
	if len(batch.Devices) == 0 {
		return ErrEmptyBatch
	}
	at := batch.At(s.clock().UTC())

	s.mu.Lock()
	readings := make([]sensors.Reading, 0, len(batch.Devices))

	if d, ok := batch.Devices[KeyPowerMeter]; ok && d.Power != nil {
		kw := sensors.Round2(*d.Power / 1000)
		s.snapshot.PowerConsumption = kw
		s.registry.ApplySpread(sensors.KindPower, kw, powerSpreadStep)
		readings = append(readings, makeReading(KeyPowerMeter, sensors.KindPower, kw, d, at))
	}

	if d, ok := batch.Devices[KeyFlowSensor]; ok && d.Value != nil {
		lph := sensors.Round1(*d.Value * 60)
		s.snapshot.FlowRate = lph
		s.registry.ApplySpread(sensors.KindFlowRate, lph, flowSpreadStep)
		readings = append(readings, makeReading(KeyFlowSensor, sensors.KindFlowRate, lph, d, at))
	}

	if avg, probes, ok := averageProbes(batch.Devices, KeyORP1, KeyORP2); ok {
		level := sensors.Round1(avg)
		s.snapshot.ORPLevel = level
		s.registry.ApplySpread(sensors.KindORP, level, orpSpreadStep)
		for _, p := range probes {
			readings = append(readings, makeReading(p.key, sensors.KindORP, p.value, batch.Devices[p.key], at))
		}
	}

	if avg, probes, ok := averageProbes(batch.Devices, KeyPH1, KeyPH2); ok {
		level := sensors.Round2(avg)
		s.snapshot.PHLevel = level
		s.registry.ApplySpread(sensors.KindPH, level, phSpreadStep)
		for _, p := range probes {
			readings = append(readings, makeReading(p.key, sensors.KindPH, p.value, batch.Devices[p.key], at))
		}
	}

	s.snapshot.LastUpdate = &at
	snapshot := s.snapshot
	report := s.registry.Report()
	s.mu.Unlock()

	// Storage is best-effort and independent of delivery to sessions.
	if len(readings) > 0 {
		s.insert(ctx, readings)
	}

	s.publish(ctx, eventing.SnapshotUpdated{Snapshot: snapshot})
	s.publish(ctx, eventing.StatusUpdated{Report: report})
	s.publish(ctx, eventing.ActivityLogged{Entry: sensors.ActivityEntry{
		Type:   "system",
		Device: "MQTT001",
		Message: fmt.Sprintf("Sensor data updated - Flow: %.1fL/h, ORP: %.1fmV, pH: %.2f, Power: %.2fkW",
			snapshot.FlowRate, snapshot.ORPLevel, snapshot.PHLevel, snapshot.PowerConsumption),
		Level:     "info",
		Timestamp: at,
		ID:        s.newID(),
	}})
	return nil
}

// SimulateTick replaces the snapshot with fresh draws and gives every
// device an independent reading, then broadcasts snapshot and status.
func (s *Service) SimulateTick(ctx context.Context) {
	now := s.clock().UTC()

	s.mu.Lock()
	s.snapshot.FlowRate = simulation.FlowRate()
	s.snapshot.ORPLevel = simulation.ORPLevel()
	s.snapshot.PHLevel = simulation.PHLevel()
	s.snapshot.PowerConsumption = simulation.PowerConsumption()
	s.snapshot.LastUpdate = &now

	readings := make([]sensors.Reading, 0, 16)
	for _, kind := range sensors.Kinds() {
		cat := s.registry.Category(kind)
		values := make([]float64, len(cat.Devices))
		for i := range values {
			values[i] = simulation.Value(kind)
		}
		s.registry.ApplyReadings(kind, values)
		for i, d := range cat.Devices {
			readings = append(readings, sensors.Reading{
				DeviceID:   d.ID,
				DeviceType: kind,
				Value:      values[i],
				Unit:       kind.Unit(),
				Quality:    "good",
				Timestamp:  now,
			})
		}
	}
	snapshot := s.snapshot
	report := s.registry.Report()
	s.mu.Unlock()

	s.insert(ctx, readings)

	s.publish(ctx, eventing.SnapshotUpdated{Snapshot: snapshot})
	s.publish(ctx, eventing.StatusUpdated{Report: report})
}

func (s *Service) insert(ctx context.Context, readings []sensors.Reading) {
	started := time.Now()
	if err := s.sink.Insert(ctx, readings); err != nil {
		metrics.ObserveSinkInsert("error", time.Since(started))
		s.logger.Printf("dashboard: sink insert error: %v", err)
		return
	}
	metrics.ObserveSinkInsert("success", time.Since(started))
}

var cannedActivities = []sensors.ActivityEntry{
	{Type: "flowRate", Device: "FR001", Message: "Normal operation resumed", Level: "info"},
	{Type: "flowRate", Device: "FR002", Message: "Calibration completed", Level: "success"},
	{Type: "orp", Device: "ORP003", Message: "Calibration completed", Level: "success"},
	{Type: "orp", Device: "ORP001", Message: "Reading stabilized", Level: "info"},
	{Type: "pH", Device: "PH005", Message: "Reading within normal range", Level: "info"},
	{Type: "pH", Device: "PH002", Message: "Auto-calibration initiated", Level: "warning"},
	{Type: "power", Device: "PM001", Message: "Monthly report generated", Level: "info"},
	{Type: "power", Device: "PM001", Message: "Load spike detected", Level: "warning"},
}

// EmitActivity broadcasts one random canned activity entry; the
// simulation variant calls this on a fixed interval.
func (s *Service) EmitActivity(ctx context.Context) {
	entry := cannedActivities[rand.Intn(len(cannedActivities))]
	entry.Timestamp = s.clock().UTC()
	entry.ID = s.newID()
	s.publish(ctx, eventing.ActivityLogged{Entry: entry})
}

func (s *Service) publish(ctx context.Context, event any) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("dashboard: publish %s error: %v", eventing.TypeOf(event), err)
	}
}

type probeValue struct {
	key   string
	value float64
}

func averageProbes(devices map[string]SubDeviceReading, keys ...string) (float64, []probeValue, bool) {
	probes := make([]probeValue, 0, len(keys))
	sum := 0.0
	for _, key := range keys {
		if d, ok := devices[key]; ok && d.Value != nil {
			probes = append(probes, probeValue{key: key, value: *d.Value})
			sum += *d.Value
		}
	}
	if len(probes) == 0 {
		return 0, nil, false
	}
	return sum / float64(len(probes)), probes, true
}

// makeReading stores the converted value under the kind's canonical
// unit, regardless of the unit the publisher reported.
func makeReading(deviceID string, kind sensors.SensorKind, value float64, d SubDeviceReading, at time.Time) sensors.Reading {
	unit := kind.Unit()
	quality := d.Quality
	if quality == "" {
		quality = "good"
	}
	return sensors.Reading{
		DeviceID:   deviceID,
		DeviceType: kind,
		Location:   d.Location,
		Value:      value,
		Unit:       unit,
		Quality:    quality,
		Timestamp:  at,
	}
}
