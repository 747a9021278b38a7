// Package sim drives the dashboard service from locally generated
// readings, for running without any broker at all.
package sim

import (
	"context"
	"errors"
	"log"
	"time"

	"hydrosense-cloud/internal/observability/metrics"
)

const (
	DefaultTickInterval     = 1 * time.Second
	DefaultActivityInterval = 5 * time.Second
)

// Ticker is the subset of the dashboard service the simulator drives.
type Ticker interface {
	SimulateTick(ctx context.Context)
	EmitActivity(ctx context.Context)
}

// Simulator broadcasts fresh synthetic readings on a fixed cadence and
// an occasional activity entry on a slower one.
type Simulator struct {
	service  Ticker
	tick     time.Duration
	activity time.Duration
	logger   *log.Logger
}

type Option func(*Simulator)

// WithIntervals overrides the tick and activity cadences.
func WithIntervals(tick, activity time.Duration) Option {
	return func(s *Simulator) {
		if tick > 0 {
			s.tick = tick
		}
		if activity > 0 {
			s.activity = activity
		}
	}
}

func New(service Ticker, logger *log.Logger, opts ...Option) (*Simulator, error) {
	if service == nil {
		return nil, errors.New("sim: service is required")
	}
	if logger == nil {
		return nil, errors.New("sim: logger is required")
	}
	s := &Simulator{
		service:  service,
		tick:     DefaultTickInterval,
		activity: DefaultActivityInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run emits one tick immediately so sessions never stare at zeroes,
// then keeps ticking until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Printf("sim: generating readings every %s", s.tick)

	s.service.SimulateTick(ctx)
	metrics.IncIngestBatch("simulation", "success")

	tick := time.NewTicker(s.tick)
	defer tick.Stop()
	activity := time.NewTicker(s.activity)
	defer activity.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			s.service.SimulateTick(ctx)
			metrics.IncIngestBatch("simulation", "success")
		case <-activity.C:
			s.service.EmitActivity(ctx)
		}
	}
}

// Connected always reports true: the generator cannot lose its feed.
func (s *Simulator) Connected() bool { return true }
