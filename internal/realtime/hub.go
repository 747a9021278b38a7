package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"

	"hydrosense-cloud/internal/eventing"
	"hydrosense-cloud/internal/observability/metrics"
	sensors "hydrosense-cloud/internal/sensors/domain"
)

// Event names understood by dashboard sessions.
const (
	EventConnected    = "connected"
	EventDeviceData   = "deviceData"
	EventDeviceStatus = "deviceStatus"
	EventActivityLog  = "activityLog"
	EventSensorData   = "mqttSensorData"
)

// Event is the envelope every session frame is wrapped in.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StateFunc returns the current snapshot and device report so a newly
// registered session can be primed before it sees any broadcast.
type StateFunc func() (sensors.Snapshot, sensors.StatusReport)

// Hub owns the set of live sessions. All membership changes and
// broadcasts flow through the single Run loop, so no session ever
// observes a partial state.
type Hub struct {
	sessions   map[*Session]struct{}
	register   chan *Session
	unregister chan *Session
	broadcast  chan []byte

	state    StateFunc
	logger   *log.Logger
	liveSess atomic.Int64
}

func NewHub(state StateFunc, logger *log.Logger) (*Hub, error) {
	if state == nil {
		return nil, errors.New("realtime: state func is required")
	}
	if logger == nil {
		return nil, errors.New("realtime: logger is required")
	}
	return &Hub{
		sessions:   make(map[*Session]struct{}),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan []byte, 64),
		state:      state,
		logger:     logger,
	}, nil
}

// Run processes registrations, removals and broadcasts until the
// context is cancelled. It must run in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for s := range h.sessions {
				close(s.send)
				delete(h.sessions, s)
			}
			h.setLive(0)
			return

		case s := <-h.register:
			h.sessions[s] = struct{}{}
			h.setLive(len(h.sessions))
			h.logger.Printf("realtime: session connected: %s (%d live)", s.remoteAddr, len(h.sessions))
			h.prime(s)

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
				h.setLive(len(h.sessions))
				h.logger.Printf("realtime: session disconnected: %s (%d live)", s.remoteAddr, len(h.sessions))
			}

		case frame := <-h.broadcast:
			for s := range h.sessions {
				select {
				case s.send <- frame:
				default:
					// Slow consumer; drop it rather than stall the loop.
					h.logger.Printf("realtime: session %s send buffer full, dropping", s.remoteAddr)
					delete(h.sessions, s)
					close(s.send)
					h.setLive(len(h.sessions))
				}
			}
		}
	}
}

// prime sends the greeting and the full current state to a session
// that just joined, ahead of any broadcast it will receive.
func (h *Hub) prime(s *Session) {
	snapshot, report := h.state()
	greeting := map[string]string{"message": "Connected to water treatment monitoring system"}
	for _, frame := range [][]byte{
		h.encode(EventConnected, greeting),
		h.encode(EventDeviceData, snapshot),
		h.encode(EventDeviceStatus, report),
	} {
		if frame == nil {
			continue
		}
		select {
		case s.send <- frame:
		default:
			return
		}
	}
}

// Broadcast fans an event out to every live session. Sessions that
// cannot keep up are disconnected by the Run loop.
func (h *Hub) Broadcast(event string, data any) {
	frame := h.encode(event, data)
	if frame == nil {
		return
	}
	metrics.IncBroadcast(event)
	h.broadcast <- frame
}

func (h *Hub) encode(event string, data any) []byte {
	frame, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		h.logger.Printf("realtime: encode %s: %v", event, err)
		return nil
	}
	return frame
}

func (h *Hub) setLive(n int) {
	h.liveSess.Store(int64(n))
	metrics.SetLiveSessions(n)
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	return int(h.liveSess.Load())
}

// Wire subscribes the hub to the events the dashboard service and the
// ingest sources publish, translating each into its session frame.
func (h *Hub) Wire(bus eventing.Bus) {
	bus.Subscribe(eventing.TypeFor[eventing.SnapshotUpdated](), func(_ context.Context, event any) error {
		h.Broadcast(EventDeviceData, event.(eventing.SnapshotUpdated).Snapshot)
		return nil
	})
	bus.Subscribe(eventing.TypeFor[eventing.StatusUpdated](), func(_ context.Context, event any) error {
		h.Broadcast(EventDeviceStatus, event.(eventing.StatusUpdated).Report)
		return nil
	})
	bus.Subscribe(eventing.TypeFor[eventing.ActivityLogged](), func(_ context.Context, event any) error {
		h.Broadcast(EventActivityLog, event.(eventing.ActivityLogged).Entry)
		return nil
	})
	bus.Subscribe(eventing.TypeFor[eventing.MessageRelayed](), func(_ context.Context, event any) error {
		h.Broadcast(EventSensorData, event.(eventing.MessageRelayed))
		return nil
	})
}
