package mqttbridge

import (
	"context"
	"log"
	"testing"

	"hydrosense-cloud/internal/eventing"
	"hydrosense-cloud/internal/sensors/application"
)

type stubApplier struct {
	batches []application.CombinedBatch
	err     error
}

func (s *stubApplier) ApplyBatch(_ context.Context, batch application.CombinedBatch) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

type stubBus struct {
	events []any
}

func (b *stubBus) Publish(_ context.Context, event any) error {
	b.events = append(b.events, event)
	return nil
}

func (b *stubBus) Subscribe(string, eventing.Handler) {}

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func discardLogger() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestBridge(t *testing.T, svc *stubApplier, bus *stubBus) *Bridge {
	t.Helper()
	b, err := New("tcp://localhost:1883", "", svc, bus, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleMessageAppliesBatch(t *testing.T) {
	svc := &stubApplier{}
	bus := &stubBus{}
	b := newTestBridge(t, svc, bus)

	payload := []byte(`{
		"batch": 42,
		"timestamp": "2026-03-01T10:30:00Z",
		"devices": {
			"power_meter_01": {"power": 2750},
			"flow_rate_01": {"value": 2.0}
		}
	}`)
	b.handleMessage(nil, stubMessage{topic: DefaultTopic, payload: payload})

	if len(svc.batches) != 1 {
		t.Fatalf("applied %d batches, want 1", len(svc.batches))
	}
	batch := svc.batches[0]
	if batch.Batch != 42 {
		t.Fatalf("batch number = %d, want 42", batch.Batch)
	}
	if d := batch.Devices["power_meter_01"]; d.Power == nil || *d.Power != 2750 {
		t.Fatalf("power sub-device not decoded: %+v", d)
	}

	if len(bus.events) != 1 {
		t.Fatalf("published %d events, want 1 relay", len(bus.events))
	}
	relay, ok := bus.events[0].(eventing.MessageRelayed)
	if !ok {
		t.Fatalf("event type %T, want MessageRelayed", bus.events[0])
	}
	if relay.Topic != DefaultTopic {
		t.Fatalf("relay topic = %q", relay.Topic)
	}
	if string(relay.Payload) != string(payload) {
		t.Fatal("relay payload does not match the raw message")
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	svc := &stubApplier{}
	bus := &stubBus{}
	b := newTestBridge(t, svc, bus)

	b.handleMessage(nil, stubMessage{topic: DefaultTopic, payload: []byte(`{"devices": [`)})

	if len(svc.batches) != 0 {
		t.Fatalf("malformed payload applied %d batches", len(svc.batches))
	}
	if len(bus.events) != 0 {
		t.Fatalf("malformed payload relayed %d events", len(bus.events))
	}
}

func TestHandleMessageIgnoresOtherTopics(t *testing.T) {
	svc := &stubApplier{}
	bus := &stubBus{}
	b := newTestBridge(t, svc, bus)

	b.handleMessage(nil, stubMessage{topic: "sensors/other", payload: []byte(`{"devices":{}}`)})

	if len(svc.batches) != 0 || len(bus.events) != 0 {
		t.Fatal("off-topic message was processed")
	}
}

func TestHandleMessageNoRelayOnApplyError(t *testing.T) {
	svc := &stubApplier{err: application.ErrEmptyBatch}
	bus := &stubBus{}
	b := newTestBridge(t, svc, bus)

	b.handleMessage(nil, stubMessage{topic: DefaultTopic, payload: []byte(`{"devices":{}}`)})

	if len(bus.events) != 0 {
		t.Fatalf("rejected batch still relayed %d events", len(bus.events))
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", DefaultTopic, &stubApplier{}, &stubBus{}, discardLogger()); err == nil {
		t.Fatal("missing broker url accepted")
	}
	if _, err := New("tcp://localhost:1883", DefaultTopic, nil, &stubBus{}, discardLogger()); err == nil {
		t.Fatal("nil service accepted")
	}
	b, err := New("tcp://localhost:1883", "", &stubApplier{}, &stubBus{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if b.topic != DefaultTopic {
		t.Fatalf("topic = %q, want default %q", b.topic, DefaultTopic)
	}
	if b.Connected() {
		t.Fatal("unconnected bridge reports connected")
	}
}
