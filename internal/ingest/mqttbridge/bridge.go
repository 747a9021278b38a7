// Package mqttbridge relays combined sensor batches from an MQTT
// broker into the dashboard service.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"hydrosense-cloud/internal/eventing"
	"hydrosense-cloud/internal/observability/metrics"
	"hydrosense-cloud/internal/sensors/application"
)

const (
	// DefaultTopic is the combined-batch topic the publisher uses.
	DefaultTopic = "sensors/combined"

	subscribeQoS   = 1
	connectTimeout = 10 * time.Second
	disconnectWait = 250 // milliseconds, passed to paho
)

// Batches are applied through this subset of the dashboard service.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, batch application.CombinedBatch) error
}

// Bridge subscribes to the combined sensor topic and feeds every valid
// batch into the dashboard service, relaying the raw payload to
// sessions as well.
type Bridge struct {
	brokerURL string
	topic     string
	service   BatchApplier
	bus       eventing.Bus
	logger    *log.Logger

	client mqtt.Client
	now    func() time.Time
}

type Option func(*Bridge)

// WithClock overrides the relay timestamp clock.
func WithClock(clock func() time.Time) Option {
	return func(b *Bridge) { b.now = clock }
}

func New(brokerURL, topic string, service BatchApplier, bus eventing.Bus, logger *log.Logger, opts ...Option) (*Bridge, error) {
	if brokerURL == "" {
		return nil, errors.New("mqttbridge: broker url is required")
	}
	if service == nil {
		return nil, errors.New("mqttbridge: service is required")
	}
	if bus == nil {
		return nil, errors.New("mqttbridge: bus is required")
	}
	if logger == nil {
		return nil, errors.New("mqttbridge: logger is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	b := &Bridge{
		brokerURL: brokerURL,
		topic:     topic,
		service:   service,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Run connects, subscribes and blocks until the context is done. The
// paho client keeps reconnecting and resubscribing on its own.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.brokerURL).
		SetClientID(fmt.Sprintf("hydrosense-bridge-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.logger.Printf("mqttbridge: connected to %s", b.brokerURL)
		metrics.SetBrokerConnected(true)
		if token := c.Subscribe(b.topic, subscribeQoS, b.handleMessage); token.Wait() && token.Error() != nil {
			b.logger.Printf("mqttbridge: subscribe %s: %v", b.topic, token.Error())
		} else {
			b.logger.Printf("mqttbridge: subscribed to %s", b.topic)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		metrics.SetBrokerConnected(false)
		b.logger.Printf("mqttbridge: connection lost: %v", err)
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.logger.Printf("mqttbridge: connect to %s still pending, retrying in background", b.brokerURL)
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect %s: %w", b.brokerURL, err)
	}

	<-ctx.Done()
	b.client.Disconnect(disconnectWait)
	metrics.SetBrokerConnected(false)
	return ctx.Err()
}

// Connected reports whether the broker link is currently up.
func (b *Bridge) Connected() bool {
	return b.client != nil && b.client.IsConnectionOpen()
}

// Publish sends a payload to an arbitrary topic on the upstream
// broker. Used by the manual publish endpoint.
func (b *Bridge) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if b.client == nil || !b.client.IsConnectionOpen() {
		return errors.New("mqttbridge: not connected")
	}
	token := b.client.Publish(topic, qos, retain, payload)
	token.Wait()
	return token.Error()
}

// handleMessage is the subscription callback. Messages on unexpected
// topics are ignored and malformed payloads are dropped; either way
// the feed keeps running.
func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	metrics.IncBrokerMessage()
	if msg.Topic() != b.topic {
		b.logger.Printf("mqttbridge: ignoring message on unexpected topic %q", msg.Topic())
		return
	}

	var batch application.CombinedBatch
	if err := json.Unmarshal(msg.Payload(), &batch); err != nil {
		metrics.IncIngestError("malformed")
		b.logger.Printf("mqttbridge: malformed payload on %s: %v", msg.Topic(), err)
		return
	}

	ctx := context.Background()
	if err := b.service.ApplyBatch(ctx, batch); err != nil {
		metrics.IncIngestBatch("mqtt", "error")
		b.logger.Printf("mqttbridge: apply batch %d: %v", batch.Batch, err)
		return
	}
	metrics.IncIngestBatch("mqtt", "success")

	relay := eventing.MessageRelayed{
		Topic:   msg.Topic(),
		Payload: append(json.RawMessage(nil), msg.Payload()...),
		At:      b.now().UTC(),
	}
	if err := b.bus.Publish(ctx, relay); err != nil {
		b.logger.Printf("mqttbridge: relay publish: %v", err)
	}
}
