// Package broker embeds an MQTT broker so the whole pipeline can run
// from a single process: publishers connect here, the ingest bridge
// subscribes here.
package broker

import (
	"errors"
	"log"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Stats is a point-in-time view of broker activity.
type Stats struct {
	Started           time.Time        `json:"started"`
	ClientsConnected  int              `json:"clientsConnected"`
	ClientsTotal      int              `json:"clientsTotal"`
	MessagesReceived  int64            `json:"messagesReceived"`
	MessagesSent      int64            `json:"messagesSent"`
	Subscriptions     int              `json:"subscriptions"`
	PacketsReceived   int64            `json:"packetsReceived"`
	PacketsSent       int64            `json:"packetsSent"`
	BytesReceived     int64            `json:"bytesReceived"`
	BytesSent         int64            `json:"bytesSent"`
	Retained          int              `json:"retained"`
	Inflight          int              `json:"inflight"`
	MaximumClients    int              `json:"maximumClients"`
	MessagesByClients map[string]int64 `json:"messagesByClients"`
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	ID              string   `json:"id"`
	Remote          string   `json:"remote"`
	Listener        string   `json:"listener"`
	ProtocolVersion byte     `json:"protocolVersion"`
	CleanSession    bool     `json:"cleanSession"`
	Subscriptions   []string `json:"subscriptions"`
	Messages        int64    `json:"messages"`
}

// Broker wraps the embedded server with the listeners and hooks the
// dashboard needs.
type Broker struct {
	server  *mqtt.Server
	tcpAddr string
	wsAddr  string
	logger  *log.Logger
	started time.Time
	done    chan struct{}

	hook *activityHook
}

func New(tcpAddr, wsAddr string, logger *log.Logger) (*Broker, error) {
	if tcpAddr == "" {
		return nil, errors.New("broker: tcp address is required")
	}
	if logger == nil {
		return nil, errors.New("broker: logger is required")
	}

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	hook := &activityHook{logger: logger, messages: make(map[string]int64)}
	if err := server.AddHook(hook, nil); err != nil {
		return nil, err
	}

	return &Broker{
		server:  server,
		tcpAddr: tcpAddr,
		wsAddr:  wsAddr,
		logger:  logger,
		done:    make(chan struct{}),
		hook:    hook,
	}, nil
}

// Start attaches the listeners and serves in the background.
func (b *Broker) Start() error {
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: b.tcpAddr})
	if err := b.server.AddListener(tcp); err != nil {
		return err
	}
	if b.wsAddr != "" {
		ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: b.wsAddr})
		if err := b.server.AddListener(ws); err != nil {
			return err
		}
	}
	b.started = time.Now().UTC()
	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.Printf("broker: serve: %v", err)
		}
	}()
	go b.statsLoop()
	b.logger.Printf("broker: listening on %s (tcp) %s (ws)", b.tcpAddr, b.wsAddr)
	return nil
}

func (b *Broker) statsLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			stats := b.Stats()
			b.logger.Printf("broker: clients=%d messages_received=%d subscriptions=%d",
				stats.ClientsConnected, stats.MessagesReceived, stats.Subscriptions)
		}
	}
}

// Close shuts the broker down.
func (b *Broker) Close() error {
	close(b.done)
	return b.server.Close()
}

// Publish injects a message through the inline client.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// Stats snapshots broker counters.
func (b *Broker) Stats() Stats {
	info := b.server.Info.Clone()
	return Stats{
		Started:           b.started,
		ClientsConnected:  int(info.ClientsConnected),
		ClientsTotal:      int(info.ClientsTotal),
		MessagesReceived:  info.MessagesReceived,
		MessagesSent:      info.MessagesSent,
		Subscriptions:     int(info.Subscriptions),
		PacketsReceived:   info.PacketsReceived,
		PacketsSent:       info.PacketsSent,
		BytesReceived:     info.BytesReceived,
		BytesSent:         info.BytesSent,
		Retained:          int(info.Retained),
		Inflight:          int(info.Inflight),
		MaximumClients:    int(info.ClientsMaximum),
		MessagesByClients: b.hook.snapshot(),
	}
}

// Clients lists the currently connected clients.
func (b *Broker) Clients() []ClientInfo {
	all := b.server.Clients.GetAll()
	counts := b.hook.snapshot()
	out := make([]ClientInfo, 0, len(all))
	for id, cl := range all {
		if cl.Closed() {
			continue
		}
		subs := make([]string, 0, 4)
		for topic := range cl.State.Subscriptions.GetAll() {
			subs = append(subs, topic)
		}
		out = append(out, ClientInfo{
			ID:              id,
			Remote:          cl.Net.Remote,
			Listener:        cl.Net.Listener,
			ProtocolVersion: cl.Properties.ProtocolVersion,
			CleanSession:    cl.Properties.Clean,
			Subscriptions:   subs,
			Messages:        counts[id],
		})
	}
	return out
}

// activityHook logs client lifecycle and keeps per-client message
// counts for the broker endpoints.
type activityHook struct {
	mqtt.HookBase
	logger *log.Logger

	mu       sync.Mutex
	messages map[string]int64
}

func (h *activityHook) ID() string { return "activity" }

func (h *activityHook) Provides(b byte) bool {
	switch b {
	case mqtt.OnConnect, mqtt.OnDisconnect, mqtt.OnSubscribed, mqtt.OnPublished:
		return true
	default:
		return false
	}
}

func (h *activityHook) OnConnect(cl *mqtt.Client, _ packets.Packet) error {
	h.logger.Printf("broker: client connected: %s (%s)", cl.ID, cl.Net.Remote)
	return nil
}

func (h *activityHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	if err != nil {
		h.logger.Printf("broker: client disconnected: %s: %v", cl.ID, err)
		return
	}
	h.logger.Printf("broker: client disconnected: %s", cl.ID)
}

func (h *activityHook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	for _, sub := range pk.Filters {
		h.logger.Printf("broker: client %s subscribed to %s", cl.ID, sub.Filter)
	}
}

func (h *activityHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.mu.Lock()
	h.messages[cl.ID]++
	h.mu.Unlock()
}

func (h *activityHook) snapshot() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.messages))
	for id, n := range h.messages {
		out[id] = n
	}
	return out
}
