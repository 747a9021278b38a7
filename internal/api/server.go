// Package api serves the dashboard's REST surface, the websocket
// endpoint and the metrics handler.
package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hydrosense-cloud/internal/auth"
	"hydrosense-cloud/internal/broker"
	"hydrosense-cloud/internal/realtime"
	"hydrosense-cloud/internal/sensors/application"
	"hydrosense-cloud/internal/storage"
)

// Publisher pushes a payload onto the MQTT feed.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
}

// FeedStatus reports whether the upstream sensor feed is live.
type FeedStatus interface {
	Connected() bool
}

// Server bundles the dependencies the HTTP surface needs.
type Server struct {
	service   *application.Service
	sink      storage.Sink
	hub       *realtime.Hub
	feed      FeedStatus
	publisher Publisher
	broker    *broker.Broker
	authMW    *auth.Middleware
	logger    *log.Logger

	started time.Time
	now     func() time.Time
}

type Option func(*Server)

// WithPublisher enables the manual publish endpoint.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithBroker enables the embedded broker endpoints.
func WithBroker(b *broker.Broker) Option {
	return func(s *Server) { s.broker = b }
}

// WithAuth enables JWT enforcement on the routes the policy covers.
func WithAuth(mw *auth.Middleware) Option {
	return func(s *Server) { s.authMW = mw }
}

// WithClock overrides the response timestamp clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.now = clock }
}

func NewServer(service *application.Service, sink storage.Sink, hub *realtime.Hub, feed FeedStatus, logger *log.Logger, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, errors.New("api: service is required")
	}
	if sink == nil {
		return nil, errors.New("api: sink is required")
	}
	if hub == nil {
		return nil, errors.New("api: hub is required")
	}
	if logger == nil {
		return nil, errors.New("api: logger is required")
	}
	s := &Server{
		service: service,
		sink:    sink,
		hub:     hub,
		feed:    feed,
		logger:  logger,
		started: time.Now().UTC(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.authMW != nil {
		r.Use(s.authMW.Wrap)
	}

	r.Get("/", s.handleBanner)
	r.Get("/ws", s.hub.ServeWS)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{category}", s.handleDeviceCategory)
		r.Get("/history/{deviceType}", s.handleHistory)
		r.Get("/history/{deviceType}/export.{format}", s.handleHistoryExport)
		r.Get("/analytics/{deviceType}", s.handleAnalytics)

		r.Post("/mqtt/publish", s.handlePublish)
		r.Get("/mqtt/stats", s.handleBrokerStats)
		r.Get("/mqtt/clients", s.handleBrokerClients)
	})

	return r
}
