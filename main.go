package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hydrosense-cloud/internal/api"
	"hydrosense-cloud/internal/auth"
	"hydrosense-cloud/internal/broker"
	"hydrosense-cloud/internal/config"
	"hydrosense-cloud/internal/eventing"
	"hydrosense-cloud/internal/ingest"
	"hydrosense-cloud/internal/ingest/mqttbridge"
	"hydrosense-cloud/internal/ingest/sim"
	"hydrosense-cloud/internal/observability/metrics"
	"hydrosense-cloud/internal/realtime"
	"hydrosense-cloud/internal/sensors/application"
	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/storage"
	"hydrosense-cloud/internal/storage/memory"
	"hydrosense-cloud/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink storage.Sink
	switch cfg.Sink {
	case config.SinkTimescale:
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		sink = postgres.NewStore(db)
		logger.Printf("storage: timescale sink")
	default:
		sink = memory.NewStore()
		logger.Printf("storage: in-memory sink")
	}

	bus := eventing.NewInMemoryBus()

	// The broker-fed variant seeds devices offline; they come alive on
	// their first reading. The simulator starts everything operational.
	seed := sensors.StatusOffline
	if cfg.IngestMode == config.ModeSimulation {
		seed = sensors.StatusOperational
	}
	service, err := application.NewService(sink, bus, seed, logger)
	if err != nil {
		logger.Fatalf("dashboard service error: %v", err)
	}

	hub, err := realtime.NewHub(func() (sensors.Snapshot, sensors.StatusReport) {
		return service.Snapshot(), service.Report()
	}, logger)
	if err != nil {
		logger.Fatalf("realtime hub error: %v", err)
	}
	hub.Wire(bus)
	go hub.Run(ctx)

	var embedded *broker.Broker
	if cfg.BrokerEnabled {
		embedded, err = broker.New(cfg.BrokerTCPAddr, cfg.BrokerWSAddr, logger)
		if err != nil {
			logger.Fatalf("broker error: %v", err)
		}
		if err := embedded.Start(); err != nil {
			logger.Fatalf("broker start error: %v", err)
		}
		defer embedded.Close()
	}

	var (
		source    ingest.Source
		publisher api.Publisher
	)
	switch cfg.IngestMode {
	case config.ModeMQTT:
		bridge, err := mqttbridge.New(cfg.BridgeBrokerURL(), cfg.MQTTTopic, service, bus, logger)
		if err != nil {
			logger.Fatalf("mqtt bridge error: %v", err)
		}
		source = bridge
		publisher = bridge
		logger.Printf("ingest: mqtt feed from %s topic %s", cfg.BridgeBrokerURL(), cfg.MQTTTopic)
	default:
		simulator, err := sim.New(service, logger)
		if err != nil {
			logger.Fatalf("simulator error: %v", err)
		}
		source = simulator
		logger.Printf("ingest: local simulation")
	}

	go func() {
		if err := source.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("ingest stopped: %v", err)
		}
	}()

	serverOpts := []api.Option{}
	if publisher != nil {
		serverOpts = append(serverOpts, api.WithPublisher(publisher))
	}
	if embedded != nil {
		serverOpts = append(serverOpts, api.WithBroker(embedded))
	}
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/", "/ws", "/metrics", "/api/health"}, nil)
		serverOpts = append(serverOpts, api.WithAuth(auth.NewMiddleware([]byte(cfg.JWTSecret), policy)))
	} else if publisher != nil {
		logger.Printf("AUTH_JWT_SECRET not set, publish endpoint is unprotected")
	}
	server, err := api.NewServer(service, sink, hub, source, logger, serverOpts...)
	if err != nil {
		logger.Fatalf("api server error: %v", err)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}
