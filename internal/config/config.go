// Package config resolves runtime settings from an optional yaml file
// and the environment; environment values win.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Ingest modes.
const (
	ModeSimulation = "simulation"
	ModeMQTT       = "mqtt"
)

// Sink kinds.
const (
	SinkMemory    = "memory"
	SinkTimescale = "timescale"
)

// Config defines the dashboard service configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	IngestMode string `yaml:"ingest_mode"`
	Sink       string `yaml:"sink"`

	DatabaseURL string `yaml:"database_url"`

	MQTTBrokerURL string `yaml:"mqtt_broker_url"`
	MQTTTopic     string `yaml:"mqtt_topic"`

	BrokerEnabled bool   `yaml:"broker_enabled"`
	BrokerTCPAddr string `yaml:"broker_tcp_addr"`
	BrokerWSAddr  string `yaml:"broker_ws_addr"`

	JWTSecret string `yaml:"jwt_secret"`
}

// Load resolves configuration from the yaml file named by
// HYDROSENSE_CONFIG (if set) and then the environment.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:      ":3001",
		IngestMode:    ModeSimulation,
		Sink:          SinkMemory,
		MQTTTopic:     "sensors/combined",
		BrokerTCPAddr: ":1883",
		BrokerWSAddr:  ":8083",
	}

	if path := os.Getenv("HYDROSENSE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.IngestMode = getenvDefault("INGEST_MODE", cfg.IngestMode)
	cfg.Sink = getenvDefault("SINK", cfg.Sink)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.MQTTBrokerURL = getenvDefault("MQTT_BROKER_URL", cfg.MQTTBrokerURL)
	cfg.MQTTTopic = getenvDefault("MQTT_TOPIC", cfg.MQTTTopic)
	cfg.BrokerEnabled = getenvBoolDefault("BROKER_ENABLED", cfg.BrokerEnabled)
	cfg.BrokerTCPAddr = getenvDefault("BROKER_TCP_ADDR", cfg.BrokerTCPAddr)
	cfg.BrokerWSAddr = getenvDefault("BROKER_WS_ADDR", cfg.BrokerWSAddr)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.JWTSecret)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.IngestMode {
	case ModeSimulation, ModeMQTT:
	default:
		return fmt.Errorf("config: unknown ingest mode %q", c.IngestMode)
	}
	switch c.Sink {
	case SinkMemory:
	case SinkTimescale:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: sink %q requires DATABASE_URL", c.Sink)
		}
	default:
		return fmt.Errorf("config: unknown sink %q", c.Sink)
	}
	if c.IngestMode == ModeMQTT && c.MQTTBrokerURL == "" && !c.BrokerEnabled {
		return fmt.Errorf("config: ingest mode %q requires MQTT_BROKER_URL or BROKER_ENABLED", c.IngestMode)
	}
	return nil
}

// BridgeBrokerURL resolves the broker the ingest bridge dials: an
// explicit upstream when given, otherwise the embedded listener.
func (c Config) BridgeBrokerURL() string {
	if c.MQTTBrokerURL != "" {
		return c.MQTTBrokerURL
	}
	return "tcp://localhost" + c.BrokerTCPAddr
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
