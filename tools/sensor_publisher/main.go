// sensor_publisher publishes combined sensor batches to an MQTT
// broker on a fixed interval, mimicking a plant gateway.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type config struct {
	brokerURL string
	topic     string
	interval  time.Duration
	count     int
}

type reading struct {
	Value    *float64 `json:"value,omitempty"`
	Power    *float64 `json:"power,omitempty"`
	Unit     string   `json:"unit"`
	Location string   `json:"location,omitempty"`
	Quality  string   `json:"quality,omitempty"`
}

type batch struct {
	Batch     int64              `json:"batch"`
	Timestamp string             `json:"timestamp"`
	Devices   map[string]reading `json:"devices"`
}

func main() {
	cfg := parseConfig()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.brokerURL).
		SetClientID("sensor-publisher").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("connect %s: %v", cfg.brokerURL, token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("publishing to %s on %s every %s", cfg.topic, cfg.brokerURL, cfg.interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-sig:
			return
		case <-ticker.C:
			n++
			payload, err := json.Marshal(makeBatch(n))
			if err != nil {
				log.Fatalf("marshal batch: %v", err)
			}
			token := client.Publish(cfg.topic, 1, false, payload)
			token.Wait()
			if token.Error() != nil {
				log.Printf("publish batch %d: %v", n, token.Error())
			} else {
				log.Printf("published batch %d", n)
			}
			if cfg.count > 0 && n >= int64(cfg.count) {
				return
			}
		}
	}
}

func makeBatch(n int64) batch {
	now := time.Now().UTC()
	return batch{
		Batch:     n,
		Timestamp: now.Format(time.RFC3339),
		Devices: map[string]reading{
			"power_meter_01": {Power: f(round2(2500 + rand.Float64()*1000)), Unit: "W", Location: "main-panel", Quality: "good"},
			"flow_rate_01":   {Value: f(round2(1.9 + rand.Float64()*0.4)), Unit: "L/min", Location: "intake", Quality: "good"},
			"ORP_01":         {Value: f(round1(430 + rand.Float64()*40)), Unit: "mV", Location: "basin-1", Quality: "good"},
			"ORP_02":         {Value: f(round1(430 + rand.Float64()*40)), Unit: "mV", Location: "basin-2", Quality: "good"},
			"pH_01":          {Value: f(round2(7.0 + rand.Float64()*0.6)), Unit: "pH", Location: "basin-1", Quality: "good"},
			"pH_02":          {Value: f(round2(7.0 + rand.Float64()*0.6)), Unit: "pH", Location: "basin-2", Quality: "good"},
		},
	}
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.brokerURL, "broker", "tcp://localhost:1883", "broker url")
	flag.StringVar(&cfg.topic, "topic", "sensors/combined", "publish topic")
	flag.DurationVar(&cfg.interval, "interval", 2*time.Second, "publish interval")
	flag.IntVar(&cfg.count, "count", 0, "stop after this many batches (0 = run forever)")
	flag.Parse()
	return cfg
}

func f(v float64) *float64 { return &v }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
