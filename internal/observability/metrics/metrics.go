package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "hydrosense_"

	resultSuccess = "success"
)

var (
	registerOnce sync.Once

	ingestBatches *prometheus.CounterVec
	ingestErrors  *prometheus.CounterVec

	broadcastFrames *prometheus.CounterVec
	liveSessions    prometheus.Gauge

	sinkInserts       *prometheus.CounterVec
	sinkInsertLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	brokerConnected prometheus.Gauge
	brokerMessages  prometheus.Counter
)

// Init registers the dashboard metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_batches_total",
				Help: "Total ingested sensor batches by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)

		broadcastFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_frames_total",
				Help: "Total frames broadcast to dashboard sessions by event",
			},
			[]string{"event"},
		)
		liveSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_sessions",
				Help: "Currently connected dashboard sessions",
			},
		)

		sinkInserts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_inserts_total",
				Help: "Total sink insert operations by result",
			},
			[]string{"result"},
		)
		sinkInsertLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sink_insert_latency_seconds",
				Help:    "Sink insert latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_export_total",
				Help: "Total history export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_export_latency_seconds",
				Help:    "History export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		brokerConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "broker_connected",
				Help: "Whether the upstream MQTT feed is connected (1 or 0)",
			},
		)
		brokerMessages = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "broker_messages_total",
				Help: "Total MQTT messages received on subscribed topics",
			},
		)

		prometheus.MustRegister(
			ingestBatches,
			ingestErrors,
			broadcastFrames,
			liveSessions,
			sinkInserts,
			sinkInsertLatency,
			exportTotal,
			exportLatency,
			brokerConnected,
			brokerMessages,
		)
	})
}

// IncIngestBatch increments the ingested batch counter.
func IncIngestBatch(source, result string) {
	if result == "" {
		result = resultSuccess
	}
	if ingestBatches != nil {
		ingestBatches.WithLabelValues(source, result).Inc()
	}
}

// IncIngestError increments the ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncBroadcast increments the per-event broadcast counter.
func IncBroadcast(event string) {
	if broadcastFrames != nil {
		broadcastFrames.WithLabelValues(event).Inc()
	}
}

// SetLiveSessions sets the live session gauge.
func SetLiveSessions(n int) {
	if liveSessions != nil {
		liveSessions.Set(float64(n))
	}
}

// ObserveSinkInsert records one sink insert with its duration.
func ObserveSinkInsert(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if sinkInserts != nil {
		sinkInserts.WithLabelValues(result).Inc()
	}
	if sinkInsertLatency != nil {
		sinkInsertLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records one history export with its duration.
func ObserveExport(format, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// SetBrokerConnected flags the upstream MQTT connection state.
func SetBrokerConnected(connected bool) {
	if brokerConnected == nil {
		return
	}
	if connected {
		brokerConnected.Set(1)
	} else {
		brokerConnected.Set(0)
	}
}

// IncBrokerMessage counts one received MQTT message.
func IncBrokerMessage() {
	if brokerMessages != nil {
		brokerMessages.Inc()
	}
}
