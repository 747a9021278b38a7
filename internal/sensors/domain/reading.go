package sensors

import "time"

// Reading is one stored sensor observation. Rows are append-only;
// duplicates are accepted.
type Reading struct {
	DeviceID   string     `json:"device_id"`
	DeviceType SensorKind `json:"device_type"`
	Location   string     `json:"location,omitempty"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	Quality    string     `json:"quality,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// HourlyStat is one aggregation bucket over stored readings.
type HourlyStat struct {
	Hour         time.Time  `json:"hour"`
	DeviceType   SensorKind `json:"device_type"`
	AvgValue     float64    `json:"avg_value"`
	MinValue     float64    `json:"min_value"`
	MaxValue     float64    `json:"max_value"`
	ReadingCount int        `json:"reading_count"`
}

// TypeSummary describes stored activity per device type.
type TypeSummary struct {
	DeviceType   SensorKind `json:"device_type"`
	DeviceCount  int        `json:"device_count"`
	ReadingCount int        `json:"reading_count"`
	LastSeen     time.Time  `json:"last_seen"`
}

// ActivityEntry is an ephemeral dashboard log line. Entries are
// broadcast to sessions but never persisted.
type ActivityEntry struct {
	Type      string    `json:"type"`
	Device    string    `json:"device"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}
