package sensors

import (
	"math"
	"time"
)

// SensorKind identifies one of the four monitored sensor categories.
type SensorKind string

const (
	KindFlowRate SensorKind = "flow_rate"
	KindORP      SensorKind = "orp"
	KindPH       SensorKind = "ph"
	KindPower    SensorKind = "power"
)

// Kinds lists all sensor kinds in dashboard order.
func Kinds() []SensorKind {
	return []SensorKind{KindFlowRate, KindORP, KindPH, KindPower}
}

// Unit returns the display unit for the kind.
func (k SensorKind) Unit() string {
	switch k {
	case KindFlowRate:
		return "L/h"
	case KindORP:
		return "mV"
	case KindPH:
		return "pH"
	case KindPower:
		return "kW"
	}
	return ""
}

// Valid reports whether the kind is one of the four known categories.
func (k SensorKind) Valid() bool {
	switch k {
	case KindFlowRate, KindORP, KindPH, KindPower:
		return true
	}
	return false
}

// ParseKind maps API path segments to a SensorKind. Both the hyphenated
// dashboard form ("flow-rate") and the storage form ("flow_rate") are
// accepted.
func ParseKind(s string) (SensorKind, bool) {
	switch s {
	case "flow-rate", "flow_rate":
		return KindFlowRate, true
	case "orp":
		return KindORP, true
	case "ph":
		return KindPH, true
	case "power":
		return KindPower, true
	}
	return "", false
}

// Snapshot holds the latest known value for each sensor kind. One
// instance exists per process; it is overwritten in place on every
// update and carries no history.
type Snapshot struct {
	FlowRate         float64    `json:"flowRate"`
	ORPLevel         float64    `json:"orpLevel"`
	PHLevel          float64    `json:"pHLevel"`
	PowerConsumption float64    `json:"powerConsumption"`
	LastUpdate       *time.Time `json:"lastUpdate"`
}

// Value returns the snapshot value for the given kind.
func (s Snapshot) Value(kind SensorKind) float64 {
	switch kind {
	case KindFlowRate:
		return s.FlowRate
	case KindORP:
		return s.ORPLevel
	case KindPH:
		return s.PHLevel
	case KindPower:
		return s.PowerConsumption
	}
	return 0
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
