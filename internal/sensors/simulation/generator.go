// Package simulation fabricates plausible sensor values for the
// demo data source. Each call is an independent draw; there is no
// cross-call correlation and no seeding contract.
package simulation

import (
	"math"
	"math/rand"

	sensors "hydrosense-cloud/internal/sensors/domain"
)

// FlowRate returns a flow reading in L/h, one decimal place.
// Base 127.5 with ±5 variation and ±1 noise.
func FlowRate() float64 {
	base := 127.5
	variation := (rand.Float64() - 0.5) * 10
	noise := (rand.Float64() - 0.5) * 2
	return sensors.Round1(base + variation + noise)
}

// ORPLevel returns an ORP reading in mV, floored to an integer.
// Base 450 with ±40 variation and ±10 noise.
func ORPLevel() float64 {
	base := 450.0
	variation := (rand.Float64() - 0.5) * 80
	noise := (rand.Float64() - 0.5) * 20
	return math.Floor(base + variation + noise)
}

// PHLevel returns a pH reading, one decimal place.
// Base 7.3 with ±0.4 variation and ±0.1 noise.
func PHLevel() float64 {
	base := 7.3
	variation := (rand.Float64() - 0.5) * 0.8
	noise := (rand.Float64() - 0.5) * 0.2
	return sensors.Round1(base + variation + noise)
}

// PowerConsumption returns a power reading in kW, one decimal place.
// Base 2.75 with ±0.5 variation and ±0.15 noise.
func PowerConsumption() float64 {
	base := 2.75
	variation := (rand.Float64() - 0.5) * 1.0
	noise := (rand.Float64() - 0.5) * 0.3
	return sensors.Round1(base + variation + noise)
}

// Value returns a fresh draw for the given kind.
func Value(kind sensors.SensorKind) float64 {
	switch kind {
	case sensors.KindFlowRate:
		return FlowRate()
	case sensors.KindORP:
		return ORPLevel()
	case sensors.KindPH:
		return PHLevel()
	case sensors.KindPower:
		return PowerConsumption()
	}
	return 0
}
