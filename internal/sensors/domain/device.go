package sensors

import "fmt"

// DeviceStatus is the operational state of a registered device.
type DeviceStatus string

const (
	StatusOperational DeviceStatus = "operational"
	StatusWarning     DeviceStatus = "warning"
	StatusOffline     DeviceStatus = "offline"
	StatusMaintenance DeviceStatus = "maintenance"
)

// DeviceRecord is one physical device within a category. Identity is the
// ID; records are seeded once and only mutated afterwards.
type DeviceRecord struct {
	ID          string       `json:"id"`
	Status      DeviceStatus `json:"status"`
	LastReading float64      `json:"lastReading"`
}

// DeviceCategory groups same-kind devices with aggregate counts. Active
// is always derived from device status, never stored independently.
type DeviceCategory struct {
	Total   int            `json:"total"`
	Active  int            `json:"active"`
	Devices []DeviceRecord `json:"devices"`
}

// StatusReport is the full device state pushed to dashboard sessions and
// returned by the REST surface. Field names match what the dashboard
// renders.
type StatusReport struct {
	FlowRateDevices DeviceCategory `json:"flowRateDevices"`
	ORPDevices      DeviceCategory `json:"orpDevices"`
	PHDevices       DeviceCategory `json:"pHDevices"`
	PowerMeters     DeviceCategory `json:"powerMeters"`
}

// Category returns the report's category for the given kind.
func (r StatusReport) Category(kind SensorKind) DeviceCategory {
	switch kind {
	case KindFlowRate:
		return r.FlowRateDevices
	case KindORP:
		return r.ORPDevices
	case KindPH:
		return r.PHDevices
	case KindPower:
		return r.PowerMeters
	default:
		return DeviceCategory{}
	}
}

// Registry owns the device categories. It is not safe for concurrent use
// on its own; the owning service serializes access.
type Registry struct {
	categories map[SensorKind]*DeviceCategory
}

var seedIDs = map[SensorKind][]string{
	KindFlowRate: {"FR001", "FR002", "FR003"},
	KindORP:      {"ORP001", "ORP002", "ORP003", "ORP004", "ORP005", "ORP006"},
	KindPH:       {"PH001", "PH002", "PH003", "PH004", "PH005", "PH006"},
	KindPower:    {"PM001"},
}

// NewRegistry seeds the four device categories with the given initial
// status. The broker-fed variant seeds offline (devices come alive on
// first reading); the simulation variant seeds operational.
func NewRegistry(seed DeviceStatus) *Registry {
	r := &Registry{categories: make(map[SensorKind]*DeviceCategory, len(seedIDs))}
	for kind, ids := range seedIDs {
		cat := &DeviceCategory{Total: len(ids), Devices: make([]DeviceRecord, 0, len(ids))}
		for _, id := range ids {
			cat.Devices = append(cat.Devices, DeviceRecord{ID: id, Status: seed})
		}
		recountActive(cat)
		r.categories[kind] = cat
	}
	return r
}

// Category returns a copy of the category for the kind.
func (r *Registry) Category(kind SensorKind) DeviceCategory {
	cat, ok := r.categories[kind]
	if !ok {
		return DeviceCategory{}
	}
	return copyCategory(cat)
}

// Device returns a copy of a single device record.
func (r *Registry) Device(kind SensorKind, id string) (DeviceRecord, bool) {
	cat, ok := r.categories[kind]
	if !ok {
		return DeviceRecord{}, false
	}
	for _, d := range cat.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceRecord{}, false
}

// SetStatus updates one device's status and recounts the category.
func (r *Registry) SetStatus(kind SensorKind, id string, status DeviceStatus) error {
	cat, ok := r.categories[kind]
	if !ok {
		return fmt.Errorf("registry: unknown kind %q", kind)
	}
	for i := range cat.Devices {
		if cat.Devices[i].ID == id {
			cat.Devices[i].Status = status
			recountActive(cat)
			return nil
		}
	}
	return fmt.Errorf("registry: unknown device %q", id)
}

// SetReading updates one device's last reading.
func (r *Registry) SetReading(kind SensorKind, id string, value float64) error {
	cat, ok := r.categories[kind]
	if !ok {
		return fmt.Errorf("registry: unknown kind %q", kind)
	}
	for i := range cat.Devices {
		if cat.Devices[i].ID == id {
			cat.Devices[i].LastReading = value
			return nil
		}
	}
	return fmt.Errorf("registry: unknown device %q", id)
}

// ApplySpread writes base + index*step as each device's reading, marks
// every device in the category operational and recounts. The stepped
// offset reproduces the per-device variance the dashboard simulates from
// a single shared value.
func (r *Registry) ApplySpread(kind SensorKind, base, step float64) {
	cat, ok := r.categories[kind]
	if !ok {
		return
	}
	for i := range cat.Devices {
		cat.Devices[i].LastReading = base + float64(i)*step
		cat.Devices[i].Status = StatusOperational
	}
	recountActive(cat)
}

// ApplyReadings writes per-device values produced independently (the
// simulation variant draws a fresh value per device), marks all devices
// operational and recounts. Extra values are ignored; missing values
// leave the device reading untouched.
func (r *Registry) ApplyReadings(kind SensorKind, values []float64) {
	cat, ok := r.categories[kind]
	if !ok {
		return
	}
	for i := range cat.Devices {
		if i < len(values) {
			cat.Devices[i].LastReading = values[i]
		}
		cat.Devices[i].Status = StatusOperational
	}
	recountActive(cat)
}

// Report returns a deep copy of the full device state.
func (r *Registry) Report() StatusReport {
	return StatusReport{
		FlowRateDevices: r.Category(KindFlowRate),
		ORPDevices:      r.Category(KindORP),
		PHDevices:       r.Category(KindPH),
		PowerMeters:     r.Category(KindPower),
	}
}

func copyCategory(cat *DeviceCategory) DeviceCategory {
	out := DeviceCategory{Total: cat.Total, Active: cat.Active}
	out.Devices = append([]DeviceRecord(nil), cat.Devices...)
	return out
}

func recountActive(cat *DeviceCategory) {
	active := 0
	for _, d := range cat.Devices {
		if d.Status == StatusOperational {
			active++
		}
	}
	cat.Active = active
}
