package eventing

import (
	"encoding/json"
	"time"

	sensors "hydrosense-cloud/internal/sensors/domain"
)

// SnapshotUpdated carries the full current snapshot after a batch was
// applied or a simulation tick ran.
type SnapshotUpdated struct {
	Snapshot sensors.Snapshot
}

// StatusUpdated carries the full device category state.
type StatusUpdated struct {
	Report sensors.StatusReport
}

// ActivityLogged carries one ephemeral dashboard log entry.
type ActivityLogged struct {
	Entry sensors.ActivityEntry
}

// MessageRelayed carries a raw broker message relayed to sessions.
type MessageRelayed struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"timestamp"`
}
