// Package ingest defines how sensor batches reach the dashboard
// service: either relayed from an MQTT broker or generated locally.
package ingest

import "context"

// Source feeds the dashboard service until its context is cancelled.
type Source interface {
	// Run blocks until ctx is done or the source fails permanently.
	Run(ctx context.Context) error
	// Connected reports whether the upstream feed is currently live.
	Connected() bool
}
