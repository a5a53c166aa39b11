package core

import (
	"context"

	"github.com/dkeye/StatsRelay/internal/domain"
)

// Record is one conference's raw state as decoded from the bridge:
// nil, bool, json.Number, string, []any and map[string]any values.
type Record = map[string]any

// Snapshot is the full state of all conferences returned by one poll.
type Snapshot map[domain.ConferenceID]Record

// SnapshotSource fetches the current full state of the bridge.
type SnapshotSource interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Sink abstracts the stream towards the stats collector.
// Send never blocks; it reports false when the message was dropped.
type Sink interface {
	Send(Message) bool
}
