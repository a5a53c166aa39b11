package app

import (
	"context"
	"time"

	"github.com/dkeye/StatsRelay/internal/core"
	"github.com/rs/zerolog/log"
)

// TimestampField is injected into every raw record before diffing.
const TimestampField = "timestamp"

// Relay polls the source on a fixed period and feeds the tracker.
type Relay struct {
	Source   core.SnapshotSource
	Tracker  *Tracker
	Interval time.Duration

	now func() time.Time
}

func NewRelay(source core.SnapshotSource, tracker *Tracker, interval time.Duration) *Relay {
	return &Relay{
		Source:   source,
		Tracker:  tracker,
		Interval: interval,
		now:      time.Now,
	}
}

// Run blocks until ctx is done. Ticks are handled inline, so a slow cycle
// makes the ticker drop ticks instead of overlapping cycles.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.relay").Dur("interval", r.Interval).Msg("relay loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.relay").Msg("relay loop stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one fetch/process cycle and reports whether it was applied.
func (r *Relay) Tick(ctx context.Context) bool {
	snap, err := r.Source.Fetch(ctx)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("fetch failed, skipping cycle")
		return false
	}

	ts := r.now().UnixMilli()
	for id, raw := range snap {
		if raw == nil {
			raw = core.Record{}
			snap[id] = raw
		}
		raw[TimestampField] = ts
	}
	r.Tracker.Cycle(snap)
	return true
}
