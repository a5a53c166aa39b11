package app

import (
	"sort"

	"github.com/dkeye/StatsRelay/internal/core"
	"github.com/dkeye/StatsRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	fieldMeetingID    = "meeting_id"
	fieldParticipants = "participants"
)

// Tracker turns successive snapshots into identity, stats-entry and close
// messages. It is driven by a single goroutine.
type Tracker struct {
	Store       *ConferenceStore
	Sink        core.Sink
	DisplayName string

	newSessionID func() domain.SessionID
}

func NewTracker(store *ConferenceStore, sink core.Sink, displayName string) *Tracker {
	return &Tracker{
		Store:        store,
		Sink:         sink,
		DisplayName:  displayName,
		newSessionID: domain.NewSessionID,
	}
}

// Cycle applies one poll result. Additions and removals are both derived
// from the tracked set as it was before the cycle.
func (t *Tracker) Cycle(snap core.Snapshot) {
	before := t.Store.IDs()

	var added, removed []domain.ConferenceID
	for id := range snap {
		if _, ok := before[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range before {
		if _, ok := snap[id]; !ok {
			removed = append(removed, id)
		}
	}

	for _, id := range removed {
		t.closeConference(id)
	}

	created := make(map[domain.ConferenceID]bool, len(added))
	for _, id := range added {
		raw := snap[id]
		meetingID, _ := raw[fieldMeetingID].(string)
		c := domain.NewConference(id, t.newSessionID(), t.DisplayName, meetingID)
		created[id] = t.Store.Create(c)
	}

	for id, raw := range snap {
		t.processConference(id, raw, created[id])
	}

	log.Debug().Str("module", "app.tracker").
		Int("conferences", len(snap)).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Msg("cycle processed")
}

func (t *Tracker) closeConference(id domain.ConferenceID) {
	c, ok := t.Store.Delete(id)
	if !ok {
		return
	}
	t.send(core.NewClose(c.SessionID))
}

// processConference sends a full identity when the conference is new or
// its endpoint set grew, then the stats entry for this cycle.
// Endpoints that left are kept and reported nowhere.
func (t *Tracker) processConference(id domain.ConferenceID, raw core.Record, created bool) {
	var msgs []core.Message
	t.Store.Update(id, func(c *domain.Conference) {
		newEndpoints := c.AddEndpoints(endpointsOf(raw))
		if created || len(newEndpoints) > 0 {
			msgs = append(msgs, core.NewIdentity(c))
		}

		entry, err := core.NewStatsEntry(c.SessionID, core.Diff(c.PreviousSnapshot, raw))
		if err != nil {
			log.Error().Err(err).Str("module", "app.tracker").Str("conf", string(id)).Msg("stats entry")
		} else {
			msgs = append(msgs, entry)
		}
		c.PreviousSnapshot = raw
	})
	for _, m := range msgs {
		t.send(m)
	}
}

func (t *Tracker) send(m core.Message) {
	if !t.Sink.Send(m) {
		log.Debug().Str("module", "app.tracker").Str("type", string(m.Type)).Str("sid", string(m.StatsSessionID)).Msg("message dropped")
	}
}

// endpointsOf lists the participant ids of a raw record. A missing or
// malformed participants field yields none.
func endpointsOf(raw core.Record) []domain.EndpointID {
	participants, ok := raw[fieldParticipants].(map[string]any)
	if !ok {
		return nil
	}
	out := make([]domain.EndpointID, 0, len(participants))
	for id := range participants {
		out = append(out, domain.EndpointID(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
