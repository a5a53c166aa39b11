package app

import (
	"sort"
	"sync"

	"github.com/dkeye/StatsRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConferenceInfo is a read-only view for APIs.
type ConferenceInfo struct {
	ID              domain.ConferenceID `json:"confID"`
	SessionID       domain.SessionID    `json:"sessionId"`
	Name            string              `json:"confName"`
	MeetingUniqueID string              `json:"meetingUniqueId"`
	Endpoints       []domain.EndpointID `json:"endpoints"`
}

// ConferenceStore owns every tracked conference record. Only the tracker
// mutates it; the status API reads it concurrently.
type ConferenceStore struct {
	mu    sync.RWMutex
	confs map[domain.ConferenceID]*domain.Conference
}

func NewConferenceStore() *ConferenceStore {
	return &ConferenceStore{
		confs: make(map[domain.ConferenceID]*domain.Conference),
	}
}

// Create stores c unless a record with the same id exists.
func (s *ConferenceStore) Create(c *domain.Conference) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confs[c.ID]; ok {
		return false
	}
	s.confs[c.ID] = c
	log.Info().Str("module", "app.store").Str("conf", string(c.ID)).Str("sid", string(c.SessionID)).Msg("conference created")
	return true
}

// Get returns a copy of the record's public fields, taken under the
// read lock. Records are mutated only through Update.
func (s *ConferenceStore) Get(id domain.ConferenceID) (ConferenceInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.confs[id]
	if !ok {
		return ConferenceInfo{}, false
	}
	return infoOf(c), true
}

// Update runs fn on the record under the write lock.
func (s *ConferenceStore) Update(id domain.ConferenceID, fn func(*domain.Conference)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confs[id]
	if !ok {
		return false
	}
	fn(c)
	return true
}

func (s *ConferenceStore) Delete(id domain.ConferenceID) (*domain.Conference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confs[id]
	if !ok {
		return nil, false
	}
	delete(s.confs, id)
	log.Info().Str("module", "app.store").Str("conf", string(id)).Str("sid", string(c.SessionID)).Msg("conference removed")
	return c, true
}

// IDs returns the set of tracked conference ids at the time of the call.
func (s *ConferenceStore) IDs() map[domain.ConferenceID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.ConferenceID]struct{}, len(s.confs))
	for id := range s.confs {
		out[id] = struct{}{}
	}
	return out
}

func (s *ConferenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.confs)
}

func (s *ConferenceStore) List() []ConferenceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConferenceInfo, 0, len(s.confs))
	for _, c := range s.confs {
		out = append(out, infoOf(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func infoOf(c *domain.Conference) ConferenceInfo {
	return ConferenceInfo{
		ID:              c.ID,
		SessionID:       c.SessionID,
		Name:            c.Name,
		MeetingUniqueID: c.MeetingUniqueID,
		Endpoints:       c.Endpoints(),
	}
}
