package core

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/StatsRelay/internal/domain"
)

type MessageType string

const (
	MsgIdentity   MessageType = "identity"
	MsgStatsEntry MessageType = "stats-entry"
	MsgClose      MessageType = "close"
)

// Message is one frame on the stats stream.
type Message struct {
	Type           MessageType      `json:"type"`
	StatsSessionID domain.SessionID `json:"statsSessionId"`
	Data           any              `json:"data,omitempty"`
}

// IdentityData describes a conference to the collector. It always
// carries the full list of endpoints seen so far.
type IdentityData struct {
	ConfID          domain.ConferenceID `json:"confID"`
	ConfName        string              `json:"confName"`
	DisplayName     string              `json:"displayName"`
	MeetingUniqueID string              `json:"meetingUniqueId"`
	ApplicationName string              `json:"applicationName"`
	Endpoints       []domain.EndpointID `json:"endpoints"`
}

func NewIdentity(c *domain.Conference) Message {
	return Message{
		Type:           MsgIdentity,
		StatsSessionID: c.SessionID,
		Data: IdentityData{
			ConfID:          c.ID,
			ConfName:        c.Name,
			DisplayName:     c.DisplayName,
			MeetingUniqueID: c.MeetingUniqueID,
			ApplicationName: c.ApplicationName,
			Endpoints:       c.Endpoints(),
		},
	}
}

// NewStatsEntry wraps a diff. The collector expects the diff as a JSON
// string inside the JSON frame.
func NewStatsEntry(sid domain.SessionID, diff Record) (Message, error) {
	if diff == nil {
		diff = Record{}
	}
	b, err := json.Marshal(diff)
	if err != nil {
		return Message{}, fmt.Errorf("marshal stats entry: %w", err)
	}
	return Message{
		Type:           MsgStatsEntry,
		StatsSessionID: sid,
		Data:           string(b),
	}, nil
}

func NewClose(sid domain.SessionID) Message {
	return Message{Type: MsgClose, StatsSessionID: sid}
}
