// Package domain contains entity without logic, just meta-data
package domain

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ApplicationName tags every identity sent to the collector.
const ApplicationName = "JVB"

type (
	ConferenceID string
	EndpointID   string
	SessionID    string
)

// NewSessionID returns an id that is never handed out twice.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Name is the room part of the conference id ("room@muc" -> "room").
func (id ConferenceID) Name() string {
	name, _, _ := strings.Cut(string(id), "@")
	return name
}

// Conference is the lifecycle record of one tracked conference.
// SessionID is fixed at creation; KnownEndpoints only ever grows.
type Conference struct {
	ID              ConferenceID
	SessionID       SessionID
	Name            string
	DisplayName     string
	MeetingUniqueID string
	ApplicationName string

	KnownEndpoints   map[EndpointID]struct{}
	PreviousSnapshot map[string]any
}

// NewConference avoids raw literals in the tracker and keeps construction obvious.
func NewConference(id ConferenceID, sid SessionID, displayName, meetingID string) *Conference {
	if meetingID == "" {
		meetingID = string(id)
	}
	return &Conference{
		ID:              id,
		SessionID:       sid,
		Name:            id.Name(),
		DisplayName:     displayName,
		MeetingUniqueID: meetingID,
		ApplicationName: ApplicationName,
		KnownEndpoints:  make(map[EndpointID]struct{}),
	}
}

// AddEndpoints unions ids into KnownEndpoints and returns the ones that
// were not known before.
func (c *Conference) AddEndpoints(ids []EndpointID) []EndpointID {
	var added []EndpointID
	for _, id := range ids {
		if _, ok := c.KnownEndpoints[id]; ok {
			continue
		}
		c.KnownEndpoints[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// Endpoints returns KnownEndpoints sorted.
func (c *Conference) Endpoints() []EndpointID {
	out := make([]EndpointID, 0, len(c.KnownEndpoints))
	for id := range c.KnownEndpoints {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
