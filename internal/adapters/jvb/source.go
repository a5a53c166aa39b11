// Package jvb fetches conference state from the bridge debug endpoint.
package jvb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/StatsRelay/internal/core"
	"github.com/dkeye/StatsRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// DebugPath is appended to the configured base URL.
const DebugPath = "/debug?full=true"

var ErrFetchStatus = errors.New("unexpected status")

type Source struct {
	url    string
	client *http.Client
}

func NewSource(baseURL string, timeout time.Duration) *Source {
	return &Source{
		url:    strings.TrimRight(baseURL, "/") + DebugPath,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *Source) URL() string { return s.url }

// Fetch returns every conference keyed by its identifier. Any non-2xx
// status or a body that is not an object of objects is an error.
func (s *Source) Fetch(ctx context.Context) (core.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: %w %d", s.url, ErrFetchStatus, resp.StatusCode)
	}

	var body map[string]map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.url, err)
	}

	snap := make(core.Snapshot, len(body))
	for id, raw := range body {
		if raw == nil {
			raw = core.Record{}
		}
		snap[domain.ConferenceID(id)] = raw
	}
	log.Debug().Str("module", "adapters.jvb").Int("conferences", len(snap)).Msg("snapshot fetched")
	return snap, nil
}
