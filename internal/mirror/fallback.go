package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/ha"
)

// FallbackGetStates performs get_states over the HTTP fallback path,
// used when the bidirectional connection is down (spec §4.3).
func (m *Mirror) FallbackGetStates(ctx context.Context) ([]ha.EntityState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.httpBaseURL+"/api/states", nil)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "mirror.FallbackGetStates", "build request failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "mirror.FallbackGetStates", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindTransientUpstream, "mirror.FallbackGetStates",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var states []ha.EntityState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, errs.New(errs.KindCorruption, "mirror.FallbackGetStates", "malformed response body", err)
	}
	return states, nil
}

// SyncEntities forces a bulk fetch over the HTTP fallback path and
// refreshes both the in-memory view and storage, independent of whether
// the bidirectional connection is live. Used by the `sync-entities` CLI
// subcommand (spec §6) to force a resync on demand.
func (m *Mirror) SyncEntities(ctx context.Context) (int, error) {
	states, err := m.FallbackGetStates(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for _, s := range states {
		e := m.entityFromState(s, now)
		m.mu.RLock()
		prev, ok := m.entities[e.ID]
		m.mu.RUnlock()
		if ok {
			e.Aliases = prev.Aliases
			e.AccessCount = prev.AccessCount
		}
		m.enrich(e)
		m.mu.Lock()
		m.entities[e.ID] = e
		m.mu.Unlock()
		if err := m.persist(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(states), nil
}

// FallbackCallService performs call_service over the HTTP fallback path.
func (m *Mirror) FallbackCallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	body := map[string]any{"entity_id": entityIDs}
	for k, v := range data {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return errs.New(errs.KindValidation, "mirror.FallbackCallService", "cannot marshal payload", err)
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", m.httpBaseURL, domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.FallbackCallService", "build request failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.FallbackCallService", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errs.New(errs.KindTransientUpstream, "mirror.FallbackCallService",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return nil
}
