package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/store"
)

func newTestMirror(t *testing.T) (*Mirror, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := New(Config{}, nil, st, zerolog.Nop())
	return m, st
}

func TestDeriveKeywordsAndAliases(t *testing.T) {
	e := &Entity{FriendlyName: "Living Room Light", Area: "Living Room", DeviceClass: "light"}
	keywords := deriveKeywords(e)
	require.Contains(t, keywords, "living")
	require.Contains(t, keywords, "room")
	require.Contains(t, keywords, "light")

	aliases := deriveAliases(e)
	require.Contains(t, aliases, "living room light")
	require.Contains(t, aliases, "living room")
	require.Contains(t, aliases, "liv room light")
}

func TestEnrichIsAdditive(t *testing.T) {
	e := &Entity{ID: "light.kitchen", FriendlyName: "Kitchen Light", Area: "kitchen", Aliases: []string{"cook lamp"}}
	m, _ := newTestMirror(t)
	m.enrich(e)

	require.Contains(t, e.Aliases, "cook lamp")
	require.Contains(t, e.Aliases, "kitchen light")
}

func TestQueriesAfterBulkFetchStyleInsert(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()

	entities := []*Entity{
		{ID: "light.kitchen", Domain: "light", State: "on", FriendlyName: "Kitchen Light", Area: "kitchen"},
		{ID: "light.living_room", Domain: "light", State: "off", FriendlyName: "Living Room Light", Area: "living room"},
		{ID: "lock.front_door", Domain: "lock", State: "locked", FriendlyName: "Front Door Lock", Area: "entryway"},
		{ID: "camera.driveway", Domain: "camera", State: "streaming", FriendlyName: "Driveway Camera", Area: "outside"},
	}
	for _, e := range entities {
		m.enrich(e)
		m.mu.Lock()
		m.entities[e.ID] = e
		m.mu.Unlock()
		require.NoError(t, m.persist(ctx, e))
	}

	lights := m.GetByDomain("light")
	require.Len(t, lights, 2)

	kitchenEntities := m.GetByArea("kitchen")
	require.Len(t, kitchenEntities, 1)
	require.Equal(t, "light.kitchen", kitchenEntities[0].ID)

	both := m.GetByDomainAndArea("light", "kitchen")
	require.Len(t, both, 1)

	got, ok := m.GetByID("lock.front_door")
	require.True(t, ok)
	require.Equal(t, "locked", got.State)
	require.Equal(t, 1, got.AccessCount)

	results := m.Search("kitchen light", "", "", 5)
	require.NotEmpty(t, results)
	require.Equal(t, "light.kitchen", results[0].ID)

	// Cameras are never returned by search (privacy).
	cameraResults := m.Search("driveway camera", "", "", 5)
	require.Empty(t, cameraResults)
}

func TestHandleFramePreservesLearnedAliasesAcrossEvents(t *testing.T) {
	m, st := newTestMirror(t)
	ctx := context.Background()

	e := &Entity{ID: "light.kitchen", Domain: "light", State: "off", FriendlyName: "Kitchen Light", Area: "kitchen"}
	m.enrich(e)
	require.NoError(t, st.AddEntityAlias(ctx, store.EntityAlias{
		ID: "a1", EntityID: "light.kitchen", Alias: "cook lamp", Source: "improvement", CreatedAt: time.Now().Unix(),
	}))
	e.Aliases = append(e.Aliases, "cook lamp")
	m.mu.Lock()
	m.entities[e.ID] = e
	m.mu.Unlock()

	frame := []byte(`{
		"type": "event",
		"event": {
			"event_type": "state_changed",
			"data": {
				"entity_id": "light.kitchen",
				"new_state": {"entity_id": "light.kitchen", "state": "on", "attributes": {"friendly_name": "Kitchen Light"}}
			}
		}
	}`)
	require.NoError(t, m.handleFrame(ctx, frame))

	got, ok := m.GetByID("light.kitchen")
	require.True(t, ok)
	require.Equal(t, "on", got.State)
	require.Contains(t, got.Aliases, "cook lamp")
}

func TestIsAvailable(t *testing.T) {
	e := Entity{State: "unavailable"}
	require.False(t, e.IsAvailable())
	e.State = "on"
	require.True(t, e.IsAvailable())
}
