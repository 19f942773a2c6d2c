package injector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/mirror"
)

type fakeMirror struct {
	entities []mirror.Entity
}

func (f *fakeMirror) byDomain(domain string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range f.entities {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeMirror) GetByDomain(domain string) []mirror.Entity { return f.byDomain(domain) }
func (f *fakeMirror) GetByArea(area string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range f.entities {
		if e.Area == area {
			out = append(out, e)
		}
	}
	return out
}
func (f *fakeMirror) GetByDomainAndArea(domain, area string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range f.byDomain(domain) {
		if e.Area == area {
			out = append(out, e)
		}
	}
	return out
}
func (f *fakeMirror) All() []mirror.Entity { return f.entities }

func TestSelectLightPrefersMentionedArea(t *testing.T) {
	m := &fakeMirror{entities: []mirror.Entity{
		{ID: "light.kitchen", Domain: "light", Area: "kitchen", FriendlyName: "Kitchen Light", State: "on"},
		{ID: "light.office", Domain: "light", Area: "office", FriendlyName: "Office Light", State: "off"},
	}}
	inj := New(m, 500)

	snippets := inj.Select("light", "kitchen", "office")
	require.Len(t, snippets, 1)
	require.Equal(t, "light.kitchen", snippets[0].EntityID)
}

func TestSelectLightFallsBackToMostAccessed(t *testing.T) {
	m := &fakeMirror{entities: []mirror.Entity{
		{ID: "light.a", Domain: "light", FriendlyName: "A", State: "on", AccessCount: 1},
		{ID: "light.b", Domain: "light", FriendlyName: "B", State: "on", AccessCount: 9},
	}}
	inj := New(m, 500)

	snippets := inj.Select("light", "", "")
	require.Len(t, snippets, 2)
	require.Equal(t, "light.b", snippets[0].EntityID)
}

func TestSelectExcludesCameras(t *testing.T) {
	m := &fakeMirror{entities: []mirror.Entity{
		{ID: "camera.drive", Domain: "camera", Area: "outside"},
		{ID: "light.outside", Domain: "light", Area: "outside", State: "off"},
	}}
	inj := New(m, 500)

	snippets := inj.Select("light", "outside", "")
	require.Len(t, snippets, 1)
	require.Equal(t, "light.outside", snippets[0].EntityID)
}

func TestSelectTimerReturnsNoEntities(t *testing.T) {
	m := &fakeMirror{entities: []mirror.Entity{{ID: "light.a", Domain: "light"}}}
	inj := New(m, 500)

	snippets := inj.Select("timer", "", "")
	require.Empty(t, snippets)
}

func TestSelectWeatherReturnsAtMostOne(t *testing.T) {
	m := &fakeMirror{entities: []mirror.Entity{
		{ID: "weather.home", Domain: "weather", State: "sunny", Attributes: map[string]any{"temperature": 72}},
	}}
	inj := New(m, 500)

	snippets := inj.Select("weather", "", "")
	require.Len(t, snippets, 1)
	require.Contains(t, snippets[0].Description, "72")
}

func TestSelectRespectsTokenBudget(t *testing.T) {
	var entities []mirror.Entity
	for i := 0; i < 20; i++ {
		entities = append(entities, mirror.Entity{ID: "climate." + string(rune('a'+i)), Domain: "climate", State: "heat"})
	}
	m := &fakeMirror{entities: entities}
	inj := New(m, 100) // budget allows only 4 entities at 25 tokens each

	snippets := inj.Select("climate", "", "")
	require.Len(t, snippets, 4)
}
