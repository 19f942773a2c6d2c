package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/store"
)

type fakeMirror struct {
	byID map[string]Candidate
	list []Candidate
}

func (f *fakeMirror) GetByID(id string) (Candidate, bool) {
	c, ok := f.byID[id]
	return c, ok
}
func (f *fakeMirror) GetByDomain(domain string) []Candidate {
	var out []Candidate
	for _, c := range f.list {
		if c.Domain == domain {
			out = append(out, c)
		}
	}
	return out
}
func (f *fakeMirror) GetByArea(area string) []Candidate {
	var out []Candidate
	for _, c := range f.list {
		if c.Area == area {
			out = append(out, c)
		}
	}
	return out
}
func (f *fakeMirror) GetByDomainAndArea(domain, area string) []Candidate {
	var out []Candidate
	for _, c := range f.list {
		if c.Domain == domain && c.Area == area {
			out = append(out, c)
		}
	}
	return out
}

type fakeStore struct {
	improvements []*store.Improvement
	signals      []*store.Signal
}

func (f *fakeStore) CreateImprovement(ctx context.Context, imp *store.Improvement) error {
	f.improvements = append(f.improvements, imp)
	return nil
}
func (f *fakeStore) RecordSignal(ctx context.Context, sig *store.Signal) error {
	f.signals = append(f.signals, sig)
	return nil
}

func newFixtureMirror() *fakeMirror {
	candidates := []Candidate{
		{ID: "light.kitchen", FriendlyName: "Kitchen Light", Domain: "light", Area: "kitchen", Keywords: []string{"kitchen", "light"}},
		{ID: "light.living_room", FriendlyName: "Living Room Light", Domain: "light", Area: "living room", Keywords: []string{"living", "room", "light"}},
	}
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	return &fakeMirror{byID: byID, list: candidates}
}

func TestResolvePhaseAExactMatch(t *testing.T) {
	m := newFixtureMirror()
	st := &fakeStore{}
	r := New(m, nil, st, 0.85)

	result, err := r.Resolve(context.Background(), "kitchen light", "light_off", "light", "kitchen")
	require.NoError(t, err)
	require.Equal(t, "light.kitchen", result.EntityID)
	require.False(t, result.Guessed)
}

type stubChat struct {
	entityID       string
	friendlyName   string
	confidence     float64
	suggestedAlias string
}

func (s stubChat) CompleteJSON(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema map[string]any, target any) error {
	resp := target.(*phaseBResponse)
	resp.EntityID = s.entityID
	resp.FriendlyName = s.friendlyName
	resp.Confidence = s.confidence
	resp.SuggestedAlias = s.suggestedAlias
	return nil
}

func TestResolvePhaseBUsedOnNearMissAndSubmitsAlias(t *testing.T) {
	m := newFixtureMirror()
	st := &fakeStore{}
	chat := stubChat{entityID: "light.living_room", friendlyName: "Living Room Light", confidence: 0.9, suggestedAlias: "liv room lamp"}
	r := New(m, chat, st, 0.85)

	result, err := r.Resolve(context.Background(), "liv room lamp", "light_on", "light", "office")
	require.NoError(t, err)
	require.Equal(t, "light.living_room", result.EntityID)
	require.Len(t, st.improvements, 1)
	require.Equal(t, store.ImprovementAlias, st.improvements[0].Type)
	require.Equal(t, "liv room lamp", st.improvements[0].ProposedValue)
}

func TestResolveNeverFailsWhenLLMUnavailable(t *testing.T) {
	m := newFixtureMirror()
	st := &fakeStore{}
	r := New(m, nil, st, 0.85)
	r.ObserveUse("office", "light.kitchen")

	result, err := r.Resolve(context.Background(), "the lamp thingy", "light_on", "light", "office")
	require.NoError(t, err)
	require.NotEmpty(t, result.EntityID)
	require.True(t, result.Guessed)
}

func TestResolveErrorsWhenNoCandidatesExistForDomain(t *testing.T) {
	m := &fakeMirror{byID: map[string]Candidate{}}
	r := New(m, nil, &fakeStore{}, 0.85)

	_, err := r.Resolve(context.Background(), "anything", "lock_door", "lock", "")
	require.Error(t, err)
}
