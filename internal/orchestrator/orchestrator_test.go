package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/cascade"
	"github.com/barnabee/core/internal/executor"
	"github.com/barnabee/core/internal/injector"
	"github.com/barnabee/core/internal/mirror"
	"github.com/barnabee/core/internal/normalizer"
	"github.com/barnabee/core/internal/resolver"
	"github.com/barnabee/core/internal/session"
	"github.com/barnabee/core/internal/store"
)

type fakeEntityMirror struct {
	entities []mirror.Entity
}

func (f *fakeEntityMirror) byID(id string) (mirror.Entity, bool) {
	for _, e := range f.entities {
		if e.ID == id {
			return e, true
		}
	}
	return mirror.Entity{}, false
}

func (f *fakeEntityMirror) GetByDomain(domain string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range f.entities {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEntityMirror) GetByArea(area string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range f.entities {
		if e.Area == area {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEntityMirror) GetByDomainAndArea(domain, area string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range f.entities {
		if e.Domain == domain && e.Area == area {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEntityMirror) All() []mirror.Entity { return f.entities }

// resolverMirror adapts fakeEntityMirror to resolver.EntityMirror.
type resolverMirror struct{ f *fakeEntityMirror }

func (r resolverMirror) GetByID(id string) (resolver.Candidate, bool) {
	e, ok := r.f.byID(id)
	if !ok {
		return resolver.Candidate{}, false
	}
	return toCandidate(e), true
}
func (r resolverMirror) GetByDomain(domain string) []resolver.Candidate {
	return toCandidates(r.f.GetByDomain(domain))
}
func (r resolverMirror) GetByArea(area string) []resolver.Candidate {
	return toCandidates(r.f.GetByArea(area))
}
func (r resolverMirror) GetByDomainAndArea(domain, area string) []resolver.Candidate {
	return toCandidates(r.f.GetByDomainAndArea(domain, area))
}

func toCandidate(e mirror.Entity) resolver.Candidate {
	return resolver.Candidate{ID: e.ID, FriendlyName: e.FriendlyName, Area: e.Area, Domain: e.Domain,
		Keywords: e.Keywords, Aliases: e.Aliases, LastChanged: e.LastChanged}
}

func toCandidates(es []mirror.Entity) []resolver.Candidate {
	out := make([]resolver.Candidate, len(es))
	for i, e := range es {
		out[i] = toCandidate(e)
	}
	return out
}

// executorMirror adapts fakeEntityMirror to executor.EntityMirror.
type executorMirror struct {
	f      *fakeEntityMirror
	calls  []string
	failN  int
}

func (e *executorMirror) GetByID(id string) (executor.Entity, bool) {
	ent, ok := e.f.byID(id)
	if !ok {
		return executor.Entity{}, false
	}
	return executor.Entity{ID: ent.ID, Domain: ent.Domain, Available: ent.IsAvailable()}, true
}

func (e *executorMirror) CallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	e.calls = append(e.calls, domain+"."+service)
	return nil
}

func (e *executorMirror) Healthy() bool { return true }

type fakeImprovementRecorder struct{}

func (fakeImprovementRecorder) CreateImprovement(ctx context.Context, imp *store.Improvement) error {
	return nil
}
func (fakeImprovementRecorder) RecordSignal(ctx context.Context, sig *store.Signal) error { return nil }

type fakeResponder struct{ text string }

func (f fakeResponder) Respond(ctx context.Context, intent string, slots map[string]any, snippets []injector.Snippet) (string, error) {
	return f.text, nil
}

// unavailableChatProvider simulates the LLM being unreachable, exercising
// the resolver's never-fail fallback rather than Phase B itself.
type unavailableChatProvider struct{}

func (unavailableChatProvider) CompleteJSON(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema map[string]any, target any) error {
	return context.DeadlineExceeded
}

func newFixture(t *testing.T) (*Orchestrator, *executorMirror) {
	t.Helper()

	n, err := normalizer.New([]string{"barnabee"})
	require.NoError(t, err)

	s1 := cascade.NewStage1(map[string]string{"turn on the kitchen lights": "light_on"})
	c := cascade.New(n, s1, nil, nil, nil, cascade.DefaultThresholds(), nil, func() string { return "sig1" })

	fm := &fakeEntityMirror{entities: []mirror.Entity{
		{ID: "light.kitchen", Domain: "light", Area: "kitchen", FriendlyName: "Kitchen Light", State: "off"},
	}}
	res := resolver.New(resolverMirror{fm}, unavailableChatProvider{}, fakeImprovementRecorder{}, 0.85)
	inj := injector.New(fm, 500)

	em := &executorMirror{f: fm}
	ex := executor.New(em, nil, executor.DefaultRegistry())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	sessions := session.New(mr.Addr(), 0, time.Hour)

	o := New(c, res, inj, ex, sessions, em, fakeResponder{text: "Okay, turning on the kitchen lights."},
		executor.DefaultRegistry(), Config{RequestDeadline: 2 * time.Second, SpeculativeConfidence: 0.98, SpeculativeHeadStart: 100 * time.Millisecond})
	return o, em
}

func TestHandleClassifiesResolvesAndDispatches(t *testing.T) {
	o, em := newFixture(t)

	resp, err := o.Handle(context.Background(), Request{
		UtteranceText: "turn on the kitchen lights", DeviceID: "device-1", SpeakerID: "speaker-1", ConversationID: "conv-1",
	})
	require.NoError(t, err)
	require.Equal(t, "light_on", resp.Intent)
	require.Equal(t, cascade.StageFastPattern, resp.Stage)
	require.NotEmpty(t, resp.ResponseText)
	require.Len(t, em.calls, 1)
	require.Equal(t, "light.turn_on", em.calls[0])
	require.False(t, resp.Degraded)
}

func TestHandleSerializesTurnsPerConversation(t *testing.T) {
	o, _ := newFixture(t)

	done := make(chan struct{})
	go func() {
		_, _ = o.Handle(context.Background(), Request{
			UtteranceText: "turn on the kitchen lights", DeviceID: "device-1", ConversationID: "conv-shared",
		})
		close(done)
	}()

	_, err := o.Handle(context.Background(), Request{
		UtteranceText: "turn on the kitchen lights", DeviceID: "device-1", ConversationID: "conv-shared",
	})
	require.NoError(t, err)
	<-done
}

func TestHandleDegradesWhenCascadeCannotDecide(t *testing.T) {
	n, err := normalizer.New([]string{"barnabee"})
	require.NoError(t, err)
	c := cascade.New(n, cascade.NewStage1(nil), nil, nil, nil, cascade.DefaultThresholds(), nil, func() string { return "sig1" })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	sessions := session.New(mr.Addr(), 0, time.Hour)

	o := New(c, nil, nil, nil, sessions, nil, fakeResponder{}, nil, Config{RequestDeadline: time.Second})

	resp, err := o.Handle(context.Background(), Request{UtteranceText: "gibberish", DeviceID: "device-2"})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Warnings)
}
