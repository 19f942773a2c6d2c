package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/errs"
)

type fakeMirror struct {
	entities map[string]Entity
	calls    []call
	failN    int // number of CallService invocations to fail with a transient error before succeeding
}

type call struct {
	domain, service string
	entityIDs       []string
	data            map[string]any
}

func (f *fakeMirror) GetByID(id string) (Entity, bool) {
	e, ok := f.entities[id]
	return e, ok
}

func (f *fakeMirror) CallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	f.calls = append(f.calls, call{domain: domain, service: service, entityIDs: entityIDs, data: data})
	if f.failN > 0 {
		f.failN--
		return errs.New(errs.KindTransientUpstream, "fakeMirror.CallService", "simulated transient failure", nil)
	}
	return nil
}

func newFixture() *fakeMirror {
	return &fakeMirror{entities: map[string]Entity{
		"light.kitchen": {ID: "light.kitchen", Domain: "light", Available: true},
		"light.office":  {ID: "light.office", Domain: "light", Available: false},
	}}
}

func TestDispatchSuccess(t *testing.T) {
	m := newFixture()
	ex := New(m, nil, DefaultRegistry())

	result, err := ex.Dispatch(context.Background(), Request{
		RequestID: "r1", Intent: "light_on", EntityIDs: []string{"light.kitchen"},
		Slots: map[string]any{"brightness_pct": 80},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.Warnings)
	require.Len(t, m.calls, 1)
	require.Equal(t, "light", m.calls[0].domain)
	require.Equal(t, "turn_on", m.calls[0].service)
	require.Equal(t, 80, m.calls[0].data["brightness_pct"])
}

func TestDispatchWarnsOnUnavailableEntityButSucceedsWithOthers(t *testing.T) {
	m := newFixture()
	ex := New(m, nil, DefaultRegistry())

	result, err := ex.Dispatch(context.Background(), Request{
		RequestID: "r2", Intent: "light_off", EntityIDs: []string{"light.kitchen", "light.office"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "light.office")
}

func TestDispatchFailsWhenAllEntitiesUnavailable(t *testing.T) {
	m := newFixture()
	ex := New(m, nil, DefaultRegistry())

	result, err := ex.Dispatch(context.Background(), Request{
		RequestID: "r3", Intent: "light_off", EntityIDs: []string{"light.office"},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}

func TestDispatchUnknownIntentErrors(t *testing.T) {
	m := newFixture()
	ex := New(m, nil, DefaultRegistry())

	_, err := ex.Dispatch(context.Background(), Request{RequestID: "r4", Intent: "nonexistent", EntityIDs: []string{"light.kitchen"}})
	require.Error(t, err)
}

func TestDispatchRetriesOnceOnTransientFailure(t *testing.T) {
	m := newFixture()
	m.failN = 1
	ex := New(m, nil, DefaultRegistry())

	result, err := ex.Dispatch(context.Background(), Request{RequestID: "r5", Intent: "light_on", EntityIDs: []string{"light.kitchen"}})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, m.calls, 2)
}

func TestIsSpeculativeEligible(t *testing.T) {
	require.True(t, IsSpeculativeEligible("light", 0.99, 0.98, "speaker-1"))
	require.False(t, IsSpeculativeEligible("light", 0.97, 0.98, "speaker-1"))
	require.False(t, IsSpeculativeEligible("lock_lock", 0.99, 0.98, "speaker-1"))
	require.False(t, IsSpeculativeEligible("light", 0.99, 0.98, ""))
}

func TestCancelRemovesTrackedTask(t *testing.T) {
	m := newFixture()
	ex := New(m, nil, DefaultRegistry())
	ex.track("r6", func() {})
	ex.Cancel("r6")
	ex.mu.Lock()
	_, tracked := ex.tasks["r6"]
	ex.mu.Unlock()
	require.False(t, tracked)
}

func TestDispatchSpeculativeReturnsResult(t *testing.T) {
	m := newFixture()
	ex := New(m, nil, DefaultRegistry())

	result, err := ex.DispatchSpeculative(context.Background(), Request{
		RequestID: "r7", Intent: "light_on", EntityIDs: []string{"light.kitchen"},
	}, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.Pending)
}

// slowMirror blocks CallService until release is closed, so tests can
// control exactly when the underlying dispatch completes relative to a
// head-start timer.
type slowMirror struct {
	entities map[string]Entity
	release  chan struct{}
}

func (f *slowMirror) GetByID(id string) (Entity, bool) {
	e, ok := f.entities[id]
	return e, ok
}

func (f *slowMirror) CallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatchSpeculativeReturnsPendingWhenHeadStartElapsesFirst(t *testing.T) {
	m := &slowMirror{
		entities: map[string]Entity{"light.kitchen": {ID: "light.kitchen", Domain: "light", Available: true}},
		release:  make(chan struct{}),
	}
	defer close(m.release)
	ex := New(m, nil, DefaultRegistry())

	result, err := ex.DispatchSpeculative(context.Background(), Request{
		RequestID: "r8", Intent: "light_on", EntityIDs: []string{"light.kitchen"},
	}, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, result.Pending)
}
