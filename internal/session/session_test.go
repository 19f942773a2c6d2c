package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := &Store{
		client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		ttl:    30 * time.Minute,
	}
	return store, mr
}

func TestGetReturnsFreshIdleState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	st, err := store.Get(ctx, "kitchen-speaker")
	require.NoError(t, err)
	require.Equal(t, ModeIdle, st.Mode)
	require.Equal(t, "kitchen-speaker", st.DeviceID)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{
		DeviceID: "kitchen-speaker", ConversationID: "conv1", Mode: ModeFollowUp,
		LastIntent: "device_control", LastEntities: []string{"light.kitchen"},
	}))

	st, err := store.Get(ctx, "kitchen-speaker")
	require.NoError(t, err)
	require.Equal(t, ModeFollowUp, st.Mode)
	require.Equal(t, "conv1", st.ConversationID)
	require.Equal(t, []string{"light.kitchen"}, st.LastEntities)
}

func TestClearRemovesSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{DeviceID: "d1", Mode: ModeAwaitingOK}))
	require.NoError(t, store.Clear(ctx, "d1"))

	st, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, ModeIdle, st.Mode)
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{DeviceID: "d2", Mode: ModeFollowUp}))
	mr.FastForward(31 * time.Minute)

	st, err := store.Get(ctx, "d2")
	require.NoError(t, err)
	require.Equal(t, ModeIdle, st.Mode)
}

func TestAcquireLockExcludesConcurrentHolder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	lock1, err := store.AcquireLock(ctx, "d3", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock1)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = store.AcquireLock(shortCtx, "d3", 5*time.Second)
	require.Error(t, err)

	require.NoError(t, lock1.Release(ctx))

	lock2, err := store.AcquireLock(ctx, "d3", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock2)
}

func TestSubscribeReceivesPublishedUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, stop := store.Subscribe(ctx, "d4")
	defer stop()

	time.Sleep(20 * time.Millisecond) // let the subscription register with miniredis
	require.NoError(t, store.Put(ctx, State{DeviceID: "d4", Mode: ModeFollowUp}))

	select {
	case st := <-updates:
		require.Equal(t, ModeFollowUp, st.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session update")
	}
}
