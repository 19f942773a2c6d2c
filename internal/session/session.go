// Package session is the Session Store (spec §4.2): short-lived
// per-device conversational state held in Redis with a sliding TTL, plus
// pub/sub fan-out for mirror/executor state changes and a short-TTL
// distributed lock guarding concurrent writes to one device's session.
//
// Grounded in the teacher's narrow-injection service shape (pkg/chat/service.go:
// a struct wrapping one dependency, exposing verb methods, no framework
// glue) applied to github.com/go-redis/redis/v8, whose namespacing and
// SET-NX-with-TTL lock pattern follow itsneelabh-gomind's
// core/redis_client.go and orchestration/redis_task_store.go.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/barnabee/core/internal/errs"
)

const keyPrefix = "barnabee:session:"

// Mode is the conversational mode a device is currently in.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeAwaitingOK Mode = "awaiting_confirmation"
	ModeFollowUp   Mode = "follow_up"
)

// State is the per-device slot held between turns (spec §4.2).
type State struct {
	DeviceID         string            `json:"device_id"`
	ConversationID   string            `json:"conversation_id"`
	Mode             Mode              `json:"mode"`
	Speaker          string            `json:"speaker,omitempty"`
	LastIntent       string            `json:"last_intent,omitempty"`
	LastEntities     []string          `json:"last_entities,omitempty"`
	PendingCommand   string            `json:"pending_command,omitempty"`
	Slots            map[string]string `json:"slots,omitempty"`
	UpdatedAt        int64             `json:"updated_at"`
}

// Store is the Redis-backed session layer.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New dials Redis and returns a Store. It does not ping eagerly; the first
// operation surfaces connection failures so callers can decide whether a
// missing session backend should degrade the request (spec §7: transient
// upstream) or abort startup.
func New(addr string, db int, ttl time.Duration) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl:    ttl,
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func sessionKey(deviceID string) string {
	return keyPrefix + "state:" + deviceID
}

func lockKey(deviceID string) string {
	return keyPrefix + "lock:" + deviceID
}

func channelKey(deviceID string) string {
	return keyPrefix + "events:" + deviceID
}

// Get fetches a device's session, returning a fresh idle State if none exists.
func (s *Store) Get(ctx context.Context, deviceID string) (State, error) {
	raw, err := s.client.Get(ctx, sessionKey(deviceID)).Bytes()
	if err == redis.Nil {
		return State{DeviceID: deviceID, Mode: ModeIdle, UpdatedAt: time.Now().Unix()}, nil
	}
	if err != nil {
		return State{}, errs.New(errs.KindTransientUpstream, "session.Get", "redis get failed", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, errs.New(errs.KindCorruption, "session.Get", "stored session is not valid JSON", err)
	}
	return st, nil
}

// Put writes a device's session and resets its TTL, implementing the
// sliding-expiration behavior spec §4.2 requires: every turn extends the
// window rather than letting it expire mid-conversation.
func (s *Store) Put(ctx context.Context, st State) error {
	st.UpdatedAt = time.Now().Unix()
	raw, err := json.Marshal(st)
	if err != nil {
		return errs.New(errs.KindValidation, "session.Put", "cannot marshal session state", err)
	}
	if err := s.client.Set(ctx, sessionKey(st.DeviceID), raw, s.ttl).Err(); err != nil {
		return errs.New(errs.KindTransientUpstream, "session.Put", "redis set failed", err)
	}
	if err := s.client.Publish(ctx, channelKey(st.DeviceID), raw).Err(); err != nil {
		return errs.New(errs.KindTransientUpstream, "session.Put", "redis publish failed", err)
	}
	return nil
}

// Clear removes a device's session, used when a conversation explicitly ends.
func (s *Store) Clear(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, sessionKey(deviceID)).Err(); err != nil {
		return errs.New(errs.KindTransientUpstream, "session.Clear", "redis del failed", err)
	}
	return nil
}

// Subscribe streams session updates for a device until ctx is canceled,
// used by components that want to react to mode changes (e.g. a follow-up
// prompt) without polling.
func (s *Store) Subscribe(ctx context.Context, deviceID string) (<-chan State, func()) {
	pubsub := s.client.Subscribe(ctx, channelKey(deviceID))
	out := make(chan State, 8)

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var st State
				if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil {
					continue
				}
				select {
				case out <- st:
				default: // slow consumer; drop rather than block the publisher
				}
			}
		}
	}()

	return out, func() { pubsub.Close() }
}

// Lock is a handle on a short-TTL distributed lock for one device's session,
// preventing two concurrent requests for the same device from racing to
// write conflicting session state.
type Lock struct {
	store    *Store
	deviceID string
	token    string
}

// AcquireLock attempts to take the per-device lock, retrying every 10ms
// until ctx is canceled. The lock auto-expires after ttl even if the holder
// crashes, so a dead process can never wedge a device's session forever.
func (s *Store) AcquireLock(ctx context.Context, deviceID string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	key := lockKey(deviceID)

	for {
		ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, errs.New(errs.KindTransientUpstream, "session.AcquireLock", "redis setnx failed", err)
		}
		if ok {
			return &Lock{store: s, deviceID: deviceID, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.KindTimeout, "session.AcquireLock", fmt.Sprintf("could not acquire lock for %s", deviceID), ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// releaseScript deletes the lock key only if its value still matches the
// holder's token, so a lock released after its own TTL expiry and
// reacquired by someone else is never deleted out from under them.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release drops the lock, a no-op if it already expired.
func (l *Lock) Release(ctx context.Context) error {
	if err := l.store.client.Eval(ctx, releaseScript, []string{lockKey(l.deviceID)}, l.token).Err(); err != nil {
		return errs.New(errs.KindTransientUpstream, "session.Release", "redis eval failed", err)
	}
	return nil
}
