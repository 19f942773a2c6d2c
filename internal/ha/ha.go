// Package ha defines the wire messages exchanged with the home-automation
// system over its bidirectional connection (spec §6): auth, subscribe,
// event, call_service, get_states, result. Shared by the Entity Mirror and
// the Command Executor so both speak one protocol vocabulary.
package ha

import "encoding/json"

// MessageType enumerates the upstream protocol's message kinds.
type MessageType string

const (
	TypeAuth            MessageType = "auth"
	TypeAuthOK          MessageType = "auth_ok"
	TypeAuthRequired    MessageType = "auth_required"
	TypeSubscribeEvents MessageType = "subscribe_events"
	TypeEvent           MessageType = "event"
	TypeCallService     MessageType = "call_service"
	TypeGetStates       MessageType = "get_states"
	TypeResult          MessageType = "result"
)

// Envelope is the outer shape every frame shares; Payload is decoded
// according to Type once dispatched.
type Envelope struct {
	ID      int64           `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// AuthMessage authenticates the connection with a long-lived token.
type AuthMessage struct {
	Type        MessageType `json:"type"`
	AccessToken string      `json:"access_token"`
}

// SubscribeEventsMessage requests a stream of state_changed events.
type SubscribeEventsMessage struct {
	ID        int64       `json:"id"`
	Type      MessageType `json:"type"`
	EventType string      `json:"event_type"`
}

// GetStatesMessage requests a one-shot bulk snapshot of every entity.
type GetStatesMessage struct {
	ID   int64       `json:"id"`
	Type MessageType `json:"type"`
}

// EntityState is one entity's state as reported by the upstream system.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
}

// StateChangedEvent is the payload of a state_changed event frame.
type StateChangedEvent struct {
	ID    int64       `json:"id"`
	Type  MessageType `json:"type"`
	Event struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string       `json:"entity_id"`
			NewState *EntityState `json:"new_state"`
			OldState *EntityState `json:"old_state"`
		} `json:"data"`
	} `json:"event"`
}

// CallServiceMessage dispatches a command to one domain/service with a
// target entity list and a service-specific data payload.
type CallServiceMessage struct {
	ID     int64          `json:"id"`
	Type   MessageType    `json:"type"`
	Domain string         `json:"domain"`
	Service string        `json:"service"`
	Target struct {
		EntityID []string `json:"entity_id"`
	} `json:"target"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// ResultMessage is the upstream's response to a request frame.
type ResultMessage struct {
	ID      int64           `json:"id"`
	Type    MessageType     `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResultError    `json:"error,omitempty"`
}

// ResultError carries the upstream's structured failure detail.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsAvailable reports whether a state string represents a reachable
// entity, per spec §4.3's is_available freshness read.
func IsAvailable(state string) bool {
	return state != "unavailable" && state != ""
}
