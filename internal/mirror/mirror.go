// Package mirror is the Entity Mirror (spec §4.3): a near-real-time,
// in-memory cache of the smart-home system's entity table, kept current
// by a persistent bidirectional connection and backed by the storage
// engine for cold-start recovery.
//
// Grounded in the teacher's pkg/scanner/discovery/engine.go shape (a
// struct wrapping collaborators, observer methods, a small in-memory
// registry) and its use of github.com/orsinium-labs/stopwords and
// github.com/coregx/ahocorasick for token handling, generalized from
// narrative-entity discovery to home-automation entity mirroring. The
// websocket client and bounded-backoff reconnect loop follow
// gorilla/websocket + cenkalti/backoff/v4 usage observed across the
// retrieved pack.
package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/ha"
	"github.com/barnabee/core/internal/session"
	"github.com/barnabee/core/internal/store"
	"github.com/barnabee/core/internal/textkit"
)

// Entity is the in-memory representation the mirror serves reads from.
// It mirrors store.MirroredEntity but is kept separate so the mirror's
// hot read path never depends on storage-layer types changing shape.
type Entity struct {
	ID           string
	Domain       string
	State        string
	Attributes   map[string]any
	FriendlyName string
	DeviceClass  string
	Area         string
	Keywords     []string
	Aliases      []string
	AccessCount  int
	LastChanged  time.Time
}

// IsAvailable reports whether the entity's upstream state is reachable.
func (e Entity) IsAvailable() bool { return ha.IsAvailable(e.State) }

// Mirror owns the live view behind mu: its connection goroutine,
// SyncEntities, and the alias methods write it, and many concurrent
// callers read it.
type Mirror struct {
	mu       sync.RWMutex
	entities map[string]*Entity

	wsURL        string
	httpBaseURL  string
	token        string
	httpClient   *http.Client
	sessionStore *session.Store
	store        *store.SQLiteStore

	conn   *websocket.Conn
	connMu sync.Mutex

	nextID int64
	log    zerolog.Logger
}

// Config configures a new Mirror.
type Config struct {
	WebsocketURL string
	HTTPBaseURL  string
	Token        string
}

// New builds a Mirror; call Run to establish the connection and start
// consuming events.
func New(cfg Config, sessionStore *session.Store, st *store.SQLiteStore, log zerolog.Logger) *Mirror {
	return &Mirror{
		entities:     make(map[string]*Entity),
		wsURL:        cfg.WebsocketURL,
		httpBaseURL:  cfg.HTTPBaseURL,
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		sessionStore: sessionStore,
		store:        st,
		log:          log,
	}
}

// WarmStart loads the last-persisted snapshot from storage so queries can
// serve something before the first bulk fetch completes.
func (m *Mirror) WarmStart(ctx context.Context) error {
	rows, err := m.store.ListMirroredEntities(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.entities[r.ID] = fromStoreRow(r)
	}
	return nil
}

func fromStoreRow(r store.MirroredEntity) *Entity {
	return &Entity{
		ID: r.ID, Domain: r.Domain, State: r.State, Attributes: r.Attributes,
		FriendlyName: r.FriendlyName, DeviceClass: r.DeviceClass, Area: r.Area,
		Keywords: r.Keywords, Aliases: r.Aliases, AccessCount: r.AccessCount,
		LastChanged: time.Unix(r.LastChanged, 0),
	}
}

// Run connects and consumes events until ctx is canceled, reconnecting
// with exponential backoff bounded to 60 seconds (spec §4.3). Each
// reconnect performs a fresh bulk fetch before resuming event consumption.
func (m *Mirror) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0 // never give up; the caller controls lifetime via ctx

	for {
		err := m.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		m.log.Warn().Err(err).Dur("retry_in", wait).Msg("entity mirror disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Mirror) connectAndConsume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.connect", "dial failed", err)
	}
	defer conn.Close()

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
	defer func() {
		m.connMu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.connMu.Unlock()
	}()

	if err := m.authenticate(conn); err != nil {
		return err
	}
	if err := m.bulkFetch(ctx, conn); err != nil {
		return err
	}
	if err := m.subscribe(conn); err != nil {
		return err
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return errs.New(errs.KindTransientUpstream, "mirror.read", "connection read failed", err)
		}
		if err := m.handleFrame(ctx, raw); err != nil {
			m.log.Error().Err(err).Msg("failed to handle mirror frame")
		}
	}
}

func (m *Mirror) authenticate(conn *websocket.Conn) error {
	msg := ha.AuthMessage{Type: ha.TypeAuth, AccessToken: m.token}
	if err := conn.WriteJSON(msg); err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.auth", "write failed", err)
	}
	var resp struct {
		Type ha.MessageType `json:"type"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.auth", "read failed", err)
	}
	if resp.Type != ha.TypeAuthOK {
		return errs.New(errs.KindForbidden, "mirror.auth", "authentication rejected", nil)
	}
	return nil
}

func (m *Mirror) bulkFetch(ctx context.Context, conn *websocket.Conn) error {
	m.nextID++
	id := m.nextID
	req := ha.GetStatesMessage{ID: id, Type: ha.TypeGetStates}
	if err := conn.WriteJSON(req); err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.bulkFetch", "write failed", err)
	}
	var resp ha.ResultMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.bulkFetch", "read failed", err)
	}
	if !resp.Success {
		return errs.New(errs.KindTransientUpstream, "mirror.bulkFetch", "upstream returned failure", nil)
	}

	var states []ha.EntityState
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return errs.New(errs.KindCorruption, "mirror.bulkFetch", "malformed get_states result", err)
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
		_ = m.persist(ctx, e)
	}
	return nil
}

func (m *Mirror) subscribe(conn *websocket.Conn) error {
	m.nextID++
	req := ha.SubscribeEventsMessage{ID: m.nextID, Type: ha.TypeSubscribeEvents, EventType: "state_changed"}
	if err := conn.WriteJSON(req); err != nil {
		return errs.New(errs.KindTransientUpstream, "mirror.subscribe", "write failed", err)
	}
	return nil
}

func (m *Mirror) handleFrame(ctx context.Context, raw []byte) error {
	var env struct {
		Type ha.MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Type != ha.TypeEvent {
		return nil
	}

	var evt ha.StateChangedEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return err
	}
	newState := evt.Event.Data.NewState
	if newState == nil {
		return nil
	}

	e := m.entityFromState(*newState, time.Now())
	m.mu.RLock()
	prev, ok := m.entities[e.ID]
	m.mu.RUnlock()
	if ok {
		e.Keywords = prev.Keywords
		e.Aliases = prev.Aliases
		e.AccessCount = prev.AccessCount
		if e.FriendlyName != prev.FriendlyName {
			m.enrich(e)
		}
	} else {
		m.enrich(e)
	}

	m.mu.Lock()
	m.entities[e.ID] = e
	m.mu.Unlock()

	if err := m.persist(ctx, e); err != nil {
		return err
	}
	if m.sessionStore != nil {
		_ = m.sessionStore.Put(ctx, session.State{DeviceID: "mirror:" + e.ID, Mode: session.ModeIdle})
	}
	return nil
}

func (m *Mirror) entityFromState(s ha.EntityState, now time.Time) *Entity {
	friendlyName, _ := s.Attributes["friendly_name"].(string)
	deviceClass, _ := s.Attributes["device_class"].(string)
	area, _ := s.Attributes["area"].(string)
	domain := s.EntityID
	if idx := strings.IndexByte(domain, '.'); idx >= 0 {
		domain = domain[:idx]
	}
	return &Entity{
		ID: s.EntityID, Domain: domain, State: s.State, Attributes: s.Attributes,
		FriendlyName: friendlyName, DeviceClass: deviceClass, Area: area, LastChanged: now,
	}
}

func (m *Mirror) persist(ctx context.Context, e *Entity) error {
	return m.store.UpsertMirroredEntity(ctx, &store.MirroredEntity{
		ID: e.ID, Domain: e.Domain, State: e.State, Attributes: e.Attributes,
		FriendlyName: e.FriendlyName, DeviceClass: e.DeviceClass, Area: e.Area,
		Keywords: e.Keywords, Aliases: e.Aliases, AccessCount: e.AccessCount,
		LastChanged: e.LastChanged.Unix(), UpdatedAt: time.Now().Unix(),
	})
}

// =============================================================================
// Queries (spec §4.3)
// =============================================================================

// GetByID returns an entity and bumps its access counter.
func (m *Mirror) GetByID(id string) (Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return Entity{}, false
	}
	e.AccessCount++
	return *e, true
}

// GetByDomain returns every entity in a domain (e.g. "light").
func (m *Mirror) GetByDomain(domain string) []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entity
	for _, e := range m.entities {
		if e.Domain == domain {
			out = append(out, *e)
		}
	}
	return out
}

// GetByArea returns every entity in an area.
func (m *Mirror) GetByArea(area string) []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entity
	for _, e := range m.entities {
		if strings.EqualFold(e.Area, area) {
			out = append(out, *e)
		}
	}
	return out
}

// GetByDomainAndArea returns every entity matching both filters.
func (m *Mirror) GetByDomainAndArea(domain, area string) []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entity
	for _, e := range m.entities {
		if e.Domain == domain && strings.EqualFold(e.Area, area) {
			out = append(out, *e)
		}
	}
	return out
}

// Search ranks entities by token overlap between the canonicalized query
// and each entity's keywords/aliases/friendly name, optionally scoped to
// domain and/or area. Camera entities are never returned (spec §4.7 privacy note).
func (m *Mirror) Search(text, domain, area string, limit int) []Entity {
	queryTokens := textkit.Tokenize(text)
	if len(queryTokens) == 0 {
		return nil
	}
	querySet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = true
	}

	type scored struct {
		e     Entity
		score int
	}

	m.mu.RLock()
	var candidates []scored
	for _, e := range m.entities {
		if e.Domain == "camera" {
			continue
		}
		if domain != "" && e.Domain != domain {
			continue
		}
		if area != "" && !strings.EqualFold(e.Area, area) {
			continue
		}
		score := overlapScore(querySet, e.Keywords) + overlapScore(querySet, e.Aliases)
		if score > 0 {
			candidates = append(candidates, scored{*e, score})
		}
	}
	m.mu.RUnlock()

	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && candidates[j-1].score < candidates[j].score {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
			j--
		}
	}

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Entity, len(candidates))
	for i, c := range candidates {
		out[i] = c.e
	}
	return out
}

func overlapScore(querySet map[string]bool, tokens []string) int {
	n := 0
	for _, t := range tokens {
		if querySet[strings.ToLower(t)] {
			n++
		}
	}
	return n
}

// All returns every currently mirrored entity, used by the Context
// Injector and Improvement Pipeline for bulk scans.
func (m *Mirror) All() []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, *e)
	}
	return out
}
