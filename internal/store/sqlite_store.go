// Package store: SQLiteStore implementation. Adapted from the teacher's
// SQLiteStore (internal/store/sqlite_store.go): the same ncruces/go-sqlite3
// driver, sync.RWMutex guard, and sql.NullString scan discipline, rebuilt
// around the numbered migration runner in migrations.go and generalized
// from notes/entities/edges to memories/conversations/mirrored entities/
// signals/improvements, plus the hybrid full-text + vector search spec §4.1
// requires.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/barnabee/core/internal/errs"
)

// SQLiteStore is the SQLite-backed Storage Engine (spec §4.1).
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens an in-memory store, used by tests.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN opens (creating if absent) a store at dsn and
// brings its schema up to date.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.New(errs.KindCorruption, "store.New", "failed to open database", err)
	}
	db.SetMaxOpenConns(1) // single-writer file; WAL handles readers separately

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, errs.New(errs.KindCorruption, "store.New", "failed to set pragmas", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withBusyRetry retries fn with exponential backoff while sqlite reports
// SQLITE_BUSY, bounding total wait so a writer contention spike degrades
// rather than hangs a request.
func withBusyRetry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func isBusyErr(err error) bool {
	return err != nil && (contains(err.Error(), "SQLITE_BUSY") || contains(err.Error(), "database is locked"))
}

func contains(s, sub string) bool {
	if len(sub) == 0 || len(s) < len(sub) {
		return len(sub) == 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func marshalMap(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var v map[string]any
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

// =============================================================================
// Memory CRUD
// =============================================================================

// CreateMemory inserts a new active memory row.
func (s *SQLiteStore) CreateMemory(ctx context.Context, m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Status == "" {
		m.Status = StatusActive
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (id, summary, content, keywords, kind, source, owner,
				visibility, access_count, last_access, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Summary, m.Content, marshalStrings(m.Keywords), string(m.Type), string(m.Source),
			m.Owner, string(m.Visibility), m.AccessCount, m.LastAccess, string(m.Status), m.CreatedAt, m.UpdatedAt)
		return err
	})
}

// GetMemory fetches a memory by id regardless of status.
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m Memory
	var keywords string
	var owner sql.NullString
	var lastAccess sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, summary, content, keywords, kind, source, owner, visibility,
			access_count, last_access, status, created_at, updated_at
		FROM memories WHERE id = ?
	`, id).Scan(&m.ID, &m.Summary, &m.Content, &keywords, &m.Type, &m.Source, &owner,
		&m.Visibility, &m.AccessCount, &lastAccess, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.GetMemory", "query failed", err)
	}
	m.Keywords = unmarshalStrings(keywords)
	if owner.Valid {
		m.Owner = owner.String
	}
	if lastAccess.Valid {
		m.LastAccess = lastAccess.Int64
	}
	return &m, nil
}

// TouchMemory bumps access_count and last_access, used on retrieval for
// the Context Injector's recency/frequency weighting.
func (s *SQLiteStore) TouchMemory(ctx context.Context, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE memories SET access_count = access_count + 1, last_access = ? WHERE id = ?
		`, at, id)
		return err
	})
}

// SoftDeleteMemory flips status to deleted; it never removes the row, so
// history and pending improvements referencing it remain resolvable.
func (s *SQLiteStore) SoftDeleteMemory(ctx context.Context, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE memories SET status = ?, updated_at = ? WHERE id = ?
		`, string(StatusDeleted), at, id)
		return err
	})
}

// ListMemoriesByOwner returns active memories for an owner, newest first.
func (s *SQLiteStore) ListMemoriesByOwner(ctx context.Context, owner string, page Page) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, summary, content, keywords, kind, source, owner, visibility,
			access_count, last_access, status, created_at, updated_at
		FROM memories WHERE owner = ? AND status = 'active'
		ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?
	`, owner, page.Limit, page.Offset)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.ListMemoriesByOwner", "query failed", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var keywords string
		var ownerCol sql.NullString
		var lastAccess sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Summary, &m.Content, &keywords, &m.Type, &m.Source,
			&ownerCol, &m.Visibility, &m.AccessCount, &lastAccess, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Keywords = unmarshalStrings(keywords)
		if ownerCol.Valid {
			m.Owner = ownerCol.String
		}
		if lastAccess.Valid {
			m.LastAccess = lastAccess.Int64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMemoryEmbedding upserts the vector for one memory/model pair and
// mirrors it into the vec0 virtual table for nearest-neighbor search.
func (s *SQLiteStore) PutMemoryEmbedding(ctx context.Context, e MemoryEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		blob := float32sToBlob(e.Vector)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_embeddings (memory_id, model, dimension, vector, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(memory_id, model) DO UPDATE SET vector = excluded.vector, dimension = excluded.dimension, created_at = excluded.created_at
		`, e.MemoryID, e.Model, e.Dimension, blob, e.CreatedAt); err != nil {
			return err
		}

		var rowid int64
		if err := tx.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = ?`, e.MemoryID).Scan(&rowid); err != nil {
			return err
		}

		vecJSON := float32sToJSON(e.Vector)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_vec (memory_rowid, embedding) VALUES (?, ?)
			ON CONFLICT(memory_rowid) DO UPDATE SET embedding = excluded.embedding
		`, rowid, vecJSON); err != nil {
			return err
		}

		return tx.Commit()
	})
}

func float32sToBlob(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		b[i*4] = byte(bits)
		b[i*4+1] = byte(bits >> 8)
		b[i*4+2] = byte(bits >> 16)
		b[i*4+3] = byte(bits >> 24)
	}
	return b
}

func float32sToJSON(v []float32) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// HybridSearch blends cosine similarity over memory_vec with normalized
// BM25 from memories_fts, per spec §4.1: score = wAlpha*cos_sim +
// wBeta*bm25_norm. bm25(memories_fts) returns a negative-is-better value
// typically in [-25, 0]; it is clamped and rescaled to [0, 1] before blending.
func (s *SQLiteStore) HybridSearch(ctx context.Context, queryText string, queryVector []float32, wAlpha, wBeta float64, page Page) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vecJSON := float32sToJSON(queryVector)

	// No LIMIT/OFFSET here: vec_scores and fts_scores are each already a
	// bounded candidate set (nearest 200 by vector distance, plus whatever
	// matches FTS5), but their union must be fully scored and sorted by
	// the blended score before pagination is applied, or a true top-k
	// result outside the arbitrary recency window would be dropped before
	// it was ever ranked.
	rows, err := s.db.QueryContext(ctx, `
		WITH vec_scores AS (
			SELECT memory_rowid AS rowid, 1.0 - distance AS cos_sim
			FROM memory_vec
			WHERE embedding MATCH ? AND k = 200
		),
		fts_scores AS (
			SELECT rowid, bm25(memories_fts) AS raw_bm25
			FROM memories_fts WHERE memories_fts MATCH ?
		)
		SELECT m.id, m.summary, m.content, m.keywords, m.kind, m.source, m.owner,
			m.visibility, m.access_count, m.last_access, m.status, m.created_at, m.updated_at,
			COALESCE(v.cos_sim, 0.0) AS cos_sim,
			COALESCE(f.raw_bm25, 0.0) AS raw_bm25
		FROM memories m
		LEFT JOIN vec_scores v ON v.rowid = m.rowid
		LEFT JOIN fts_scores f ON f.rowid = m.rowid
		WHERE m.status = 'active' AND (v.rowid IS NOT NULL OR f.rowid IS NOT NULL)
	`, vecJSON, fts5Query(queryText))
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.HybridSearch", "query failed", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var m Memory
		var keywords string
		var owner sql.NullString
		var lastAccess sql.NullInt64
		var cosSim, rawBM25 float64
		if err := rows.Scan(&m.ID, &m.Summary, &m.Content, &keywords, &m.Type, &m.Source, &owner,
			&m.Visibility, &m.AccessCount, &lastAccess, &m.Status, &m.CreatedAt, &m.UpdatedAt,
			&cosSim, &rawBM25); err != nil {
			return nil, err
		}
		m.Keywords = unmarshalStrings(keywords)
		if owner.Valid {
			m.Owner = owner.String
		}
		if lastAccess.Valid {
			m.LastAccess = lastAccess.Int64
		}
		bm25Norm := normalizeBM25(rawBM25)
		score := wAlpha*cosSim + wBeta*bm25Norm
		out = append(out, SearchResult{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortResultsByScoreDesc(out)
	return paginate(out, page), nil
}

// paginate slices an already-sorted result set by page, after scoring and
// sorting have run over the full candidate set.
func paginate(results []SearchResult, page Page) []SearchResult {
	if page.Offset >= len(results) {
		return []SearchResult{}
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(results) {
		end = len(results)
	}
	return results[page.Offset:end]
}

// fts5Query escapes a free-text query into an OR-of-terms FTS5 match
// expression so punctuation in user utterances cannot break the syntax.
func fts5Query(text string) string {
	words := splitOnSpace(text)
	if len(words) == 0 {
		return `""`
	}
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " OR "
		}
		out += `"` + escapeFTSQuote(w) + `"`
	}
	return out
}

func splitOnSpace(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

func escapeFTSQuote(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"', '"')
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// normalizeBM25 clamps SQLite's bm25() output (negative, unbounded below)
// into [0, 1] where 1 is the best match, per spec §4.1's search formula.
func normalizeBM25(raw float64) float64 {
	const floor = -25.0
	if raw < floor {
		raw = floor
	}
	if raw > 0 {
		raw = 0
	}
	return raw / floor
}

func sortResultsByScoreDesc(r []SearchResult) {
	for i := 1; i < len(r); i++ {
		j := i
		for j > 0 && (r[j-1].Score < r[j].Score ||
			r[j-1].Score == r[j].Score && (r[j-1].Memory.CreatedAt < r[j].Memory.CreatedAt ||
				r[j-1].Memory.CreatedAt == r[j].Memory.CreatedAt && r[j-1].Memory.ID > r[j].Memory.ID)) {
			r[j-1], r[j] = r[j], r[j-1]
			j--
		}
	}
}

// =============================================================================
// Conversation / Turn CRUD
// =============================================================================

// CreateConversation opens a new conversation for a device.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (id, device_id, opened_at, closed_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, c.DeviceID, c.OpenedAt, c.ClosedAt, c.CreatedAt, c.UpdatedAt)
		return err
	})
}

// CloseConversation stamps closed_at, ending the session.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE conversations SET closed_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
		return err
	})
}

// AppendTurn records one turn, in the order it occurred.
func (s *SQLiteStore) AppendTurn(ctx context.Context, t *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO turns (id, conversation_id, role, text, intent, confidence, entities, latency_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ConversationID, string(t.Role), t.Text, t.Intent, t.Confidence,
			marshalStrings(t.Entities), t.LatencyMS, t.CreatedAt)
		return err
	})
}

// ListTurns returns a conversation's turns in chronological order.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, text, intent, confidence, entities, latency_ms, created_at
		FROM turns WHERE conversation_id = ? ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.ListTurns", "query failed", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var entities string
		var intent sql.NullString
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Text, &intent, &t.Confidence,
			&entities, &t.LatencyMS, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Entities = unmarshalStrings(entities)
		if intent.Valid {
			t.Intent = intent.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// Mirrored entity + alias CRUD
// =============================================================================

// UpsertMirroredEntity writes the storage-side snapshot of a mirrored
// smart-home entity, used for cold-start recovery of the in-memory mirror.
func (s *SQLiteStore) UpsertMirroredEntity(ctx context.Context, e *MirroredEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO mirrored_entities (id, domain, state, attributes, friendly_name, device_class,
				area, keywords, aliases, access_count, last_changed, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				domain = excluded.domain, state = excluded.state, attributes = excluded.attributes,
				friendly_name = excluded.friendly_name, device_class = excluded.device_class,
				area = excluded.area, keywords = excluded.keywords, aliases = excluded.aliases,
				last_changed = excluded.last_changed, updated_at = excluded.updated_at
		`, e.ID, e.Domain, e.State, marshalMap(e.Attributes), e.FriendlyName, e.DeviceClass,
			e.Area, marshalStrings(e.Keywords), marshalStrings(e.Aliases), e.AccessCount, e.LastChanged, e.UpdatedAt)
		return err
	})
}

// ListMirroredEntities returns every known mirrored entity, for mirror
// warm start.
func (s *SQLiteStore) ListMirroredEntities(ctx context.Context) ([]MirroredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, state, attributes, friendly_name, device_class, area, keywords,
			aliases, access_count, last_changed, updated_at FROM mirrored_entities
	`)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.ListMirroredEntities", "query failed", err)
	}
	defer rows.Close()

	var out []MirroredEntity
	for rows.Next() {
		var e MirroredEntity
		var attrs, keywords, aliases string
		if err := rows.Scan(&e.ID, &e.Domain, &e.State, &attrs, &e.FriendlyName, &e.DeviceClass,
			&e.Area, &keywords, &aliases, &e.AccessCount, &e.LastChanged, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Attributes = unmarshalMap(attrs)
		e.Keywords = unmarshalStrings(keywords)
		e.Aliases = unmarshalStrings(aliases)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddEntityAlias records a learned alias; duplicates are ignored.
func (s *SQLiteStore) AddEntityAlias(ctx context.Context, a EntityAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_aliases (id, entity_id, alias, source, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, a.ID, a.EntityID, a.Alias, a.Source, a.CreatedAt)
		return err
	})
}

// RemoveEntityAlias deletes a learned alias, used to undo a rolled-back
// improvement (spec §4.10).
func (s *SQLiteStore) RemoveEntityAlias(ctx context.Context, entityID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM entity_aliases WHERE entity_id = ? AND alias = ?`, entityID, alias)
		return err
	})
}

// ListEntityAliases returns all aliases attached to an entity.
func (s *SQLiteStore) ListEntityAliases(ctx context.Context, entityID string) ([]EntityAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, alias, source, created_at FROM entity_aliases WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.ListEntityAliases", "query failed", err)
	}
	defer rows.Close()

	var out []EntityAlias
	for rows.Next() {
		var a EntityAlias
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Alias, &a.Source, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// Signal CRUD
// =============================================================================

// RecordSignal appends an immutable production event.
func (s *SQLiteStore) RecordSignal(ctx context.Context, sig *Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO signals (id, kind, utterance, context, expected, actual, processed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sig.ID, string(sig.Kind), sig.Utterance, marshalMap(sig.Context), sig.Expected, sig.Actual,
			boolToInt(sig.Processed), sig.CreatedAt)
		return err
	})
}

// UnprocessedSignals returns signals the improvement pipeline has not yet
// clustered, oldest first.
func (s *SQLiteStore) UnprocessedSignals(ctx context.Context, limit int) ([]Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, utterance, context, expected, actual, processed, created_at
		FROM signals WHERE processed = 0 ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.UnprocessedSignals", "query failed", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var sg Signal
		var ctxJSON string
		var processed int
		if err := rows.Scan(&sg.ID, &sg.Kind, &sg.Utterance, &ctxJSON, &sg.Expected, &sg.Actual,
			&processed, &sg.CreatedAt); err != nil {
			return nil, err
		}
		sg.Context = unmarshalMap(ctxJSON)
		sg.Processed = processed != 0
		out = append(out, sg)
	}
	return out, rows.Err()
}

// MarkSignalsProcessed flips processed=1 for a batch of signal ids once
// they have contributed to a cluster/improvement.
func (s *SQLiteStore) MarkSignalsProcessed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE signals SET processed = 1 WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// =============================================================================
// Improvement / backup / audit CRUD
// =============================================================================

// CreateImprovement inserts a new improvement in the "created" state.
func (s *SQLiteStore) CreateImprovement(ctx context.Context, imp *Improvement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO improvements (id, type, tier, target, current_value, proposed_value,
				rationale, contributing_signals, source, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, imp.ID, string(imp.Type), int(imp.Tier), imp.Target, imp.CurrentValue, imp.ProposedValue,
			imp.Rationale, marshalStrings(imp.ContributingSignals), string(imp.Source),
			string(ImprovementCreated), imp.CreatedAt, imp.UpdatedAt)
		return err
	})
}

// UpdateImprovementShadow records a shadow test's outcome and advances status.
func (s *SQLiteStore) UpdateImprovementShadow(ctx context.Context, id string, r ShadowResult, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := ImprovementRejected
	if r.Passed {
		status = ImprovementShadowTested
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE improvements SET shadow_accuracy_new = ?, shadow_accuracy_old = ?,
				shadow_p95_new_ms = ?, shadow_p95_old_ms = ?, shadow_new_failures = ?,
				shadow_passed = ?, status = ?, updated_at = ?
			WHERE id = ?
		`, r.AccuracyNew, r.AccuracyOld, r.P95LatencyNewMS, r.P95LatencyOldMS,
			marshalStrings(r.NewFailures), boolToInt(r.Passed), string(status), at, id)
		return err
	})
}

// SetImprovementStatus transitions an improvement to a new status.
func (s *SQLiteStore) SetImprovementStatus(ctx context.Context, id string, status ImprovementStatus, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE improvements SET status = ?, updated_at = ? WHERE id = ?`, string(status), at, id)
		return err
	})
}

// StartMonitoring records the monitoring window bounds once an
// improvement is applied.
func (s *SQLiteStore) StartMonitoring(ctx context.Context, id string, start, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE improvements SET status = ?, monitoring_start = ?, monitoring_end = ?, updated_at = ?
			WHERE id = ?
		`, string(ImprovementMonitoring), start, end, start, id)
		return err
	})
}

// RollbackImprovement marks an improvement rolled back with a reason.
func (s *SQLiteStore) RollbackImprovement(ctx context.Context, id, reason string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE improvements SET status = ?, rollback_reason = ?, updated_at = ? WHERE id = ?
		`, string(ImprovementRolledBack), reason, at, id)
		return err
	})
}

// GetImprovement fetches one improvement by id.
func (s *SQLiteStore) GetImprovement(ctx context.Context, id string) (*Improvement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var imp Improvement
	var contributing, newFailures sql.NullString
	var currentValue, rationale sql.NullString
	var shadowAccNew, shadowAccOld, shadowP95New, shadowP95Old sql.NullFloat64
	var shadowPassed sql.NullInt64
	var monitoringStart, monitoringEnd sql.NullInt64
	var rollbackReason sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, tier, target, current_value, proposed_value, rationale,
			contributing_signals, source, shadow_accuracy_new, shadow_accuracy_old,
			shadow_p95_new_ms, shadow_p95_old_ms, shadow_new_failures, shadow_passed,
			status, monitoring_start, monitoring_end, rollback_reason, created_at, updated_at
		FROM improvements WHERE id = ?
	`, id).Scan(&imp.ID, &imp.Type, &imp.Tier, &imp.Target, &currentValue, &imp.ProposedValue,
		&rationale, &contributing, &imp.Source, &shadowAccNew, &shadowAccOld, &shadowP95New,
		&shadowP95Old, &newFailures, &shadowPassed, &imp.Status, &monitoringStart, &monitoringEnd,
		&rollbackReason, &imp.CreatedAt, &imp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.GetImprovement", "query failed", err)
	}

	if currentValue.Valid {
		imp.CurrentValue = currentValue.String
	}
	if rationale.Valid {
		imp.Rationale = rationale.String
	}
	imp.ContributingSignals = unmarshalStrings(contributing.String)
	imp.Shadow = ShadowResult{
		AccuracyNew:     shadowAccNew.Float64,
		AccuracyOld:     shadowAccOld.Float64,
		P95LatencyNewMS: shadowP95New.Float64,
		P95LatencyOldMS: shadowP95Old.Float64,
		NewFailures:     unmarshalStrings(newFailures.String),
		Passed:          shadowPassed.Int64 != 0,
	}
	if monitoringStart.Valid {
		imp.MonitoringStart = &monitoringStart.Int64
	}
	if monitoringEnd.Valid {
		imp.MonitoringEnd = &monitoringEnd.Int64
	}
	if rollbackReason.Valid {
		imp.RollbackReason = rollbackReason.String
	}
	return &imp, nil
}

// ListImprovementsByStatus returns improvements in a given state, oldest first.
func (s *SQLiteStore) ListImprovementsByStatus(ctx context.Context, status ImprovementStatus) ([]Improvement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM improvements WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.ListImprovementsByStatus", "query failed", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]Improvement, 0, len(ids))
	for _, id := range ids {
		imp, err := s.GetImprovement(ctx, id)
		if err != nil {
			return nil, err
		}
		if imp != nil {
			out = append(out, *imp)
		}
	}
	return out, nil
}

// CreateImprovementBackup stores the pre-change snapshot an improvement
// owns until its monitoring window closes.
func (s *SQLiteStore) CreateImprovementBackup(ctx context.Context, b *ImprovementBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO improvement_backups (id, improvement_id, target, snapshot, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, b.ID, b.ImprovementID, b.Target, b.Snapshot, b.CreatedAt)
		return err
	})
}

// GetImprovementBackup fetches the backup for an improvement, if any.
func (s *SQLiteStore) GetImprovementBackup(ctx context.Context, improvementID string) (*ImprovementBackup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b ImprovementBackup
	err := s.db.QueryRowContext(ctx, `
		SELECT id, improvement_id, target, snapshot, created_at
		FROM improvement_backups WHERE improvement_id = ?
	`, improvementID).Scan(&b.ID, &b.ImprovementID, &b.Target, &b.Snapshot, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.GetImprovementBackup", "query failed", err)
	}
	return &b, nil
}

// AppendAudit records one lifecycle event for an improvement.
func (s *SQLiteStore) AppendAudit(ctx context.Context, a AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_entries (id, improvement_id, event, detail, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, a.ID, a.ImprovementID, a.Event, a.Detail, a.CreatedAt)
		return err
	})
}

// =============================================================================
// Golden cases
// =============================================================================

// PutGoldenCase upserts a labeled utterance the cascade must always classify
// correctly before an improvement can be marked applied.
func (s *SQLiteStore) PutGoldenCase(ctx context.Context, g *GoldenCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO golden_cases (id, utterance, expected_intent, expected_entities, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET utterance = excluded.utterance,
				expected_intent = excluded.expected_intent, expected_entities = excluded.expected_entities
		`, g.ID, g.Utterance, g.ExpectedIntent, marshalStrings(g.ExpectedEntities), g.CreatedAt)
		return err
	})
}

// ListGoldenCases returns the full golden dataset.
func (s *SQLiteStore) ListGoldenCases(ctx context.Context) ([]GoldenCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, utterance, expected_intent, expected_entities, created_at FROM golden_cases`)
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "store.ListGoldenCases", "query failed", err)
	}
	defer rows.Close()

	var out []GoldenCase
	for rows.Next() {
		var g GoldenCase
		var entities string
		if err := rows.Scan(&g.ID, &g.Utterance, &g.ExpectedIntent, &entities, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.ExpectedEntities = unmarshalStrings(entities)
		out = append(out, g)
	}
	return out, rows.Err()
}

// CountGoldenCases returns the golden dataset size, which golden.Ingest
// compares against the minimum-coverage target (spec §8).
func (s *SQLiteStore) CountGoldenCases(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM golden_cases`).Scan(&n)
	if err != nil {
		return 0, errs.New(errs.KindTransientUpstream, "store.CountGoldenCases", "query failed", err)
	}
	return n, nil
}
