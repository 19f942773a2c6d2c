package store

import (
	"database/sql"

	"github.com/barnabee/core/internal/errs"
)

// migration is one idempotent forward step, numbered and applied in order.
// Adapted from the teacher's single const schema string: generalized into
// a numbered sequence so a long-lived installation can be upgraded without
// dropping data, per spec §9's "golang-migrate is schema-driver incompatible
// with our wazero-based connection" decision (documented in DESIGN.md).
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "core_tables", schemaV1},
	{2, "fts_and_vec", schemaV2},
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    summary TEXT NOT NULL,
    content TEXT NOT NULL,
    keywords TEXT,
    kind TEXT NOT NULL,
    source TEXT NOT NULL,
    owner TEXT,
    visibility TEXT NOT NULL DEFAULT 'owner',
    access_count INTEGER DEFAULT 0,
    last_access INTEGER,
    status TEXT NOT NULL DEFAULT 'active',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);

CREATE TABLE IF NOT EXISTS memory_embeddings (
    memory_id TEXT NOT NULL,
    model TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    vector BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (memory_id, model)
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    opened_at INTEGER NOT NULL,
    closed_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_device ON conversations(device_id);

CREATE TABLE IF NOT EXISTS turns (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    intent TEXT,
    confidence REAL,
    entities TEXT,
    latency_ms INTEGER,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS mirrored_entities (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    state TEXT,
    attributes TEXT,
    friendly_name TEXT,
    device_class TEXT,
    area TEXT,
    keywords TEXT,
    aliases TEXT,
    access_count INTEGER DEFAULT 0,
    last_changed INTEGER,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mirrored_entities_domain ON mirrored_entities(domain);
CREATE INDEX IF NOT EXISTS idx_mirrored_entities_area ON mirrored_entities(area);

CREATE TABLE IF NOT EXISTS entity_aliases (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    alias TEXT NOT NULL,
    source TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_aliases_entity ON entity_aliases(entity_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_aliases_unique ON entity_aliases(entity_id, alias);

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    utterance TEXT NOT NULL,
    context TEXT,
    expected TEXT,
    actual TEXT,
    processed INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_processed ON signals(processed);
CREATE INDEX IF NOT EXISTS idx_signals_kind ON signals(kind);

CREATE TABLE IF NOT EXISTS improvements (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    tier INTEGER NOT NULL,
    target TEXT NOT NULL,
    current_value TEXT,
    proposed_value TEXT NOT NULL,
    rationale TEXT,
    contributing_signals TEXT,
    source TEXT NOT NULL,
    shadow_accuracy_new REAL,
    shadow_accuracy_old REAL,
    shadow_p95_new_ms REAL,
    shadow_p95_old_ms REAL,
    shadow_new_failures TEXT,
    shadow_passed INTEGER,
    status TEXT NOT NULL DEFAULT 'created',
    monitoring_start INTEGER,
    monitoring_end INTEGER,
    rollback_reason TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_improvements_status ON improvements(status);

CREATE TABLE IF NOT EXISTS improvement_backups (
    id TEXT PRIMARY KEY,
    improvement_id TEXT NOT NULL,
    target TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_improvement_backups_improvement ON improvement_backups(improvement_id);

CREATE TABLE IF NOT EXISTS golden_cases (
    id TEXT PRIMARY KEY,
    utterance TEXT NOT NULL,
    expected_intent TEXT NOT NULL,
    expected_entities TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    improvement_id TEXT NOT NULL,
    event TEXT NOT NULL,
    detail TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_improvement ON audit_entries(improvement_id);
`

const schemaV2 = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    id UNINDEXED,
    summary,
    content,
    keywords,
    content='memories',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, id, summary, content, keywords)
    VALUES (new.rowid, new.id, new.summary, new.content, new.keywords);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, id, summary, content, keywords)
    VALUES ('delete', old.rowid, old.id, old.summary, old.content, old.keywords);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, id, summary, content, keywords)
    VALUES ('delete', old.rowid, old.id, old.summary, old.content, old.keywords);
    INSERT INTO memories_fts(rowid, id, summary, content, keywords)
    VALUES (new.rowid, new.id, new.summary, new.content, new.keywords);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
    memory_rowid INTEGER PRIMARY KEY,
    embedding FLOAT[1536] distance_metric=cosine
);
`

// migrate applies every migration newer than the schema_version table's
// current value, inside one transaction per step.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return errs.New(errs.KindCorruption, "store.migrate", "cannot create schema_version table", err)
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return errs.New(errs.KindCorruption, "store.migrate", "cannot read schema_version", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errs.New(errs.KindCorruption, "store.migrate", "cannot begin migration transaction", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return errs.New(errs.KindCorruption, "store.migrate", "migration "+m.name+" failed", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return errs.New(errs.KindCorruption, "store.migrate", "cannot record schema_version", err)
		}
		if err := tx.Commit(); err != nil {
			return errs.New(errs.KindCorruption, "store.migrate", "cannot commit migration", err)
		}
	}
	return nil
}
