// Package store is the persistent Storage Engine (spec §4.1): a single
// embedded SQLite file with write-ahead logging, a full-text inverted
// index, and a vector index, exposing create/get/search/soft_delete per
// entity kind plus hybrid search.
//
// Adapted from the teacher's internal/store/sqlite_store.go and
// models.go: same database/sql + ncruces/go-sqlite3 driver pairing and
// sql.NullString scan discipline, generalized from notes/entities/edges to
// the assistant's Memory/Conversation/MirroredEntity/Signal/Improvement
// entity set (spec §3).
package store

// MemorySource enumerates how a memory came to exist.
type MemorySource string

const (
	SourceExplicit  MemorySource = "explicit"
	SourceExtracted MemorySource = "extracted"
	SourceMeeting   MemorySource = "meeting"
	SourceJournal   MemorySource = "journal"
	SourceMigration MemorySource = "migration"
)

// MemoryKind enumerates the semantic type of a memory.
type MemoryKind string

const (
	MemoryFact       MemoryKind = "fact"
	MemoryPreference MemoryKind = "preference"
	MemoryDecision   MemoryKind = "decision"
	MemoryEvent      MemoryKind = "event"
	MemoryPerson     MemoryKind = "person"
	MemoryProject    MemoryKind = "project"
	MemoryMeeting    MemoryKind = "meeting"
	MemoryJournal    MemoryKind = "journal"
)

// Visibility controls who may read a memory.
type Visibility string

const (
	VisibilityOwner  Visibility = "owner"
	VisibilityFamily Visibility = "family"
	VisibilityAll    Visibility = "all"
)

// RecordStatus is the single status field spec §9 mandates in place of a
// soft-delete/hard-delete mix: the only transition is active -> deleted.
type RecordStatus string

const (
	StatusActive  RecordStatus = "active"
	StatusDeleted RecordStatus = "deleted"
)

// Memory is a semantic fact or summary (spec §3).
type Memory struct {
	ID          string
	Summary     string
	Content     string
	Keywords    []string
	Type        MemoryKind
	Source      MemorySource
	Owner       string
	Visibility  Visibility
	AccessCount int
	LastAccess  int64
	Status      RecordStatus
	CreatedAt   int64
	UpdatedAt   int64
}

// MemoryEmbedding is a fixed-width vector tied 1:1 to an (active-model) memory.
type MemoryEmbedding struct {
	MemoryID  string
	Model     string
	Dimension int
	Vector    []float32
	CreatedAt int64
}

// TurnRole enumerates who produced a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

// Conversation is a session of ordered turns for one device.
type Conversation struct {
	ID        string
	DeviceID  string
	OpenedAt  int64
	ClosedAt  *int64
	CreatedAt int64
	UpdatedAt int64
}

// Turn is a single utterance/response within a Conversation.
type Turn struct {
	ID             string
	ConversationID string
	Role           TurnRole
	Text           string
	Intent         string
	Confidence     float64
	Entities       []string
	LatencyMS      int64
	CreatedAt      int64
}

// MirroredEntity is the storage-side persisted snapshot of a smart-home
// entity mirrored in-memory by internal/mirror (spec §3, §4.3).
type MirroredEntity struct {
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
	LastChanged  int64
	UpdatedAt    int64
}

// SignalKind enumerates the five production-event kinds (spec §3, §4.9).
type SignalKind string

const (
	SignalLLMFallback      SignalKind = "llm_fallback"
	SignalCorrection       SignalKind = "correction"
	SignalEntityFail       SignalKind = "entity_fail"
	SignalLowConfidence    SignalKind = "low_confidence"
	SignalExplicitFeedback SignalKind = "explicit_feedback"
)

// Signal is an immutable production event (spec §3).
type Signal struct {
	ID        string
	Kind      SignalKind
	Utterance string
	Context   map[string]any
	Expected  string
	Actual    string
	Processed bool
	CreatedAt int64
}

// ImprovementType enumerates the kind of data-only change proposed.
type ImprovementType string

const (
	ImprovementAlias    ImprovementType = "alias"
	ImprovementExemplar ImprovementType = "exemplar"
	ImprovementSynonym  ImprovementType = "synonym"
	ImprovementPattern  ImprovementType = "pattern"
	ImprovementTemplate ImprovementType = "template"
)

// ImprovementTier is the risk class of an improvement (spec §3, glossary).
type ImprovementTier int

const (
	Tier1 ImprovementTier = 1
	Tier2 ImprovementTier = 2
	Tier3 ImprovementTier = 3
)

// ImprovementSource enumerates how an improvement was initiated.
type ImprovementSource string

const (
	ImprovementAutomatic      ImprovementSource = "automatic"
	ImprovementUserSuggestion ImprovementSource = "user_suggestion"
	ImprovementVoiceCommand   ImprovementSource = "voice_command"
)

// ImprovementStatus is the state-machine state (spec §4.10).
type ImprovementStatus string

const (
	ImprovementCreated      ImprovementStatus = "created"
	ImprovementShadowTested ImprovementStatus = "shadow_tested"
	ImprovementPending      ImprovementStatus = "pending"
	ImprovementApproved     ImprovementStatus = "approved"
	ImprovementApplied      ImprovementStatus = "applied"
	ImprovementMonitoring   ImprovementStatus = "monitoring"
	ImprovementCompleted    ImprovementStatus = "completed"
	ImprovementRolledBack   ImprovementStatus = "rolled_back"
	ImprovementRejected     ImprovementStatus = "rejected"
)

// ShadowResult captures a shadow test's measurements (spec §4.10).
type ShadowResult struct {
	AccuracyNew     float64
	AccuracyOld     float64
	P95LatencyNewMS float64
	P95LatencyOldMS float64
	NewFailures     []string
	Passed          bool
}

// Improvement is a proposed data-only change (spec §3, §4.10).
type Improvement struct {
	ID                  string
	Type                ImprovementType
	Tier                ImprovementTier
	Target              string
	CurrentValue        string
	ProposedValue       string
	Rationale           string
	ContributingSignals []string
	Source              ImprovementSource
	Shadow              ShadowResult
	Status              ImprovementStatus
	MonitoringStart     *int64
	MonitoringEnd       *int64
	RollbackReason      string
	CreatedAt           int64
	UpdatedAt           int64
}

// ImprovementBackup is the immutable pre-change snapshot owned by an
// Improvement until its monitoring window closes (spec §3).
type ImprovementBackup struct {
	ID            string
	ImprovementID string
	Target        string
	Snapshot      string // JSON-encoded prior value(s)
	CreatedAt     int64
}

// GoldenCase is a labeled utterance that must always classify correctly
// (spec §3, §8).
type GoldenCase struct {
	ID               string
	Utterance        string
	ExpectedIntent   string
	ExpectedEntities []string
	CreatedAt        int64
}

// EntityAlias is a row in the entity_aliases table (spec §6's persisted
// state layout) — an alias the Improvement Pipeline (or mirror enrichment)
// has attached to a mirrored entity.
type EntityAlias struct {
	ID        string
	EntityID  string
	Alias     string
	Source    string // "mirror" | "improvement"
	CreatedAt int64
}

// AuditEntry records an improvement lifecycle event for compliance (spec §6).
type AuditEntry struct {
	ID            string
	ImprovementID string
	Event         string
	Detail        string
	CreatedAt     int64
}

// Page is a deterministic pagination cursor: (score desc, created_at desc, id asc).
type Page struct {
	Limit  int
	Offset int
}

// SearchResult wraps a Memory with its hybrid-search score.
type SearchResult struct {
	Memory Memory
	Score  float64
}
