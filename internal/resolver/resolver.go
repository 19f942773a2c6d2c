// Package resolver implements the two-phase Entity Resolver (spec §4.6):
// a fast exact/fuzzy match against the Entity Mirror's keyword and alias
// index, falling back to an LLM-backed intelligent resolution when no
// candidate clears the threshold.
//
// Grounded on the teacher's pkg/scanner/resolver/resolver.go: its
// NarrativeContext recency stack ("most recent entity compatible with
// this pronoun's gender") is generalized here into "most recently used
// entity in this area", and its fuzzy-ranking role (originally
// github.com/kittclouds/gokitt/pkg/resorank, not present in the
// retrieved pack) is filled by github.com/agext/levenshtein ratio
// scoring instead.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/llm"
	"github.com/barnabee/core/internal/store"
	"github.com/barnabee/core/internal/textkit"
)

// EntityMirror is the narrow read surface the resolver needs from
// *mirror.Mirror, kept as an interface so tests can supply a fake.
type EntityMirror interface {
	GetByID(id string) (Candidate, bool)
	GetByDomain(domain string) []Candidate
	GetByArea(area string) []Candidate
	GetByDomainAndArea(domain, area string) []Candidate
}

// Candidate is the subset of mirror.Entity fields the resolver scores
// against.
type Candidate struct {
	ID           string
	FriendlyName string
	Area         string
	Domain       string
	Keywords     []string
	Aliases      []string
	LastChanged  time.Time
}

// Resolved is the resolver's never-fail result.
type Resolved struct {
	EntityID      string
	FriendlyName  string
	Confidence    float64
	Guessed       bool
	SuggestedAlias string
}

// ImprovementRecorder is the narrow store surface for submitting
// suggested-alias improvements.
type ImprovementRecorder interface {
	CreateImprovement(ctx context.Context, imp *store.Improvement) error
	RecordSignal(ctx context.Context, sig *store.Signal) error
}

// Resolver scopes candidates by intent domain and speaker area, then
// resolves a mention to a concrete entity identifier.
type Resolver struct {
	mirror  EntityMirror
	chat    llm.ChatProvider
	store   ImprovementRecorder
	mu      sync.Mutex
	recent  map[string]string // area -> most recently used entity ID
	fuzzyThreshold float64
}

// New builds a Resolver. fuzzyThreshold is spec §4.6's Phase-A cutoff (0.85).
func New(mirror EntityMirror, chat llm.ChatProvider, store ImprovementRecorder, fuzzyThreshold float64) *Resolver {
	return &Resolver{mirror: mirror, chat: chat, store: store, recent: make(map[string]string), fuzzyThreshold: fuzzyThreshold}
}

// ObserveUse records that entityID was the target of a successful
// command, so future "most recently used in this area" fallbacks have
// something to return.
func (r *Resolver) ObserveUse(area, entityID string) {
	if area == "" {
		return
	}
	r.mu.Lock()
	r.recent[area] = entityID
	r.mu.Unlock()
}

func (r *Resolver) mostRecentInArea(area string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recent[area]
}

// Resolve implements spec §4.6's two phases plus the never-fail
// contract: a concrete entity ID is returned whenever any candidate
// exists for domain, even if every match is a low-confidence guess.
func (r *Resolver) Resolve(ctx context.Context, mention, intent, domain, speakerArea string) (Resolved, error) {
	candidates := r.candidatesFor(domain, speakerArea)
	if len(candidates) == 0 {
		return Resolved{}, errs.New(errs.KindValidation, "resolver.Resolve", "no entities exist for domain "+domain, nil)
	}

	if best, score, ok := bestMatch(mention, candidates); ok && score >= r.fuzzyThreshold {
		// Clean Phase-A match: no signal recorded. Nightly clustering and
		// the live monitor's error-rate/correction-rate triggers key off
		// store.SignalEntityFail, so a correct resolution must not emit one.
		return Resolved{EntityID: best.ID, FriendlyName: best.FriendlyName, Confidence: score}, nil
	}

	// Phase B: consult the LLM with the near-miss candidates for context.
	resolved, err := r.resolvePhaseB(ctx, mention, intent, speakerArea, candidates)
	if err == nil && r.mirrorHas(resolved.EntityID) {
		r.recordSignal(ctx, store.SignalEntityFail, mention, resolved.EntityID, true)
		if resolved.SuggestedAlias != "" {
			r.submitAliasImprovement(ctx, resolved.EntityID, resolved.SuggestedAlias)
		}
		return resolved, nil
	}

	// Never-fail fallback: top Phase-A candidate, or most recent in area.
	fallback := r.mostRecentInArea(speakerArea)
	if fallback == "" {
		if best, _, ok := bestMatch(mention, candidates); ok {
			fallback = best.ID
		} else {
			fallback = candidates[0].ID
		}
	}
	r.recordSignal(ctx, store.SignalEntityFail, mention, fallback, true)
	return Resolved{EntityID: fallback, Guessed: true, Confidence: 0.3}, nil
}

func (r *Resolver) candidatesFor(domain, speakerArea string) []Candidate {
	if domain != "" && speakerArea != "" {
		if c := r.mirror.GetByDomainAndArea(domain, speakerArea); len(c) > 0 {
			return c
		}
	}
	if domain != "" {
		return r.mirror.GetByDomain(domain)
	}
	return r.mirror.GetByArea(speakerArea)
}

func (r *Resolver) mirrorHas(id string) bool {
	if id == "" {
		return false
	}
	_, ok := r.mirror.GetByID(id)
	return ok
}

// bestMatch scores mention against each candidate's friendly name,
// aliases, and keywords, returning the highest-scoring candidate.
func bestMatch(mention string, candidates []Candidate) (Candidate, float64, bool) {
	canonMention := textkit.Canonicalize(mention)
	if canonMention == "" || len(candidates) == 0 {
		return Candidate{}, 0, false
	}

	type scored struct {
		c     Candidate
		score float64
	}
	var scores []scored
	for _, c := range candidates {
		best := 0.0
		for _, surface := range append([]string{c.FriendlyName}, c.Aliases...) {
			if s := fuzzyRatio(canonMention, textkit.Canonicalize(surface)); s > best {
				best = s
			}
		}
		for _, kw := range c.Keywords {
			if strings.Contains(canonMention, kw) && len(kw) > 0 {
				if 0.6 > best {
					best = 0.6
				}
			}
		}
		scores = append(scores, scored{c: c, score: best})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	return scores[0].c, scores[0].score, true
}

// fuzzyRatio converts Levenshtein edit distance into a [0,1] similarity
// ratio, exact match scoring 1.0.
func fuzzyRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	dist := levenshtein.Distance(a, b, nil)
	ratio := 1 - float64(dist)/float64(maxLen)
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

type phaseBResponse struct {
	EntityID       string  `json:"entity_id"`
	FriendlyName   string  `json:"friendly_name"`
	Confidence     float64 `json:"confidence"`
	SuggestedAlias string  `json:"suggested_alias"`
}

var phaseBSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entity_id":       map[string]any{"type": "string"},
		"friendly_name":   map[string]any{"type": "string"},
		"confidence":      map[string]any{"type": "number"},
		"suggested_alias": map[string]any{"type": "string"},
	},
	"required":             []string{"entity_id", "friendly_name", "confidence", "suggested_alias"},
	"additionalProperties": false,
}

func (r *Resolver) resolvePhaseB(ctx context.Context, mention, intent, speakerArea string, candidates []Candidate) (Resolved, error) {
	if r.chat == nil {
		return Resolved{}, errs.New(errs.KindTransientUpstream, "resolver.resolvePhaseB", "no LLM provider configured", nil)
	}

	var sb strings.Builder
	sb.WriteString("Utterance mention: \"" + mention + "\"\n")
	sb.WriteString("Intent: " + intent + "\n")
	sb.WriteString("Speaker area: " + speakerArea + "\n")
	sb.WriteString("Candidate entities:\n")
	for _, c := range candidates {
		sb.WriteString("- " + c.ID + " (" + c.FriendlyName + ", area=" + c.Area + ")\n")
	}

	system := "You resolve a smart-home voice command's mentioned device to one of the listed candidate entity IDs. " +
		"If the mention suggests an alias the user is likely to reuse, propose it as suggested_alias, else return an empty string."

	var resp phaseBResponse
	if err := r.chat.CompleteJSON(ctx, system, sb.String(), "entity_resolution", phaseBSchema, &resp); err != nil {
		return Resolved{}, err
	}
	return Resolved{
		EntityID:       resp.EntityID,
		FriendlyName:   resp.FriendlyName,
		Confidence:     resp.Confidence,
		SuggestedAlias: resp.SuggestedAlias,
	}, nil
}

func (r *Resolver) submitAliasImprovement(ctx context.Context, entityID, alias string) {
	if r.store == nil {
		return
	}
	imp := &store.Improvement{
		ID:            uuid.NewString(),
		Type:          store.ImprovementAlias,
		Tier:          store.Tier1,
		Target:        entityID,
		ProposedValue: alias,
		Rationale:     "entity resolution near-miss surfaced a likely alias via Phase-B LLM resolution",
		Source:        store.ImprovementUserSuggestion,
		Status:        store.ImprovementCreated,
		CreatedAt:     time.Now().Unix(),
		UpdatedAt:     time.Now().Unix(),
	}
	_ = r.store.CreateImprovement(ctx, imp)
}

func (r *Resolver) recordSignal(ctx context.Context, kind store.SignalKind, mention, resolvedID string, guessed bool) {
	if r.store == nil {
		return
	}
	sig := &store.Signal{
		ID:        uuid.NewString(),
		Kind:      kind,
		Utterance: mention,
		Context:   map[string]any{"resolved_entity_id": resolvedID, "guessed": guessed},
		CreatedAt: time.Now().Unix(),
	}
	_ = r.store.RecordSignal(ctx, sig)
}
