// Package cascade implements the four-stage intent classifier (spec §4.5):
// a curated fast-pattern table, embedding-centroid similarity, a local
// fine-tuned classifier, and an LLM fallback, executed sequentially with
// latency-budgeted early exit.
//
// Each stage returns an explicit Decided/Continue result rather than
// using an error or panic for "didn't meet threshold" — replacing the
// exceptions-as-control-flow pattern spec §9 flags for removal.
package cascade

import (
	"context"
	"time"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/normalizer"
	"github.com/barnabee/core/internal/store"
)

// Stage identifies which of the four stages produced a result.
type Stage string

const (
	StageFastPattern Stage = "fast_pattern"
	StageEmbedding   Stage = "embedding"
	StageLocalModel  Stage = "local_model"
	StageLLM         Stage = "llm_fallback"
)

// Entities is the slot extraction attached to a classification result
// (spec §4.5's output contract).
type Entities struct {
	Devices   []string       `json:"devices,omitempty"`
	Locations []string       `json:"locations,omitempty"`
	Times     []string       `json:"times,omitempty"`
	Durations []string       `json:"durations,omitempty"`
	People    []string       `json:"people,omitempty"`
	RawSlots  map[string]any `json:"raw_slots,omitempty"`
}

// Result is the cascade's output contract (spec §4.5).
type Result struct {
	Intent         string
	Confidence     float64
	Stage          Stage
	Entities       Entities
	RawText        string
	NormalizedText string
	LatencyMS      int64
}

// decision is a stage's internal sum-type result: either Decided with a
// concrete (intent, confidence), or Continue to fall through.
type decision struct {
	decided    bool
	intent     string
	confidence float64
}

func decided(intent string, confidence float64) decision {
	return decision{decided: true, intent: intent, confidence: confidence}
}

func cont() decision {
	return decision{decided: false}
}

// Thresholds holds the per-stage cutoffs from the configuration surface
// (spec §6).
type Thresholds struct {
	Fast           float64
	Embedding      float64
	Local          float64
	LowConfidence  float64
	EmbeddingTieEps float64
	LocalTieEps     float64
}

// DefaultThresholds matches spec §4.5's table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Fast:            0.95,
		Embedding:       0.85,
		Local:           0.80,
		LowConfidence:   0.70,
		EmbeddingTieEps: 0.02,
		LocalTieEps:     0.05,
	}
}

// SignalRecorder is the narrow interface the cascade uses to emit signals
// (spec §4.9), satisfied by *store.SQLiteStore.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, sig *store.Signal) error
}

// Cascade sequences the four classification stages.
type Cascade struct {
	norm       *normalizer.Normalizer
	stage1     *Stage1
	stage2     *Stage2
	stage3     *Stage3
	stage4     *Stage4
	thresholds Thresholds
	signals    SignalRecorder
	newID      func() string
}

// New builds a Cascade. newID generates signal identifiers (the caller
// typically passes uuid.NewString).
func New(norm *normalizer.Normalizer, s1 *Stage1, s2 *Stage2, s3 *Stage3, s4 *Stage4, thresholds Thresholds, signals SignalRecorder, newID func() string) *Cascade {
	return &Cascade{norm: norm, stage1: s1, stage2: s2, stage3: s3, stage4: s4, thresholds: thresholds, signals: signals, newID: newID}
}

// Classify runs the cascade against raw, stopping at the first stage that
// exceeds its threshold. Each stage's own deadline is enforced by the
// caller via ctx; Classify itself does not impose additional deadlines
// beyond what ctx already carries.
func (c *Cascade) Classify(ctx context.Context, raw string) (Result, error) {
	start := time.Now()
	normalized, _ := c.norm.Normalize(raw)

	result := Result{RawText: raw, NormalizedText: normalized}

	if c.stage1 != nil {
		if d := c.stage1.Match(normalized); d.decided && d.confidence >= c.thresholds.Fast {
			return c.finish(ctx, result, d, StageFastPattern, start)
		}
	}

	if c.stage2 != nil {
		d, err := c.stage2.Classify(ctx, normalized, c.thresholds.EmbeddingTieEps)
		if err != nil {
			return Result{}, err
		}
		if d.decided && d.confidence >= c.thresholds.Embedding {
			return c.finish(ctx, result, d, StageEmbedding, start)
		}
	}

	if c.stage3 != nil {
		d, err := c.stage3.Classify(ctx, normalized, c.thresholds.LocalTieEps)
		if err != nil {
			return Result{}, err
		}
		if d.decided && d.confidence >= c.thresholds.Local {
			return c.finish(ctx, result, d, StageLocalModel, start)
		}
	}

	if c.stage4 == nil {
		return Result{}, errs.New(errs.KindTransientUpstream, "cascade.Classify", "no stage reached threshold and no LLM fallback configured", nil)
	}

	c.recordSignal(ctx, store.SignalLLMFallback, raw, normalized, "")

	d, err := c.stage4.Classify(ctx, normalized)
	if err != nil {
		return Result{}, err
	}
	return c.finish(ctx, result, d, StageLLM, start)
}

func (c *Cascade) finish(ctx context.Context, result Result, d decision, stage Stage, start time.Time) (Result, error) {
	result.Intent = d.intent
	result.Confidence = d.confidence
	result.Stage = stage
	result.LatencyMS = time.Since(start).Milliseconds()

	if d.confidence < c.thresholds.LowConfidence {
		c.recordSignal(ctx, store.SignalLowConfidence, result.RawText, result.NormalizedText, d.intent)
	}
	return result, nil
}

func (c *Cascade) recordSignal(ctx context.Context, kind store.SignalKind, raw, normalized, intent string) {
	if c.signals == nil {
		return
	}
	sig := &store.Signal{
		ID:        c.newID(),
		Kind:      kind,
		Utterance: normalized,
		Context:   map[string]any{"raw_text": raw, "intent": intent},
		CreatedAt: time.Now().Unix(),
	}
	// Fire-and-forget: background errors never fail a user request (spec §9).
	_ = c.signals.RecordSignal(ctx, sig)
}
