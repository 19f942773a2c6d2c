// Package improve is the Improvement Pipeline (spec §4.10): it clusters
// unprocessed signals into recurring failure patterns, proposes data-only
// changes, shadow-tests them against the golden dataset, and applies,
// monitors, and (if needed) rolls back tier-1 changes automatically.
// Tier-2 changes stop at a human approval gate; tier-3 changes never
// reach "applied".
package improve

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/llm"
	"github.com/barnabee/core/internal/store"
)

const (
	clusterSimilarityThreshold = 0.85
	minClusterSize             = 3
	monitoringWindow           = 24 * time.Hour

	rollbackAccuracyDropPP  = 2.0
	rollbackLatencyIncrease = 50.0
	rollbackErrorRate       = 0.05
	rollbackCorrectionRise  = 1.5 // +50% vs baseline
)

// Store is the persistence surface the pipeline reads and writes.
type Store interface {
	UnprocessedSignals(ctx context.Context, limit int) ([]store.Signal, error)
	MarkSignalsProcessed(ctx context.Context, ids []string) error
	CreateImprovement(ctx context.Context, imp *store.Improvement) error
	UpdateImprovementShadow(ctx context.Context, id string, r store.ShadowResult, at int64) error
	SetImprovementStatus(ctx context.Context, id string, status store.ImprovementStatus, at int64) error
	StartMonitoring(ctx context.Context, id string, start, end int64) error
	RollbackImprovement(ctx context.Context, id, reason string, at int64) error
	GetImprovement(ctx context.Context, id string) (*store.Improvement, error)
	ListImprovementsByStatus(ctx context.Context, status store.ImprovementStatus) ([]store.Improvement, error)
	CreateImprovementBackup(ctx context.Context, b *store.ImprovementBackup) error
	GetImprovementBackup(ctx context.Context, improvementID string) (*store.ImprovementBackup, error)
	AppendAudit(ctx context.Context, a store.AuditEntry) error
	ListGoldenCases(ctx context.Context) ([]store.GoldenCase, error)
}

// Applier performs the actual data-only mutation for one improvement
// (updating a pattern, alias, or exemplar set) and reloads whatever
// in-memory component depends on it. It also reports the current value
// so a backup snapshot can be taken before the change lands, and can
// score the golden set against a hypothetical version of itself with
// the change overlaid, without mutating live state.
type Applier interface {
	CurrentValue(ctx context.Context, imp *store.Improvement) (string, error)
	Apply(ctx context.Context, imp *store.Improvement) error
	Restore(ctx context.Context, imp *store.Improvement, snapshot string) error
	EvaluateWithChange(ctx context.Context, imp *store.Improvement, cases []store.GoldenCase) (accuracy, p95LatencyMS float64, failing []string, err error)
}

// MonitorSample is one hourly measurement taken while an improvement is
// in its monitoring window (spec §4.10's rollback triggers).
type MonitorSample struct {
	AccuracyDeltaPP    float64
	P95LatencyDeltaMS  float64
	ErrorRate          float64
	CorrectionRateMult float64 // current correction rate / baseline
}

// MonitorSource supplies monitoring samples for a live improvement.
type MonitorSource interface {
	Sample(ctx context.Context, imp *store.Improvement) (MonitorSample, error)
}

// Pipeline ties together clustering, shadow testing, and the apply/
// monitor/rollback state machine. A single mutex serializes every
// shadow-test/apply/rollback transition (spec §5): the pipeline makes
// one state-machine move at a time.
type Pipeline struct {
	store    Store
	embedder llm.Embedder
	baseline Evaluator
	applier  Applier
	monitor  MonitorSource

	mu  sync.Mutex
	cr  *cron.Cron
	now func() time.Time
}

// New builds a Pipeline. now defaults to time.Now.
func New(store Store, embedder llm.Embedder, baseline Evaluator, applier Applier, monitor MonitorSource) *Pipeline {
	return &Pipeline{store: store, embedder: embedder, baseline: baseline, applier: applier, monitor: monitor, now: time.Now}
}

// Start schedules the nightly clustering pass and the hourly monitoring
// sweep via a cron scheduler, mirroring the teacher's fixed-duration
// scheduled-job pattern.
func (p *Pipeline) Start() {
	p.cr = cron.New()
	_, _ = p.cr.AddFunc("@hourly", func() { p.MonitorActive(context.Background()) })
	_, _ = p.cr.AddFunc("0 3 * * *", func() { p.NightlyAnalysis(context.Background()) })
	p.cr.Start()
}

// Stop halts the scheduler.
func (p *Pipeline) Stop() {
	if p.cr != nil {
		p.cr.Stop()
	}
}

// NightlyAnalysis pulls unprocessed signals, clusters them, and proposes
// an improvement per cluster routed by its dominant signal kind (spec
// §4.10's routing table).
func (p *Pipeline) NightlyAnalysis(ctx context.Context) error {
	sigs, err := p.store.UnprocessedSignals(ctx, 2000)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}

	clusters, err := clusterSignals(ctx, p.embedder, sigs, clusterSimilarityThreshold, minClusterSize)
	if err != nil {
		return err
	}

	var processedIDs []string
	for _, c := range clusters {
		imp := proposalFor(c)
		if imp == nil {
			continue
		}
		if err := p.store.CreateImprovement(ctx, imp); err != nil {
			return err
		}
		if err := p.runShadowAndRoute(ctx, imp); err != nil {
			continue
		}
		for _, s := range c.Signals {
			processedIDs = append(processedIDs, s.ID)
		}
	}
	if len(processedIDs) > 0 {
		return p.store.MarkSignalsProcessed(ctx, processedIDs)
	}
	return nil
}

// proposalFor routes a cluster to a concrete improvement proposal by its
// dominant signal kind. Clusters with no actionable routing are skipped.
func proposalFor(c Cluster) *store.Improvement {
	now := c.Signals[len(c.Signals)-1].CreatedAt
	ids := make([]string, len(c.Signals))
	for i, s := range c.Signals {
		ids[i] = s.ID
	}

	base := &store.Improvement{
		ID:                  uuid.NewString(),
		ContributingSignals: ids,
		Source:              store.ImprovementAutomatic,
		Status:              store.ImprovementCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	switch c.DominantKind {
	case store.SignalLLMFallback:
		base.Type = store.ImprovementExemplar
		base.Tier = store.Tier1
		base.Target = c.Signals[0].Actual
		base.ProposedValue = c.Signals[0].Utterance
		base.Rationale = "recurring utterance fell through to the LLM stage; add it as a fast-path exemplar"
	case store.SignalEntityFail:
		base.Type = store.ImprovementAlias
		base.Tier = store.Tier1
		base.Target = c.Signals[0].Expected
		base.ProposedValue = c.Signals[0].Utterance
		base.Rationale = "recurring entity mention failed to resolve cleanly; add it as an alias"
	case store.SignalCorrection:
		base.Type = store.ImprovementPattern
		base.Tier = store.Tier2
		base.Target = c.Signals[0].Expected
		base.ProposedValue = c.Signals[0].Utterance
		base.Rationale = "users are repeatedly correcting \"" + c.Signals[0].Utterance + "\" away from " + c.Signals[0].Actual
	default:
		return nil
	}
	return base
}

// SubmitUserSuggestion fast-paths a user- or voice-originated suggestion
// straight to shadow testing, bypassing clustering entirely (spec
// §4.10). Synonym/alias suggestions are always tier 1.
func (p *Pipeline) SubmitUserSuggestion(ctx context.Context, target, proposedValue, rationale string, typ store.ImprovementType, source store.ImprovementSource) error {
	now := p.now().Unix()
	imp := &store.Improvement{
		ID:            uuid.NewString(),
		Type:          typ,
		Tier:          store.Tier1,
		Target:        target,
		ProposedValue: proposedValue,
		Rationale:     rationale,
		Source:        source,
		Status:        store.ImprovementCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.CreateImprovement(ctx, imp); err != nil {
		return err
	}
	return p.runShadowAndRoute(ctx, imp)
}

// runShadowAndRoute shadow-tests imp and advances it to pending/rejected,
// then auto-applies tier-1 passes. Tier-2 passes stop at pending for a
// human to approve; tier-3 proposals are audited and never applied.
func (p *Pipeline) runShadowAndRoute(ctx context.Context, imp *store.Improvement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if imp.Tier == store.Tier3 {
		now := p.now().Unix()
		if err := p.store.AppendAudit(ctx, store.AuditEntry{
			ID: uuid.NewString(), ImprovementID: imp.ID,
			Event: "tier3_proposed_not_applied", Detail: imp.Rationale,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		// Tier-3 proposals never apply; rejected is their terminal state
		// so they don't linger at "created" (spec §8 invariant 4).
		return p.store.SetImprovementStatus(ctx, imp.ID, store.ImprovementRejected, now)
	}

	cases, err := p.store.ListGoldenCases(ctx)
	if err != nil {
		return err
	}
	candidate := &candidateEvaluator{applier: p.applier, imp: imp}
	result, err := ShadowTest(ctx, cases, p.baseline, candidate)
	if err != nil {
		return err
	}
	now := p.now().Unix()
	if err := p.store.UpdateImprovementShadow(ctx, imp.ID, result, now); err != nil {
		return err
	}

	if !result.Passed {
		return p.store.SetImprovementStatus(ctx, imp.ID, store.ImprovementRejected, now)
	}
	if err := p.store.SetImprovementStatus(ctx, imp.ID, store.ImprovementPending, now); err != nil {
		return err
	}

	if imp.Tier == store.Tier1 {
		return p.applyAndMonitor(ctx, imp.ID)
	}
	// Tier 2: wait at "pending" for ApproveAndApply.
	return nil
}

// ApproveAndApply moves a human-approved tier-2 improvement from pending
// to applied and starts its monitoring window.
func (p *Pipeline) ApproveAndApply(ctx context.Context, improvementID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	imp, err := p.store.GetImprovement(ctx, improvementID)
	if err != nil {
		return err
	}
	if imp.Status != store.ImprovementPending {
		return errs.New(errs.KindValidation, "improve.ApproveAndApply", "improvement is not pending", nil)
	}
	if err := p.store.SetImprovementStatus(ctx, improvementID, store.ImprovementApproved, p.now().Unix()); err != nil {
		return err
	}
	return p.applyAndMonitor(ctx, improvementID)
}

// applyAndMonitor snapshots the current value, applies the change, and
// opens the 24h monitoring window. Caller holds p.mu.
func (p *Pipeline) applyAndMonitor(ctx context.Context, improvementID string) error {
	imp, err := p.store.GetImprovement(ctx, improvementID)
	if err != nil {
		return err
	}
	if imp.Tier == store.Tier3 {
		return errs.New(errs.KindForbidden, "improve.applyAndMonitor", "tier-3 improvements cannot be applied", nil)
	}

	snapshot, err := p.applier.CurrentValue(ctx, imp)
	if err != nil {
		return err
	}
	if err := p.store.CreateImprovementBackup(ctx, &store.ImprovementBackup{
		ID: uuid.NewString(), ImprovementID: imp.ID, Target: imp.Target,
		Snapshot: snapshot,
	}); err != nil {
		return err
	}

	if err := p.applier.Apply(ctx, imp); err != nil {
		return err
	}

	now := p.now()
	if err := p.store.SetImprovementStatus(ctx, imp.ID, store.ImprovementApplied, now.Unix()); err != nil {
		return err
	}
	end := now.Add(monitoringWindow)
	if err := p.store.StartMonitoring(ctx, imp.ID, now.Unix(), end.Unix()); err != nil {
		return err
	}
	return p.store.SetImprovementStatus(ctx, imp.ID, store.ImprovementMonitoring, now.Unix())
}

// MonitorActive checks every improvement currently in its monitoring
// window against the rollback triggers, rolling back or completing as
// appropriate (spec §4.10).
func (p *Pipeline) MonitorActive(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	active, err := p.store.ListImprovementsByStatus(ctx, store.ImprovementMonitoring)
	if err != nil {
		return
	}
	now := p.now()
	for i := range active {
		imp := active[i]
		if imp.MonitoringEnd != nil && now.Unix() >= *imp.MonitoringEnd {
			_ = p.store.SetImprovementStatus(ctx, imp.ID, store.ImprovementCompleted, now.Unix())
			continue
		}

		sample, err := p.monitor.Sample(ctx, &imp)
		if err != nil {
			continue
		}
		if reason := rollbackReason(sample); reason != "" {
			p.rollback(ctx, &imp, reason, now)
		}
	}
}

func rollbackReason(s MonitorSample) string {
	switch {
	case s.AccuracyDeltaPP < -rollbackAccuracyDropPP:
		return "accuracy dropped more than 2pp"
	case s.P95LatencyDeltaMS > rollbackLatencyIncrease:
		return "p95 latency increased more than 50ms"
	case s.ErrorRate > rollbackErrorRate:
		return "error rate exceeded 5%"
	case s.CorrectionRateMult > rollbackCorrectionRise:
		return "correction rate rose more than 50% over baseline"
	default:
		return ""
	}
}

func (p *Pipeline) rollback(ctx context.Context, imp *store.Improvement, reason string, now time.Time) {
	backup, err := p.store.GetImprovementBackup(ctx, imp.ID)
	if err != nil {
		return
	}
	if err := p.applier.Restore(ctx, imp, backup.Snapshot); err != nil {
		return
	}
	_ = p.store.RollbackImprovement(ctx, imp.ID, reason, now.Unix())
	_ = p.store.AppendAudit(ctx, store.AuditEntry{
		ID: uuid.NewString(), ImprovementID: imp.ID,
		Event: "rolled_back", Detail: reason, CreatedAt: now.Unix(),
	})
}

// candidateEvaluator scores the golden set with imp's change overlaid,
// without mutating the live classifier/resolver state, so ShadowTest can
// compare candidate-with-change against the unmodified baseline.
type candidateEvaluator struct {
	applier Applier
	imp     *store.Improvement
}

func (c *candidateEvaluator) Evaluate(ctx context.Context, cases []store.GoldenCase) (float64, float64, []string, error) {
	return c.applier.EvaluateWithChange(ctx, c.imp, cases)
}
