package improve

import (
	"context"
	"time"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/golden"
	"github.com/barnabee/core/internal/store"
)

// PatternTable is the narrow mutation surface over the cascade's
// fast-pattern table, satisfied by *cascade.Stage1. Exemplar and
// pattern improvements both add a phrase -> intent mapping; only their
// risk tier differs.
type PatternTable interface {
	AddPhrase(phrase, intent string)
	RemovePhrase(phrase string)
	Lookup(phrase string) (string, bool)
}

// AliasTarget is the narrow mutation surface over the live entity view,
// satisfied by *mirror.Mirror.
type AliasTarget interface {
	AddAlias(entityID, alias string) bool
	RemoveAlias(entityID, alias string) bool
}

// AliasStore persists alias additions/removals across restarts,
// satisfied by *store.SQLiteStore.
type AliasStore interface {
	AddEntityAlias(ctx context.Context, a store.EntityAlias) error
	RemoveEntityAlias(ctx context.Context, entityID, alias string) error
}

// ClassifierApplier is the concrete Applier (spec §4.10). It mutates the
// live cascade's fast-pattern table for exemplar/pattern improvements
// and the live mirror's alias index for alias improvements, persisting
// each change so a restart doesn't lose it.
type ClassifierApplier struct {
	patterns   PatternTable
	aliases    AliasTarget
	aliasStore AliasStore
	classifier golden.Classifier
	newID      func() string
}

// NewClassifierApplier builds a ClassifierApplier.
func NewClassifierApplier(patterns PatternTable, aliases AliasTarget, aliasStore AliasStore, classifier golden.Classifier, newID func() string) *ClassifierApplier {
	return &ClassifierApplier{patterns: patterns, aliases: aliases, aliasStore: aliasStore, classifier: classifier, newID: newID}
}

// CurrentValue snapshots whatever the change is about to overwrite, so
// Restore can put it back exactly. Alias improvements are purely
// additive, so their "current value" is simply absence.
func (a *ClassifierApplier) CurrentValue(ctx context.Context, imp *store.Improvement) (string, error) {
	switch imp.Type {
	case store.ImprovementExemplar, store.ImprovementPattern:
		if intent, ok := a.patterns.Lookup(imp.ProposedValue); ok {
			return intent, nil
		}
		return "", nil
	case store.ImprovementAlias:
		return "", nil
	default:
		return "", errs.New(errs.KindValidation, "improve.ClassifierApplier.CurrentValue", "unsupported improvement type "+string(imp.Type), nil)
	}
}

// Apply performs the real, live mutation.
func (a *ClassifierApplier) Apply(ctx context.Context, imp *store.Improvement) error {
	switch imp.Type {
	case store.ImprovementExemplar, store.ImprovementPattern:
		a.patterns.AddPhrase(imp.ProposedValue, imp.Target)
		return nil
	case store.ImprovementAlias:
		if err := a.aliasStore.AddEntityAlias(ctx, store.EntityAlias{
			ID: a.newID(), EntityID: imp.Target, Alias: imp.ProposedValue,
			Source: "improvement", CreatedAt: time.Now().Unix(),
		}); err != nil {
			return err
		}
		a.aliases.AddAlias(imp.Target, imp.ProposedValue)
		return nil
	default:
		return errs.New(errs.KindValidation, "improve.ClassifierApplier.Apply", "unsupported improvement type "+string(imp.Type), nil)
	}
}

// Restore reverts to snapshot, undoing Apply on rollback (spec §4.10).
func (a *ClassifierApplier) Restore(ctx context.Context, imp *store.Improvement, snapshot string) error {
	switch imp.Type {
	case store.ImprovementExemplar, store.ImprovementPattern:
		if snapshot == "" {
			a.patterns.RemovePhrase(imp.ProposedValue)
		} else {
			a.patterns.AddPhrase(imp.ProposedValue, snapshot)
		}
		return nil
	case store.ImprovementAlias:
		a.aliases.RemoveAlias(imp.Target, imp.ProposedValue)
		return a.aliasStore.RemoveEntityAlias(ctx, imp.Target, imp.ProposedValue)
	default:
		return errs.New(errs.KindValidation, "improve.ClassifierApplier.Restore", "unsupported improvement type "+string(imp.Type), nil)
	}
}

// EvaluateWithChange scores the golden dataset as if imp were applied,
// without leaving the change live afterward (spec §4.10's
// no-partial-rollout shadow test). Alias improvements don't affect
// intent classification, so their shadow test simply confirms
// classification accuracy is unchanged; resolver-level accuracy for a
// new alias is out of this evaluator's scope.
func (a *ClassifierApplier) EvaluateWithChange(ctx context.Context, imp *store.Improvement, cases []store.GoldenCase) (float64, float64, []string, error) {
	if imp.Type == store.ImprovementAlias {
		return golden.NewCascadeEvaluator(a.classifier).Evaluate(ctx, cases)
	}

	prior, err := a.CurrentValue(ctx, imp)
	if err != nil {
		return 0, 0, nil, err
	}

	a.patterns.AddPhrase(imp.ProposedValue, imp.Target)
	defer func() {
		if prior == "" {
			a.patterns.RemovePhrase(imp.ProposedValue)
		} else {
			a.patterns.AddPhrase(imp.ProposedValue, prior)
		}
	}()

	return golden.NewCascadeEvaluator(a.classifier).Evaluate(ctx, cases)
}
