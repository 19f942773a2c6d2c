package improve

import (
	"context"

	"github.com/barnabee/core/internal/golden"
	"github.com/barnabee/core/internal/store"
)

// nominalCorrectionRate is the assumed steady-state correction rate used
// as CorrectionRateMult's denominator; no historical per-target baseline
// is persisted anywhere in the store, so this is a fixed reference point
// rather than a measured one.
const nominalCorrectionRate = 0.05

// SignalSource is the narrow read surface LiveMonitor uses to approximate
// error rate and correction pressure since an improvement went live.
// Signals stay unprocessed (store.Signal.Processed == false) between
// nightly clustering runs, so the hourly monitoring sweep can read the
// same backlog NightlyAnalysis will eventually clear.
type SignalSource interface {
	UnprocessedSignals(ctx context.Context, limit int) ([]store.Signal, error)
}

// GoldenCaseSource supplies the current golden dataset for re-scoring.
type GoldenCaseSource interface {
	ListGoldenCases(ctx context.Context) ([]store.GoldenCase, error)
}

// LiveMonitor is the concrete MonitorSource (spec §4.10). It re-scores
// the golden dataset against the live classifier for the accuracy/p95
// deltas against the improvement's own shadow-test baseline, and scans
// the unprocessed-signal backlog for entity failures and corrections
// touching the improvement's target as a proxy for error rate and
// correction-rate drift.
type LiveMonitor struct {
	evaluator Evaluator
	signals   SignalSource
	golden    GoldenCaseSource
}

// NewLiveMonitor builds a LiveMonitor from a classifier satisfying
// golden.Classifier (typically the live *cascade.Cascade).
func NewLiveMonitor(classifier golden.Classifier, signals SignalSource, goldenCases GoldenCaseSource) *LiveMonitor {
	return &LiveMonitor{evaluator: golden.NewCascadeEvaluator(classifier), signals: signals, golden: goldenCases}
}

// Sample implements MonitorSource.
func (m *LiveMonitor) Sample(ctx context.Context, imp *store.Improvement) (MonitorSample, error) {
	cases, err := m.golden.ListGoldenCases(ctx)
	if err != nil {
		return MonitorSample{}, err
	}
	accuracy, p95, _, err := m.evaluator.Evaluate(ctx, cases)
	if err != nil {
		return MonitorSample{}, err
	}

	sigs, err := m.signals.UnprocessedSignals(ctx, 2000)
	if err != nil {
		return MonitorSample{}, err
	}

	var corrections, failures, total int
	for _, s := range sigs {
		total++
		switch s.Kind {
		case store.SignalCorrection:
			if s.Expected == imp.Target || s.Actual == imp.Target {
				corrections++
			}
		case store.SignalEntityFail:
			if s.Expected == imp.Target {
				failures++
			}
		}
	}

	sample := MonitorSample{
		AccuracyDeltaPP:   (accuracy - imp.Shadow.AccuracyOld) * 100,
		P95LatencyDeltaMS: p95 - imp.Shadow.P95LatencyOldMS,
	}
	if total > 0 {
		sample.ErrorRate = float64(failures) / float64(total)
		sample.CorrectionRateMult = (float64(corrections) / float64(total)) / nominalCorrectionRate
	}
	return sample, nil
}
