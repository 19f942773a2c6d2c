package improve

import (
	"context"

	"github.com/barnabee/core/internal/store"
)

// Evaluator runs the golden dataset against one classifier/resolver
// configuration and reports accuracy and tail latency (spec §4.10's
// shadow test and §8's golden-case invariant).
type Evaluator interface {
	Evaluate(ctx context.Context, cases []store.GoldenCase) (accuracy float64, p95LatencyMS float64, failing []string, err error)
}

// ShadowTest runs baseline and candidate evaluators over the same golden
// set and applies spec §4.10's pass criteria. No partial rollout: a
// failing result is discarded in full by the caller.
func ShadowTest(ctx context.Context, cases []store.GoldenCase, baseline, candidate Evaluator) (store.ShadowResult, error) {
	accOld, latOld, _, err := baseline.Evaluate(ctx, cases)
	if err != nil {
		return store.ShadowResult{}, err
	}
	accNew, latNew, failing, err := candidate.Evaluate(ctx, cases)
	if err != nil {
		return store.ShadowResult{}, err
	}

	result := store.ShadowResult{
		AccuracyNew:     accNew,
		AccuracyOld:     accOld,
		P95LatencyNewMS: latNew,
		P95LatencyOldMS: latOld,
		NewFailures:     failing,
	}
	result.Passed = accNew >= 0.95 &&
		accNew >= accOld &&
		(latNew-latOld) <= 10 &&
		len(failing) == 0
	return result, nil
}
