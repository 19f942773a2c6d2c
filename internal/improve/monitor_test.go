package improve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/cascade"
	"github.com/barnabee/core/internal/store"
)

func TestLiveMonitorComputesDeltasAgainstShadowBaseline(t *testing.T) {
	s := newFakeStore()
	s.goldenCases = []store.GoldenCase{
		{ID: "1", Utterance: "turn on kitchen", ExpectedIntent: "light_on"},
	}
	s.signals = []store.Signal{
		{Kind: store.SignalCorrection, Expected: "light_on", Actual: "light_off"},
		{Kind: store.SignalEntityFail, Expected: "light_on"},
		{Kind: store.SignalLowConfidence},
	}

	classifier := stubClassifier{results: map[string]cascade.Result{
		"turn on kitchen": {Intent: "light_on"},
	}}
	mon := NewLiveMonitor(classifier, s, s)

	imp := &store.Improvement{Target: "light_on", Shadow: store.ShadowResult{AccuracyOld: 0.9, P95LatencyOldMS: 100}}
	sample, err := mon.Sample(context.Background(), imp)
	require.NoError(t, err)

	require.InDelta(t, 10.0, sample.AccuracyDeltaPP, 0.01) // 1.0 - 0.9 = +10pp
	require.Less(t, sample.P95LatencyDeltaMS, 0.0)
	require.InDelta(t, 1.0/3.0, sample.ErrorRate, 0.01)
	require.Greater(t, sample.CorrectionRateMult, 1.0)
}

func TestLiveMonitorIgnoresSignalsForOtherTargets(t *testing.T) {
	s := newFakeStore()
	s.goldenCases = []store.GoldenCase{{ID: "1", Utterance: "lock front door", ExpectedIntent: "lock_lock"}}
	s.signals = []store.Signal{
		{Kind: store.SignalCorrection, Expected: "climate_set", Actual: "climate_set"},
	}
	classifier := stubClassifier{results: map[string]cascade.Result{
		"lock front door": {Intent: "lock_lock"},
	}}
	mon := NewLiveMonitor(classifier, s, s)

	imp := &store.Improvement{Target: "lock_lock", Shadow: store.ShadowResult{AccuracyOld: 1.0}}
	sample, err := mon.Sample(context.Background(), imp)
	require.NoError(t, err)
	require.Equal(t, 0.0, sample.CorrectionRateMult)
	require.Equal(t, 0.0, sample.ErrorRate)
}
