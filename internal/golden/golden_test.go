package golden

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/cascade"
	"github.com/barnabee/core/internal/store"
)

func TestLoadParsesJSONLines(t *testing.T) {
	in := strings.NewReader(`{"utterance":"turn on the kitchen lights","expected_intent":"light_on"}
{"utterance":"what time is it","expected_intent":"time_query","expected_entities":["time"]}
`)
	cases, err := Load(in)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	require.Equal(t, "light_on", cases[0].ExpectedIntent)
	require.Equal(t, []string{"time"}, cases[1].ExpectedEntities)
	require.NotEmpty(t, cases[0].ID)
}

func TestLoadRejectsMissingFields(t *testing.T) {
	in := strings.NewReader(`{"utterance":"","expected_intent":"light_on"}`)
	_, err := Load(in)
	require.Error(t, err)
}

type fakeCaseStore struct {
	cases []store.GoldenCase
}

func (f *fakeCaseStore) PutGoldenCase(ctx context.Context, g *store.GoldenCase) error {
	f.cases = append(f.cases, *g)
	return nil
}

func (f *fakeCaseStore) CountGoldenCases(ctx context.Context) (int, error) {
	return len(f.cases), nil
}

func TestIngestReportsBelowMinimum(t *testing.T) {
	st := &fakeCaseStore{}
	in := strings.NewReader(`{"utterance":"turn on the kitchen lights","expected_intent":"light_on"}`)
	result, err := Ingest(context.Background(), st, in)
	require.NoError(t, err)
	require.Equal(t, 1, result.Loaded)
	require.Equal(t, 1, result.TotalSize)
	require.True(t, result.BelowMin)
}

type stubClassifier struct {
	results map[string]cascade.Result
}

func (s stubClassifier) Classify(ctx context.Context, raw string) (cascade.Result, error) {
	return s.results[raw], nil
}

func TestCascadeEvaluatorScoresAccuracyAndLatency(t *testing.T) {
	classifier := stubClassifier{results: map[string]cascade.Result{
		"turn on the kitchen lights": {Intent: "light_on", LatencyMS: 10},
		"what time is it":            {Intent: "wrong_intent", LatencyMS: 20},
	}}
	cases := []store.GoldenCase{
		{ID: "1", Utterance: "turn on the kitchen lights", ExpectedIntent: "light_on"},
		{ID: "2", Utterance: "what time is it", ExpectedIntent: "time_query"},
	}

	eval := NewCascadeEvaluator(classifier)
	accuracy, p95, failing, err := eval.Evaluate(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, 0.5, accuracy)
	require.Equal(t, []string{"2"}, failing)
	require.Greater(t, p95, 0.0)
}

func TestCascadeEvaluatorEmptyCasesIsZeroNotDivideByZero(t *testing.T) {
	eval := NewCascadeEvaluator(stubClassifier{})
	accuracy, p95, failing, err := eval.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, accuracy)
	require.Equal(t, 0.0, p95)
	require.Nil(t, failing)
}
