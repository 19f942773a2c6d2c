// Package golden loads the golden evaluation dataset (spec §3, §8) and
// scores a classifier/resolver pair against it for the shadow-test and
// acceptance-test paths (spec §4.10, §8 invariant 1).
package golden

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/barnabee/core/internal/cascade"
	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/store"
)

// MinSize is the invariant acceptance target (spec §9's open-question
// resolution: 500, not the earlier-stage 200).
const MinSize = 500

// EarlyStageSize is the reduced minimum tolerated before the dataset has
// matured. Ingest does not consult it: BelowMin compares the total against
// MinSize only.
const EarlyStageSize = 200

// record is the on-disk JSON-lines shape accepted by Load.
type record struct {
	Utterance        string   `json:"utterance"`
	ExpectedIntent   string   `json:"expected_intent"`
	ExpectedEntities []string `json:"expected_entities,omitempty"`
}

// Load reads one JSON object per line from r and returns the decoded
// golden cases, assigning each a fresh ID and creation timestamp.
func Load(r io.Reader) ([]store.GoldenCase, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	now := time.Now().Unix()
	var cases []store.GoldenCase
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errs.New(errs.KindValidation, "golden.Load", "malformed golden case line", err)
		}
		if rec.Utterance == "" || rec.ExpectedIntent == "" {
			return nil, errs.New(errs.KindValidation, "golden.Load", "golden case missing utterance or expected_intent", nil)
		}
		cases = append(cases, store.GoldenCase{
			ID: uuid.NewString(), Utterance: rec.Utterance,
			ExpectedIntent: rec.ExpectedIntent, ExpectedEntities: rec.ExpectedEntities,
			CreatedAt: now,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.New(errs.KindValidation, "golden.Load", "failed reading golden dataset", err)
	}
	return cases, nil
}

// CaseStore is the narrow persistence surface Ingest writes through,
// satisfied by *store.SQLiteStore.
type CaseStore interface {
	PutGoldenCase(ctx context.Context, g *store.GoldenCase) error
	CountGoldenCases(ctx context.Context) (int, error)
}

// IngestResult reports what Ingest did, so the CLI can print a coverage
// warning without failing the command outright.
type IngestResult struct {
	Loaded    int
	TotalSize int
	BelowMin  bool
}

// Ingest loads cases from r and upserts them into st, per the
// `ingest-golden <path>` CLI subcommand (spec §6).
func Ingest(ctx context.Context, st CaseStore, r io.Reader) (IngestResult, error) {
	cases, err := Load(r)
	if err != nil {
		return IngestResult{}, err
	}
	for i := range cases {
		if err := st.PutGoldenCase(ctx, &cases[i]); err != nil {
			return IngestResult{}, err
		}
	}
	total, err := st.CountGoldenCases(ctx)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Loaded: len(cases), TotalSize: total, BelowMin: total < MinSize}, nil
}

// Classifier is the narrow surface CascadeEvaluator scores against,
// satisfied by *cascade.Cascade.
type Classifier interface {
	Classify(ctx context.Context, raw string) (cascade.Result, error)
}

// CascadeEvaluator implements improve.Evaluator by running the golden
// dataset through a live cascade and scoring the results (spec §4.10's
// shadow-test comparison and spec §8 invariant 1's acceptance check).
type CascadeEvaluator struct {
	classifier Classifier
}

// NewCascadeEvaluator wraps c for evaluation.
func NewCascadeEvaluator(c Classifier) *CascadeEvaluator {
	return &CascadeEvaluator{classifier: c}
}

// Evaluate classifies every case and reports accuracy, p95 latency in
// milliseconds, and the IDs of cases that failed to classify correctly.
func (e *CascadeEvaluator) Evaluate(ctx context.Context, cases []store.GoldenCase) (accuracy float64, p95LatencyMS float64, failing []string, err error) {
	if len(cases) == 0 {
		return 0, 0, nil, nil
	}

	correct := 0
	latencies := make([]int64, 0, len(cases))
	for _, c := range cases {
		result, classifyErr := e.classifier.Classify(ctx, c.Utterance)
		if classifyErr != nil {
			failing = append(failing, c.ID)
			continue
		}
		latencies = append(latencies, result.LatencyMS)
		if result.Intent == c.ExpectedIntent {
			correct++
		} else {
			failing = append(failing, c.ID)
		}
	}

	accuracy = float64(correct) / float64(len(cases))
	p95LatencyMS = percentile(latencies, 0.95)
	return accuracy, p95LatencyMS, failing, nil
}

// percentile returns the p-th percentile (0 < p <= 1) of samples, nearest-
// rank method. Returns 0 for an empty input.
func percentile(samples []int64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}
