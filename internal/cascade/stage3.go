package cascade

import (
	"context"

	"github.com/barnabee/core/internal/llm"
	"github.com/barnabee/core/internal/workerpool"
)

// Stage3 wraps the fine-tuned local classifier collaborator (spec §4.5).
type Stage3 struct {
	classifier llm.LocalClassifier
	gpu        *workerpool.Pool
}

// NewStage3 builds a Stage3 around any LocalClassifier implementation,
// including llm.CentroidClassifier for standalone operation. gpu, if
// non-nil, is acquired around each inference call so S2 and S3 never
// contend the same accelerator at once (spec §5).
func NewStage3(classifier llm.LocalClassifier, gpu *workerpool.Pool) *Stage3 {
	return &Stage3{classifier: classifier, gpu: gpu}
}

// Classify reports Continue when the top two labels are within tieEps of
// each other (spec §4.5's tie-break rule), otherwise the winning label.
func (s *Stage3) Classify(ctx context.Context, normalizedText string, tieEps float64) (decision, error) {
	if s.gpu != nil {
		release, err := s.gpu.Acquire(ctx)
		if err != nil {
			return decision{}, err
		}
		defer release()
	}
	result, err := s.classifier.Classify(ctx, normalizedText)
	if err != nil {
		return decision{}, err
	}
	if result.Intent == "" {
		return cont(), nil
	}
	if result.Confidence-result.RunnerUpConfidence <= tieEps {
		return cont(), nil
	}
	return decided(result.Intent, result.Confidence), nil
}
