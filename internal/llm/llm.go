// Package llm defines the narrow provider interfaces the cascade (S4),
// entity resolver (Phase B), and improvement pipeline depend on, plus a
// reference in-process implementation of the classifier collaborator so
// the cascade is exercisable end to end without a live model server.
//
// The fine-tuned local classifier, the chat model, and the embedding
// model are all external collaborators (spec.md §1's voice-I/O/LLM/
// embedding exclusions); this package only defines the seams they plug
// into.
package llm

import (
	"context"
	"math"
	"sort"
)

// ChatProvider issues structured chat completions against a JSON schema,
// used by the cascade's S4 fallback stage and the entity resolver's
// Phase B fallback.
type ChatProvider interface {
	// CompleteJSON sends system+user prompts to the model and decodes the
	// model's structured response into target, which must be a pointer.
	// schemaName and schema describe the strict JSON schema the model is
	// constrained to.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, schemaName string, schema map[string]any, target any) error
}

// Embedder produces dense vector representations for cosine-similarity
// matching (S2 centroid comparison, signal clustering).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ClassifierResult is S3's output: the winning intent label, its
// confidence, and the runner-up's confidence so the cascade can apply
// its top-two tie-break rule without the classifier exposing its full
// label distribution.
type ClassifierResult struct {
	Intent           string
	Confidence       float64
	RunnerUpConfidence float64
}

// LocalClassifier is the fine-tuned transformer collaborator behind S3.
// It is expected to run a distilled intent model in-process or over a
// local inference server; this repo only depends on this interface.
type LocalClassifier interface {
	Classify(ctx context.Context, normalizedText string) (ClassifierResult, error)
}

// CentroidClassifier is a reference LocalClassifier built from nothing
// but per-intent embedding centroids and the cascade's own Embedder.
// It exists so the cascade can run standalone in tests: it is not a
// substitute for a trained model, only a stand-in collaborator that
// exercises the same interface with real cosine-similarity math.
type CentroidClassifier struct {
	embedder  Embedder
	centroids map[string][]float32
}

// NewCentroidClassifier builds a CentroidClassifier from labeled example
// texts, averaging their embeddings into one centroid per intent.
func NewCentroidClassifier(ctx context.Context, embedder Embedder, examples map[string][]string) (*CentroidClassifier, error) {
	centroids := make(map[string][]float32, len(examples))
	for intent, texts := range examples {
		if len(texts) == 0 {
			continue
		}
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		centroids[intent] = averageVectors(vecs)
	}
	return &CentroidClassifier{embedder: embedder, centroids: centroids}, nil
}

// Classify embeds normalizedText and returns the softmax-weighted
// nearest centroid. Confidence is the softmax probability mass on the
// winning intent over all centroid similarities, so a single dominant
// centroid yields high confidence while several close matches spread
// mass and lower it.
func (c *CentroidClassifier) Classify(ctx context.Context, normalizedText string) (ClassifierResult, error) {
	vec, err := c.embedder.Embed(ctx, normalizedText)
	if err != nil {
		return ClassifierResult{}, err
	}

	type scored struct {
		intent string
		sim    float64
	}
	scores := make([]scored, 0, len(c.centroids))
	for intent, centroid := range c.centroids {
		scores = append(scores, scored{intent: intent, sim: cosineSimilarity(vec, centroid)})
	}
	if len(scores) == 0 {
		return ClassifierResult{}, nil
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].sim > scores[j].sim })

	weights := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		w := math.Exp(s.sim * 10)
		weights[i] = w
		sum += w
	}
	top := scores[0]
	confidence := weights[0] / sum
	result := ClassifierResult{Intent: top.intent, Confidence: confidence}
	if len(weights) >= 2 {
		result.RunnerUpConfidence = weights[1] / sum
	}
	return result, nil
}

func averageVectors(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			if i < len(out) {
				out[i] += x
			}
		}
	}
	for i := range out {
		out[i] /= float32(len(vecs))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
