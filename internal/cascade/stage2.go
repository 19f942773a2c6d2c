package cascade

import (
	"context"
	"math"
	"sort"

	"github.com/barnabee/core/internal/llm"
	"github.com/barnabee/core/internal/workerpool"
)

// Stage2 classifies by cosine similarity against per-intent embedding
// centroids (spec §4.5).
type Stage2 struct {
	embedder  llm.Embedder
	centroids map[string][]float32
	gpu       *workerpool.Pool
}

// NewStage2 builds a Stage2 from labeled example texts, averaging each
// intent's example embeddings into one centroid. gpu, if non-nil, is
// acquired around each per-request embedding call (spec §5's GPU-bound
// admission gate); it is not held during this one-time centroid build.
func NewStage2(ctx context.Context, embedder llm.Embedder, examples map[string][]string, gpu *workerpool.Pool) (*Stage2, error) {
	centroids := make(map[string][]float32, len(examples))
	for intent, texts := range examples {
		if len(texts) == 0 {
			continue
		}
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		centroids[intent] = averageEmbeddings(vecs)
	}
	return &Stage2{embedder: embedder, centroids: centroids, gpu: gpu}, nil
}

// Classify embeds normalizedText and picks the nearest centroid. If the
// top two centroids are within tieEps similarity, the result is reported
// as Continue so the cascade falls through to S3 (spec §4.5's
// tie-breaking rule).
func (s *Stage2) Classify(ctx context.Context, normalizedText string, tieEps float64) (decision, error) {
	if len(s.centroids) == 0 {
		return cont(), nil
	}
	if s.gpu != nil {
		release, err := s.gpu.Acquire(ctx)
		if err != nil {
			return decision{}, err
		}
		defer release()
	}
	vec, err := s.embedder.Embed(ctx, normalizedText)
	if err != nil {
		return decision{}, err
	}

	type scored struct {
		intent string
		sim    float64
	}
	scores := make([]scored, 0, len(s.centroids))
	for intent, centroid := range s.centroids {
		scores = append(scores, scored{intent: intent, sim: cosineSim(vec, centroid)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].sim > scores[j].sim })

	if len(scores) >= 2 && scores[0].sim-scores[1].sim <= tieEps {
		return cont(), nil
	}
	return decided(scores[0].intent, scores[0].sim), nil
}

func averageEmbeddings(vecs [][]float32) []float32 {
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

func cosineSim(a, b []float32) float64 {
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
