package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps fixed strings to fixed vectors so centroid math is
// deterministic and does not depend on a live embedding provider.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(context.Background(), t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestCentroidClassifierPicksNearestCentroid(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"turn on kitchen light":  {1, 0, 0},
		"turn on living light":   {0.9, 0.1, 0},
		"what is the weather":    {0, 1, 0},
		"will it rain tomorrow":  {0, 0.9, 0.1},
	}}

	examples := map[string][]string{
		"light_on":     {"turn on kitchen light", "turn on living light"},
		"weather_info": {"what is the weather", "will it rain tomorrow"},
	}

	classifier, err := NewCentroidClassifier(context.Background(), embedder, examples)
	require.NoError(t, err)

	embedder.vectors["turn on the bedroom light"] = []float32{0.95, 0.05, 0}
	result, err := classifier.Classify(context.Background(), "turn on the bedroom light")
	require.NoError(t, err)
	require.Equal(t, "light_on", result.Intent)
	require.Greater(t, result.Confidence, 0.5)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestAverageVectors(t *testing.T) {
	avg := averageVectors([][]float32{{2, 4}, {4, 8}})
	require.InDeltaSlice(t, []float64{3, 6}, toFloat64(avg), 1e-9)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
