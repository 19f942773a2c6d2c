package improve

import (
	"context"
	"math"

	"github.com/barnabee/core/internal/llm"
	"github.com/barnabee/core/internal/store"
)

// Cluster is a group of signals whose utterance embeddings are mutually
// similar enough to be treated as one recurring failure pattern (spec
// §4.10).
type Cluster struct {
	Signals     []store.Signal
	DominantKind store.SignalKind
	Centroid    []float32
}

// clusterSignals groups sig by cosine similarity of their utterance
// embeddings using a simple greedy single-pass assignment: each signal
// joins the first existing cluster whose centroid is within
// similarityThreshold, else starts a new cluster. Clusters smaller than
// minSize are dropped (spec §4.10: "groups of ≥ 3").
func clusterSignals(ctx context.Context, embedder llm.Embedder, sigs []store.Signal, similarityThreshold float64, minSize int) ([]Cluster, error) {
	if len(sigs) == 0 {
		return nil, nil
	}

	utterances := make([]string, len(sigs))
	for i, s := range sigs {
		utterances[i] = s.Utterance
	}
	vecs, err := embedder.EmbedBatch(ctx, utterances)
	if err != nil {
		return nil, err
	}

	var clusters []Cluster
	for i, vec := range vecs {
		placed := false
		for ci := range clusters {
			if cosine(vec, clusters[ci].Centroid) >= similarityThreshold {
				clusters[ci].Signals = append(clusters[ci].Signals, sigs[i])
				clusters[ci].Centroid = recenter(clusters[ci].Centroid, len(clusters[ci].Signals), vec)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, Cluster{Signals: []store.Signal{sigs[i]}, Centroid: vec})
		}
	}

	var out []Cluster
	for _, c := range clusters {
		if len(c.Signals) < minSize {
			continue
		}
		c.DominantKind = dominantKind(c.Signals)
		out = append(out, c)
	}
	return out, nil
}

func dominantKind(sigs []store.Signal) store.SignalKind {
	counts := make(map[store.SignalKind]int, len(sigs))
	var best store.SignalKind
	bestCount := 0
	for _, s := range sigs {
		counts[s.Kind]++
		if counts[s.Kind] > bestCount {
			bestCount = counts[s.Kind]
			best = s.Kind
		}
	}
	return best
}

// recenter folds a newly-joined vector into a running centroid average.
func recenter(centroid []float32, newCount int, joined []float32) []float32 {
	if newCount <= 1 {
		return joined
	}
	out := make([]float32, len(centroid))
	prevCount := float32(newCount - 1)
	for i := range centroid {
		out[i] = (centroid[i]*prevCount + joined[i]) / float32(newCount)
	}
	return out
}

func cosine(a, b []float32) float64 {
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
