package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
)

// LightweightReranker scores candidates by cosine similarity against the
// (normalized) query embedding, used when the cross-encoder is unavailable
// or the candidate source is already high-confidence, grounded on
// pkg/rag/retrieval/mmr.go's cosineSimilarity helper.
type LightweightReranker struct {
	embedder collaborators.Embedder
	metrics  observability.MetricsClient
}

// NewLightweightReranker constructs a LightweightReranker. embedder may be
// nil if every candidate is guaranteed to arrive with an Embedding set.
func NewLightweightReranker(embedder collaborators.Embedder, metrics observability.MetricsClient) *LightweightReranker {
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}
	return &LightweightReranker{embedder: embedder, metrics: metrics}
}

// Rerank scores each candidate by cosine similarity to opts.QueryEmbedding,
// computing a candidate's embedding on the fly via the injected Embedder
// when one isn't already attached.
func (l *LightweightReranker) Rerank(ctx context.Context, query string, candidates []Candidate, opts Options) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ctx, span := observability.StartSpan(ctx, "rerank.lightweight")
	defer span.End()

	queryEmbedding := opts.QueryEmbedding
	if len(queryEmbedding) == 0 && l.embedder != nil {
		var err error
		queryEmbedding, err = l.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query for lightweight rerank: %w", err)
		}
	}

	out := make([]Candidate, len(candidates))
	for i, cand := range candidates {
		emb := cand.Embedding
		if len(emb) == 0 && l.embedder != nil {
			var err error
			emb, err = l.embedder.Embed(ctx, cand.Text)
			if err != nil {
				return nil, fmt.Errorf("failed to embed candidate for lightweight rerank: %w", err)
			}
		}
		cand.Score = cosine(queryEmbedding, emb)
		cand.OriginalRank = i
		out[i] = cand
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	topK := opts.TopK
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}

	l.metrics.IncrementCounter("rerank_lightweight_total", 1)
	return out, nil
}
