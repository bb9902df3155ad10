// Package mock provides deterministic, in-memory implementations of the
// collaborators interfaces for tests and for the demo binary.
package mock

import (
	"context"
	"math"
	"sort"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
)

// HashEmbedder derives a deterministic, low-dimensional embedding from the
// bytes of the input text — good enough to exercise cosine similarity logic
// in tests without a real encoder.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of dim floats.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dim)
	for i, r := range text {
		vec[i%h.Dim] += float32(r % 31)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// ANNIndex is an in-memory ANN collaborator backed by a fixed corpus of
// (chunkID, embedding) pairs, ranked by cosine similarity.
type ANNIndex struct {
	Corpus map[string][]float32
}

func NewANNIndex() *ANNIndex { return &ANNIndex{Corpus: make(map[string][]float32)} }

func (a *ANNIndex) Search(_ context.Context, query []float32, topK int) ([]collaborators.ANNChunkHit, error) {
	hits := make([]collaborators.ANNChunkHit, 0, len(a.Corpus))
	for id, emb := range a.Corpus {
		hits = append(hits, collaborators.ANNChunkHit{ChunkID: id, Score: cosine(query, emb)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// MetadataStore is an in-memory chunk metadata collaborator.
type MetadataStore struct {
	Chunks map[string]collaborators.ChunkMetadata
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{Chunks: make(map[string]collaborators.ChunkMetadata)}
}

func (m *MetadataStore) GetChunks(_ context.Context, chunkIDs []string) ([]collaborators.ChunkMetadata, error) {
	out := make([]collaborators.ChunkMetadata, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := m.Chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// CrossEncoder scores pairs by cosine similarity between a hash-embedded
// query and hash-embedded chunk text, standing in for a real cross-encoder.
type CrossEncoder struct {
	embedder *HashEmbedder
}

func NewCrossEncoder(dim int) *CrossEncoder { return &CrossEncoder{embedder: NewHashEmbedder(dim)} }

func (c *CrossEncoder) Score(ctx context.Context, query string, chunkTexts []string) ([]float64, error) {
	qVec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(chunkTexts))
	for i, text := range chunkTexts {
		cVec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = cosine(qVec, cVec) * 4 // scale into a plausible pre-sigmoid logit range
	}
	return out, nil
}

// ConversationMemory is an in-memory conversation-turn store keyed by
// session id, newest-last.
type ConversationMemory struct {
	Turns map[string][]collaborators.ConversationTurn
}

func NewConversationMemory() *ConversationMemory {
	return &ConversationMemory{Turns: make(map[string][]collaborators.ConversationTurn)}
}

func (c *ConversationMemory) Append(sessionID, query, content string) {
	c.Turns[sessionID] = append(c.Turns[sessionID], collaborators.ConversationTurn{Query: query, Content: content})
}

func (c *ConversationMemory) GetRecentQueries(_ context.Context, sessionID string, n int) ([]string, error) {
	turns := c.Turns[sessionID]
	start := 0
	if len(turns) > n {
		start = len(turns) - n
	}
	out := make([]string, 0, len(turns)-start)
	for _, t := range turns[start:] {
		out = append(out, t.Query)
	}
	return out, nil
}

func (c *ConversationMemory) GetRecentTurns(_ context.Context, sessionID string, n int) ([]collaborators.ConversationTurn, error) {
	turns := c.Turns[sessionID]
	start := 0
	if len(turns) > n {
		start = len(turns) - n
	}
	return append([]collaborators.ConversationTurn(nil), turns[start:]...), nil
}

// ChatCompleter is a canned in-process chat completer, standing in for a
// real hosted-LLM SDK client in tests of generator.InProcessWorker.
type ChatCompleter struct {
	Response string
	Err      error
}

func (c *ChatCompleter) Complete(_ context.Context, _ string) (string, error) {
	return c.Response, c.Err
}
