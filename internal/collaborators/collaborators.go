// Package collaborators defines the external boundaries the retrieval core
// depends on but does not implement: embedding generation, ANN search,
// chunk metadata lookup, cross-encoder scoring, and conversation memory.
// These mirror spec.md §1's explicit Non-goals (the core never embeds an
// encoder, ANN index, or vector database) — only interfaces live here, with
// mock implementations under collaborators/mock for tests.
package collaborators

import "context"

// Embedder turns text into a unit-norm or raw embedding vector. The core
// never reuses a reference into the embedding model — every returned slice
// is a value-typed copy the caller owns.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ANNChunkHit is one approximate-nearest-neighbor search result.
type ANNChunkHit struct {
	ChunkID string
	Score   float64
}

// ANNIndex is the external vector index collaborator.
type ANNIndex interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]ANNChunkHit, error)
}

// ChunkMetadata is the opaque-to-the-core chunk record spec.md §3 describes;
// the core only inspects ChunkText and SourcePath.
type ChunkMetadata struct {
	ChunkID     string
	DocumentID  string
	SourcePath  string
	Modality    string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	ChunkText   string
	Embedding   []float32 // optional, used by the lightweight reranker/validator when present
}

// MetadataStore resolves chunk ids to their full records.
type MetadataStore interface {
	GetChunks(ctx context.Context, chunkIDs []string) ([]ChunkMetadata, error)
}

// CrossEncoderProvider scores (query, chunk text) pairs with an external
// cross-encoder model, returning one raw (pre-sigmoid) score per pair in
// the same order as the input.
type CrossEncoderProvider interface {
	Score(ctx context.Context, query string, chunkTexts []string) ([]float64, error)
}

// ConversationTurn is one exchange in a session's prior history, used for
// contextual expansion and for the generator's conversation tail.
type ConversationTurn struct {
	Query   string
	Content string
}

// ConversationMemory supplies recent turns for a session. The core treats
// it as read-only context; it never writes through this interface.
type ConversationMemory interface {
	GetRecentQueries(ctx context.Context, sessionID string, n int) ([]string, error)
	GetRecentTurns(ctx context.Context, sessionID string, n int) ([]ConversationTurn, error)
}
