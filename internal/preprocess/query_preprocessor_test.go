package preprocess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators/mock"
)

func TestPreprocess_StripsFillerPrefix(t *testing.T) {
	p := New(nil, nil)
	out, err := p.Preprocess(context.Background(), "tell me about goroutines", "s1")
	require.NoError(t, err)
	assert.Equal(t, "goroutines", out)
}

func TestPreprocess_KeepsOriginalWhenStrippedTooShort(t *testing.T) {
	p := New(nil, nil)
	out, err := p.Preprocess(context.Background(), "find me go", "s1")
	require.NoError(t, err)
	assert.Equal(t, "find me go", out)
}

func TestPreprocess_NoFillerPassesThrough(t *testing.T) {
	p := New(nil, nil)
	out, err := p.Preprocess(context.Background(), "what is a goroutine", "s1")
	require.NoError(t, err)
	assert.Equal(t, "what is a goroutine", out)
}

func TestPreprocess_Idempotent(t *testing.T) {
	p := New(nil, nil)
	ctx := context.Background()
	for _, q := range []string{"tell me about goroutines", "what is a channel", "please find the report"} {
		once, err := p.Preprocess(ctx, q, "s1")
		require.NoError(t, err)
		twice, err := p.Preprocess(ctx, once, "s1")
		require.NoError(t, err)
		assert.Equal(t, once, twice, q)
	}
}

func TestPreprocess_ContextualExpansionOnShortFollowUp(t *testing.T) {
	mem := mock.NewConversationMemory()
	mem.Append("s1", "how do goroutines work", "")
	mem.Append("s1", "what about channels in goroutines", "")
	embedder := mock.NewHashEmbedder(16)

	p := New(mem, embedder)
	out, err := p.Preprocess(context.Background(), "what about that", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "|")
	assert.Contains(t, out, "what about that")
}

func TestPreprocess_NoExpansionWithoutTwoRecentQueries(t *testing.T) {
	mem := mock.NewConversationMemory()
	mem.Append("s1", "how do goroutines work", "")
	embedder := mock.NewHashEmbedder(16)

	p := New(mem, embedder)
	out, err := p.Preprocess(context.Background(), "more", "s1")
	require.NoError(t, err)
	assert.Equal(t, "more", out)
}

func TestPreprocess_LongQueryWithoutMarkerSkipsExpansion(t *testing.T) {
	mem := mock.NewConversationMemory()
	mem.Append("s1", "how do goroutines work", "")
	mem.Append("s1", "what about channels in goroutines", "")
	embedder := mock.NewHashEmbedder(16)

	p := New(mem, embedder)
	query := "explain the differences between mutexes and atomics in detail"
	out, err := p.Preprocess(context.Background(), query, "s1")
	require.NoError(t, err)
	assert.Equal(t, query, out)
}
