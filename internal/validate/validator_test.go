package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_NoChunks(t *testing.T) {
	v := New(Config{}, nil, nil)
	result := v.Validate(context.Background(), "goroutines", nil, nil)
	assert.False(t, result.IsValid)
	assert.Equal(t, "no chunks to validate", result.Reason)
}

func TestValidate_KeywordOverlapPassesWithoutEmbeddings(t *testing.T) {
	v := New(Config{MinSimilarity: 0.3}, nil, nil)
	chunks := []Chunk{
		{ChunkID: "a", Text: "goroutines are lightweight threads managed by the go runtime"},
		{ChunkID: "b", Text: "completely unrelated potato recipe with no overlap words"},
	}
	result := v.Validate(context.Background(), "goroutines runtime", chunks, nil)
	require.True(t, result.IsValid)
	require.Len(t, result.Validated, 1)
	assert.Equal(t, "a", result.Validated[0].ChunkID)
}

func TestValidate_AllChunksRejectedProducesRetryQuery(t *testing.T) {
	v := New(Config{MinSimilarity: 0.9}, nil, nil)
	chunks := []Chunk{{ChunkID: "a", Text: "nothing relevant here"}}
	result := v.Validate(context.Background(), "goroutines", chunks, nil)
	assert.False(t, result.IsValid)
	assert.Equal(t, "What is goroutines?", result.RetryQuery)
}

func TestValidate_RetryQueryAddsQuestionMarkVariant(t *testing.T) {
	v := New(Config{MinSimilarity: 0.9}, nil, nil)
	chunks := []Chunk{{ChunkID: "a", Text: "nothing relevant here"}}
	result := v.Validate(context.Background(), "what about goroutines?", chunks, nil)
	assert.Equal(t, "detailed information about what about goroutines?", result.RetryQuery)
}

func TestValidateWithRetry_SucceedsOnFirstAttempt(t *testing.T) {
	v := New(Config{MinSimilarity: 0.15, MaxRetries: 2}, nil, nil)
	chunks := []Chunk{{ChunkID: "a", Text: "goroutines and channels in go"}}

	calls := 0
	retrievalFn := func(ctx context.Context, query string) ([]Chunk, []float32, error) {
		calls++
		return chunks, nil, nil
	}

	result, retries, err := v.ValidateWithRetry(context.Background(), "goroutines", retrievalFn, chunks, nil)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 0, retries)
	assert.Equal(t, 0, calls)
}

func TestValidateWithRetry_RetriesThenSucceeds(t *testing.T) {
	v := New(Config{MinSimilarity: 0.5, MaxRetries: 2}, nil, nil)
	initial := []Chunk{{ChunkID: "a", Text: "nothing relevant"}}
	good := []Chunk{{ChunkID: "b", Text: "goroutines channels go runtime scheduler"}}

	calls := 0
	retrievalFn := func(ctx context.Context, query string) ([]Chunk, []float32, error) {
		calls++
		return good, nil, nil
	}

	result, retries, err := v.ValidateWithRetry(context.Background(), "goroutines channels go runtime", retrievalFn, initial, nil)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 1, retries)
	assert.Equal(t, 1, calls)
}

func TestValidateWithRetry_ExhaustsRetriesReturnsLastResult(t *testing.T) {
	v := New(Config{MinSimilarity: 0.99, MaxRetries: 2}, nil, nil)
	chunks := []Chunk{{ChunkID: "a", Text: "nothing relevant at all"}}

	calls := 0
	retrievalFn := func(ctx context.Context, query string) ([]Chunk, []float32, error) {
		calls++
		return chunks, nil, nil
	}

	result, retries, err := v.ValidateWithRetry(context.Background(), "goroutines", retrievalFn, chunks, nil)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 2, calls)
}

func TestValidateWithRetry_PropagatesFetchError(t *testing.T) {
	v := New(Config{MinSimilarity: 0.99, MaxRetries: 2}, nil, nil)
	chunks := []Chunk{{ChunkID: "a", Text: "nothing relevant at all"}}

	retrievalFn := func(ctx context.Context, query string) ([]Chunk, []float32, error) {
		return nil, nil, errors.New("retrieval backend down")
	}

	_, _, err := v.ValidateWithRetry(context.Background(), "goroutines", retrievalFn, chunks, nil)
	require.Error(t, err)
}
