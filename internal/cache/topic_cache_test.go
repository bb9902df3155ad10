package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/rag-retrieval-core/internal/store"
	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

func testConfig() Config {
	return Config{
		L1Capacity:  2,
		L2Capacity:  2,
		L3Capacity:  3,
		L2Threshold: 3,
		L3Threshold: 2,
	}
}

func newTestCache(t *testing.T) *TopicCache {
	t.Helper()
	c, err := New(context.Background(), testConfig(), store.NewMemoryCacheStore())
	require.NoError(t, err)
	return c
}

func TestNew_RejectsInvalidCapacity(t *testing.T) {
	_, err := New(context.Background(), Config{L1Capacity: 0, L2Capacity: 1, L3Capacity: 1}, store.NewMemoryCacheStore())
	assert.Error(t, err)
}

func TestInsertNew_MissThenHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := topic.New("golang channels", topic.ModalityText, topic.DefaultPolicy)

	_, found, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	state, err := c.InsertNew(ctx, key, []string{"chunk-1", "chunk-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.AccessCount)

	state, found, err = c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), state.AccessCount)
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, state.CachedChunkIDs)

	counts := c.DebugCounts()
	assert.Equal(t, 1, counts["L2"])
}

func TestInsertNew_IdempotentOnExistingKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := topic.New("golang channels", topic.ModalityText, topic.DefaultPolicy)

	first, err := c.InsertNew(ctx, key, []string{"chunk-1"})
	require.NoError(t, err)

	second, err := c.InsertNew(ctx, key, []string{"chunk-2", "chunk-3"})
	require.NoError(t, err)

	assert.Equal(t, first.CachedChunkIDs, second.CachedChunkIDs)
}

func TestPromotion_L3ToL2ToL1(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := topic.New("rate limiting", topic.ModalityText, topic.DefaultPolicy)

	_, err := c.InsertNew(ctx, key, []string{"c1"})
	require.NoError(t, err)

	// Access count 2 hits L3Threshold=2 -> promotes to L2.
	_, _, err = c.Lookup(ctx, key)
	require.NoError(t, err)
	counts := c.DebugCounts()
	assert.Equal(t, 0, counts["L3"])
	assert.Equal(t, 1, counts["L2"])

	// Access count 3 hits L2Threshold=3 -> promotes to L1.
	_, _, err = c.Lookup(ctx, key)
	require.NoError(t, err)
	counts = c.DebugCounts()
	assert.Equal(t, 0, counts["L2"])
	assert.Equal(t, 1, counts["L1"])
}

func TestCapacityOverflow_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	keys := make([]topic.Key, 4)
	for i := range keys {
		keys[i] = topic.New(string(rune('a'+i))+" topic", topic.ModalityText, topic.DefaultPolicy)
		_, err := c.InsertNew(ctx, keys[i], []string{"c"})
		require.NoError(t, err)
	}

	// L3 capacity is 3; the 4th insert must evict the least-recently
	// touched entry (keys[0]) out of the cache entirely.
	counts := c.DebugCounts()
	assert.Equal(t, 3, counts["L3"])
	assert.Equal(t, 3, counts["TOTAL"])

	_, found, err := c.Lookup(ctx, keys[0])
	require.NoError(t, err)
	assert.False(t, found, "oldest entry should have been evicted from L3")

	for _, k := range keys[1:] {
		_, found, err := c.Lookup(ctx, k)
		require.NoError(t, err)
		assert.True(t, found)
	}
}

func TestDebugCounts_MatchesDirectory(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := topic.New(string(rune('a'+i))+" topic", topic.ModalityText, topic.DefaultPolicy)
		_, err := c.InsertNew(ctx, key, nil)
		require.NoError(t, err)
	}

	counts := c.DebugCounts()
	assert.Equal(t, counts["L1"]+counts["L2"]+counts["L3"], counts["TOTAL"])
}

func TestNew_ReplaysPersistedRows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryCacheStore()

	c1, err := New(ctx, testConfig(), st)
	require.NoError(t, err)
	key := topic.New("persisted topic", topic.ModalityText, topic.DefaultPolicy)
	_, err = c1.InsertNew(ctx, key, []string{"c1"})
	require.NoError(t, err)

	c2, err := New(ctx, testConfig(), st)
	require.NoError(t, err)
	state, found, err := c2.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"c1"}, state.CachedChunkIDs)
}

func TestAssertInvariants_DoesNotPanicUnderNormalOperation(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = true
	c, err := New(context.Background(), cfg, store.NewMemoryCacheStore())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		key := topic.New(string(rune('a'+i))+" topic", topic.ModalityText, topic.DefaultPolicy)
		_, err := c.InsertNew(ctx, key, nil)
		require.NoError(t, err)
		_, _, err = c.Lookup(ctx, key)
		require.NoError(t, err)
	}

	assert.NotPanics(t, func() { c.assertInvariants() })
}
