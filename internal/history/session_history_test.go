package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/rag-retrieval-core/internal/store"
	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

func newTestHistory(t *testing.T) *SessionHistory {
	t.Helper()
	h, err := New(context.Background(), Config{MaxSize: 3, MaxAge: time.Hour, SimThreshold: 0.9}, "session-1", store.NewMemoryHistoryStore())
	require.NoError(t, err)
	return h
}

func TestFindSimilar_EmptyBuffer(t *testing.T) {
	h := newTestHistory(t)
	_, found, err := h.FindSimilar(context.Background(), []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddOrUpdate_ThenFindSimilar(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	key := topic.New("go concurrency", topic.ModalityText, topic.DefaultPolicy)

	err := h.AddOrUpdate(ctx, key, []float32{1, 0, 0}, []string{"c1", "c2"})
	require.NoError(t, err)

	chunks, found, err := h.FindSimilar(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"c1", "c2"}, chunks)
}

func TestFindSimilar_BelowThresholdMisses(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	key := topic.New("go concurrency", topic.ModalityText, topic.DefaultPolicy)

	err := h.AddOrUpdate(ctx, key, []float32{1, 0, 0}, []string{"c1"})
	require.NoError(t, err)

	// Orthogonal vector has cosine similarity 0, well under the 0.9 threshold.
	_, found, err := h.FindSimilar(ctx, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddOrUpdate_SameKeyReplacesAndMovesToBack(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	key := topic.New("go concurrency", topic.ModalityText, topic.DefaultPolicy)

	require.NoError(t, h.AddOrUpdate(ctx, key, []float32{1, 0, 0}, []string{"c1"}))
	require.NoError(t, h.AddOrUpdate(ctx, key, []float32{1, 0, 0}, []string{"c2"}))

	assert.Equal(t, 1, h.Size())
	chunks, found, err := h.FindSimilar(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"c2"}, chunks)
}

func TestAddOrUpdate_EvictsOldestWhenOverCapacity(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	keys := make([]topic.Key, 4)
	for i := range keys {
		keys[i] = topic.New(string(rune('a'+i))+" topic", topic.ModalityText, topic.DefaultPolicy)
		require.NoError(t, h.AddOrUpdate(ctx, keys[i], []float32{1, 0, 0}, []string{"c"}))
	}

	assert.Equal(t, 3, h.Size())
}

func TestEvictStale_RemovesExpiredEntries(t *testing.T) {
	now := time.Now()
	fake := now
	clock := func() time.Time { return fake }

	h, err := New(context.Background(), Config{MaxSize: 8, MaxAge: time.Minute, SimThreshold: 0.9}, "session-2", store.NewMemoryHistoryStore(), WithClock(clock))
	require.NoError(t, err)

	ctx := context.Background()
	key := topic.New("stale topic", topic.ModalityText, topic.DefaultPolicy)
	require.NoError(t, h.AddOrUpdate(ctx, key, []float32{1, 0, 0}, []string{"c1"}))
	assert.Equal(t, 1, h.Size())

	fake = now.Add(2 * time.Minute)
	_, found, err := h.FindSimilar(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, h.Size())
}

func TestClear_RemovesAllEntries(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	key := topic.New("go concurrency", topic.ModalityText, topic.DefaultPolicy)
	require.NoError(t, h.AddOrUpdate(ctx, key, []float32{1, 0, 0}, []string{"c1"}))

	require.NoError(t, h.Clear(ctx))
	assert.Equal(t, 0, h.Size())
}

func TestNew_ReplaysPersistedRowsOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryHistoryStore()

	now := time.Now()
	fake := now
	clock := func() time.Time { return fake }

	h1, err := New(ctx, Config{MaxSize: 3, MaxAge: time.Hour, SimThreshold: 0.9}, "session-3", st, WithClock(clock))
	require.NoError(t, err)
	key1 := topic.New("first", topic.ModalityText, topic.DefaultPolicy)
	key2 := topic.New("second", topic.ModalityText, topic.DefaultPolicy)
	// Both entries match the probe below; FindSimilar returns the one
	// nearest the back, so only an oldest-first replay yields c2.
	require.NoError(t, h1.AddOrUpdate(ctx, key1, []float32{0, 1, 0}, []string{"c1"}))
	fake = now.Add(time.Second)
	require.NoError(t, h1.AddOrUpdate(ctx, key2, []float32{0, 1, 0}, []string{"c2"}))

	h2, err := New(ctx, Config{MaxSize: 3, MaxAge: time.Hour, SimThreshold: 0.9}, "session-3", st)
	require.NoError(t, err)
	assert.Equal(t, 2, h2.Size())

	chunks, found, err := h2.FindSimilar(ctx, []float32{0, 1, 0})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"c2"}, chunks)
}
