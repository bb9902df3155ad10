package store

import (
	"context"
	"sort"
	"sync"

	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

// MemoryCacheStore is a map-backed CacheStore, used for tests and the
// offline deployment mode where no relational backend is configured.
type MemoryCacheStore struct {
	mu   sync.Mutex
	rows map[topic.Key]CacheRow
}

// NewMemoryCacheStore creates an empty MemoryCacheStore.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{rows: make(map[topic.Key]CacheRow)}
}

func (m *MemoryCacheStore) Upsert(_ context.Context, row CacheRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.Key] = CacheRow{Key: row.Key, State: row.State.Clone(), Level: row.Level}
	return nil
}

func (m *MemoryCacheStore) Delete(_ context.Context, key topic.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key)
	return nil
}

func (m *MemoryCacheStore) LoadAll(_ context.Context) ([]CacheRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CacheRow, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, CacheRow{Key: row.Key, State: row.State.Clone(), Level: row.Level})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State.LastAccessTS < out[j].State.LastAccessTS })
	return out, nil
}

// MemoryHistoryStore is a map-backed HistoryStore.
type MemoryHistoryStore struct {
	mu   sync.Mutex
	rows map[string]map[topic.Key]HistoryRow // sessionID -> key -> row
}

// NewMemoryHistoryStore creates an empty MemoryHistoryStore.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{rows: make(map[string]map[topic.Key]HistoryRow)}
}

func (m *MemoryHistoryStore) Upsert(_ context.Context, row HistoryRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.rows[row.SessionID]
	if !ok {
		session = make(map[topic.Key]HistoryRow)
		m.rows[row.SessionID] = session
	}
	cp := row
	cp.QueryEmbedding = append([]float32(nil), row.QueryEmbedding...)
	cp.ChunkIDs = append([]string(nil), row.ChunkIDs...)
	session[row.Key] = cp
	return nil
}

func (m *MemoryHistoryStore) DeleteStale(_ context.Context, sessionID string, cutoff float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.rows[sessionID]
	if !ok {
		return nil
	}
	for k, row := range session {
		if row.Timestamp < cutoff {
			delete(session, k)
		}
	}
	return nil
}

func (m *MemoryHistoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, sessionID)
	return nil
}

func (m *MemoryHistoryStore) LoadSession(_ context.Context, sessionID string, limit int) ([]HistoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.rows[sessionID]
	out := make([]HistoryRow, 0, len(session))
	for _, row := range session {
		cp := row
		cp.QueryEmbedding = append([]float32(nil), row.QueryEmbedding...)
		cp.ChunkIDs = append([]string(nil), row.ChunkIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
