// Package history implements the per-session semantic history buffer
// described in SPEC_FULL.md §4.2: a bounded FIFO of recent (topic key,
// query embedding, chunk ids) tuples with TTL eviction and cosine-similarity
// reuse lookup, grounded on
// _examples/original_source/backend/history_layer/history.py's
// ConversationHistory.
package history

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
	"github.com/developer-mesh/rag-retrieval-core/internal/store"
	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

// Clock lets tests substitute a deterministic time source.
type Clock func() time.Time

// Config configures one SessionHistory instance.
type Config struct {
	MaxSize      int
	MaxAge       time.Duration
	SimThreshold float64
}

type entry struct {
	key       topic.Key
	embedding []float32 // stored pre-normalized
	chunkIDs  []string
	timestamp float64
}

// SessionHistory is a bounded, TTL-evicting FIFO of recent query/result
// tuples for one session, backed by a HistoryStore for durability.
type SessionHistory struct {
	cfg       Config
	sessionID string
	store     store.HistoryStore
	clock     Clock
	logger    observability.Logger
	metrics   observability.MetricsClient

	mu      sync.Mutex
	entries *list.List // oldest at front, newest at back
	index   map[topic.Key]*list.Element
}

// Option configures optional collaborators.
type Option func(*SessionHistory)

func WithLogger(l observability.Logger) Option { return func(h *SessionHistory) { h.logger = l } }
func WithMetrics(m observability.MetricsClient) Option {
	return func(h *SessionHistory) { h.metrics = m }
}
func WithClock(clock Clock) Option { return func(h *SessionHistory) { h.clock = clock } }

// New constructs a SessionHistory for sessionID, replaying any persisted
// rows (newest-first from the store, reversed into oldest-first buffer
// order to match original_source's "reversed(entries)" replay).
func New(ctx context.Context, cfg Config, sessionID string, st store.HistoryStore, opts ...Option) (*SessionHistory, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 32
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if cfg.SimThreshold <= 0 {
		cfg.SimThreshold = 0.80
	}

	h := &SessionHistory{
		cfg:       cfg,
		sessionID: sessionID,
		store:     st,
		entries:   list.New(),
		index:     make(map[topic.Key]*list.Element),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = observability.NewLogger("history.session")
	}
	if h.metrics == nil {
		h.metrics = observability.NewMetricsClient()
	}
	if h.clock == nil {
		h.clock = time.Now
	}

	if st != nil {
		rows, err := st.LoadSession(ctx, sessionID, cfg.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load session history: %w", err)
		}
		// rows are newest-first; push front-to-back in reverse so the
		// buffer ends up oldest-at-front, newest-at-back.
		for i := len(rows) - 1; i >= 0; i-- {
			r := rows[i]
			e := &entry{key: r.Key, embedding: normalize(r.QueryEmbedding), chunkIDs: r.ChunkIDs, timestamp: r.Timestamp}
			elem := h.entries.PushBack(e)
			h.index[r.Key] = elem
		}
	}

	return h, nil
}

func (h *SessionHistory) now() float64 { return float64(h.clock().UnixNano()) / 1e9 }

// FindSimilar scans from most-recent to least-recent and returns the chunk
// ids of the first entry whose cosine similarity to queryEmbedding meets
// SimThreshold, or (nil, false) if none qualifies.
func (h *SessionHistory) FindSimilar(ctx context.Context, queryEmbedding []float32) ([]string, bool, error) {
	ctx, span := observability.StartSpan(ctx, "history.find_similar")
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.evictStaleLocked(ctx); err != nil {
		return nil, false, err
	}
	if h.entries.Len() == 0 {
		return nil, false, nil
	}

	q := normalize(queryEmbedding)
	for e := h.entries.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*entry)
		sim := cosine(q, ent.embedding)
		if sim >= h.cfg.SimThreshold {
			h.metrics.IncrementCounterWithLabels("history_reuse_total", 1, map[string]string{"result": "hit"})
			return append([]string(nil), ent.chunkIDs...), true, nil
		}
	}

	h.metrics.IncrementCounterWithLabels("history_reuse_total", 1, map[string]string{"result": "miss"})
	return nil, false, nil
}

// AddOrUpdate inserts a new entry for key, replacing any existing entry for
// the same key (moved to the back as most-recent), and evicts the
// least-recently-added entry if the buffer is now over MaxSize.
func (h *SessionHistory) AddOrUpdate(ctx context.Context, key topic.Key, queryEmbedding []float32, chunkIDs []string) error {
	ctx, span := observability.StartSpan(ctx, "history.add_or_update")
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.evictStaleLocked(ctx); err != nil {
		return err
	}

	now := h.now()
	e := &entry{key: key, embedding: normalize(queryEmbedding), chunkIDs: append([]string(nil), chunkIDs...), timestamp: now}

	if h.store != nil {
		row := store.HistoryRow{SessionID: h.sessionID, Key: key, QueryEmbedding: e.embedding, ChunkIDs: e.chunkIDs, Timestamp: now}
		if err := h.store.Upsert(ctx, row); err != nil {
			return fmt.Errorf("failed to persist history entry: %w", err)
		}
	}

	if elem, ok := h.index[key]; ok {
		h.entries.Remove(elem)
	}
	elem := h.entries.PushBack(e)
	h.index[key] = elem

	for h.entries.Len() > h.cfg.MaxSize {
		front := h.entries.Front()
		oldest := front.Value.(*entry)
		h.entries.Remove(front)
		delete(h.index, oldest.key)
	}

	return nil
}

// Clear removes every entry for this session, in memory and in the store.
func (h *SessionHistory) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store != nil {
		if err := h.store.DeleteSession(ctx, h.sessionID); err != nil {
			return fmt.Errorf("failed to clear session history: %w", err)
		}
	}
	h.entries.Init()
	h.index = make(map[topic.Key]*list.Element)
	return nil
}

// Size returns the current entry count.
func (h *SessionHistory) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.Len()
}

func (h *SessionHistory) evictStaleLocked(ctx context.Context) error {
	cutoff := h.now() - h.cfg.MaxAge.Seconds()
	var stale []*list.Element
	for e := h.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).timestamp < cutoff {
			stale = append(stale, e)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	if h.store != nil {
		if err := h.store.DeleteStale(ctx, h.sessionID, cutoff); err != nil {
			return fmt.Errorf("failed to evict stale history entries: %w", err)
		}
	}
	for _, e := range stale {
		ent := e.Value.(*entry)
		h.entries.Remove(e)
		delete(h.index, ent.key)
	}
	h.metrics.IncrementCounterWithLabels("history_eviction_total", float64(len(stale)), nil)
	return nil
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return append([]float32(nil), vec...)
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
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
