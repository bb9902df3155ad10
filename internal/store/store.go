// Package store implements the durable mirrors for the topic cache and
// session history, following apps/rag-loader/internal/repository's sqlx
// conventions. A map-backed in-memory implementation is also provided for
// tests and for the embeddable/offline deployment mode.
package store

import (
	"context"

	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

// CacheRow is the durable representation of one TopicCache node, matching
// the cache_entries schema (SPEC_FULL.md §6).
type CacheRow struct {
	Key   topic.Key
	State topic.State
	Level int
}

// CacheStore is the durable mirror contract for the topic cache. Every
// mutation (insert, access update, promotion, demotion, eviction) maps to
// exactly one Upsert or one Delete call.
type CacheStore interface {
	Upsert(ctx context.Context, row CacheRow) error
	Delete(ctx context.Context, key topic.Key) error
	// LoadAll returns every row, ordered by LastAccessTS ascending, so the
	// caller can replay them into tiers with the most-recent at the back.
	LoadAll(ctx context.Context) ([]CacheRow, error)
}

// HistoryRow is the durable representation of one session history entry,
// matching the history_entries schema (SPEC_FULL.md §6).
type HistoryRow struct {
	SessionID       string
	Key             topic.Key
	QueryEmbedding  []float32
	ChunkIDs        []string
	Timestamp       float64
}

// HistoryStore is the durable mirror contract for session history.
type HistoryStore interface {
	Upsert(ctx context.Context, row HistoryRow) error
	// DeleteStale removes every row for sessionID with Timestamp < cutoff.
	DeleteStale(ctx context.Context, sessionID string, cutoff float64) error
	DeleteSession(ctx context.Context, sessionID string) error
	// LoadSession returns up to limit most-recent rows for sessionID,
	// ordered by Timestamp descending.
	LoadSession(ctx context.Context, sessionID string, limit int) ([]HistoryRow, error)
}
