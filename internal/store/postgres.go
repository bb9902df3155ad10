package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

// PostgresCacheStore mirrors the topic cache into the cache_entries table,
// following apps/rag-loader/internal/repository/document_repository.go's
// ExecContext/fmt.Errorf("...: %w", err) style.
type PostgresCacheStore struct {
	db *sqlx.DB
}

// NewPostgresCacheStore wraps an existing *sqlx.DB.
func NewPostgresCacheStore(db *sqlx.DB) *PostgresCacheStore {
	return &PostgresCacheStore{db: db}
}

// CacheSchema is the DDL for cache_entries, carrying cached_chunk_ids_json from
// the start (see SPEC_FULL.md §4.6 — the Open Question about PgTopicCache's
// missing column is resolved by including it here).
const CacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	topic_label           TEXT NOT NULL,
	modality_filter       TEXT NOT NULL,
	retrieval_policy      TEXT NOT NULL,
	cached_chunk_ids_json TEXT NOT NULL,
	access_count          BIGINT NOT NULL,
	last_access_ts        DOUBLE PRECISION NOT NULL,
	first_seen_ts         DOUBLE PRECISION NOT NULL,
	score                 DOUBLE PRECISION NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	level                 SMALLINT NOT NULL,
	PRIMARY KEY (topic_label, modality_filter, retrieval_policy)
)`

func (p *PostgresCacheStore) Upsert(ctx context.Context, row CacheRow) error {
	chunkIDsJSON, err := json.Marshal(row.State.CachedChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal cached chunk ids: %w", err)
	}

	query := `
		INSERT INTO cache_entries (
			topic_label, modality_filter, retrieval_policy, cached_chunk_ids_json,
			access_count, last_access_ts, first_seen_ts, score, confidence, level
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (topic_label, modality_filter, retrieval_policy) DO UPDATE SET
			cached_chunk_ids_json = EXCLUDED.cached_chunk_ids_json,
			access_count = EXCLUDED.access_count,
			last_access_ts = EXCLUDED.last_access_ts,
			first_seen_ts = EXCLUDED.first_seen_ts,
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			level = EXCLUDED.level`

	_, err = p.db.ExecContext(ctx, query,
		row.Key.TopicLabel, string(row.Key.ModalityFilter), row.Key.RetrievalPolicy, string(chunkIDsJSON),
		row.State.AccessCount, row.State.LastAccessTS, row.State.FirstSeenTS, row.State.Score, row.State.Confidence,
		row.Level,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (p *PostgresCacheStore) Delete(ctx context.Context, key topic.Key) error {
	query := `DELETE FROM cache_entries WHERE topic_label = $1 AND modality_filter = $2 AND retrieval_policy = $3`
	_, err := p.db.ExecContext(ctx, query, key.TopicLabel, string(key.ModalityFilter), key.RetrievalPolicy)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

type cacheEntryRow struct {
	TopicLabel        string  `db:"topic_label"`
	ModalityFilter    string  `db:"modality_filter"`
	RetrievalPolicy   string  `db:"retrieval_policy"`
	CachedChunkIDsRaw string  `db:"cached_chunk_ids_json"`
	AccessCount       int64   `db:"access_count"`
	LastAccessTS      float64 `db:"last_access_ts"`
	FirstSeenTS       float64 `db:"first_seen_ts"`
	Score             float64 `db:"score"`
	Confidence        float64 `db:"confidence"`
	Level             int     `db:"level"`
}

func (p *PostgresCacheStore) LoadAll(ctx context.Context) ([]CacheRow, error) {
	query := `
		SELECT topic_label, modality_filter, retrieval_policy, cached_chunk_ids_json,
		       access_count, last_access_ts, first_seen_ts, score, confidence, level
		FROM cache_entries
		ORDER BY last_access_ts ASC`

	var rows []cacheEntryRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	out := make([]CacheRow, 0, len(rows))
	for _, r := range rows {
		var chunkIDs []string
		if err := json.Unmarshal([]byte(r.CachedChunkIDsRaw), &chunkIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached chunk ids: %w", err)
		}
		out = append(out, CacheRow{
			Key: topic.Key{
				TopicLabel:      r.TopicLabel,
				ModalityFilter:  topic.Modality(r.ModalityFilter),
				RetrievalPolicy: r.RetrievalPolicy,
			},
			State: topic.State{
				CachedChunkIDs: chunkIDs,
				AccessCount:    r.AccessCount,
				LastAccessTS:   r.LastAccessTS,
				FirstSeenTS:    r.FirstSeenTS,
				Score:          r.Score,
				Confidence:     r.Confidence,
			},
			Level: r.Level,
		})
	}
	return out, nil
}

// PostgresHistoryStore mirrors session history into the history_entries
// table.
type PostgresHistoryStore struct {
	db *sqlx.DB
}

// NewPostgresHistoryStore wraps an existing *sqlx.DB.
func NewPostgresHistoryStore(db *sqlx.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

// HistorySchema is the DDL for history_entries.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS history_entries (
	session_id            TEXT NOT NULL,
	topic_label           TEXT NOT NULL,
	modality_filter       TEXT NOT NULL,
	retrieval_policy      TEXT NOT NULL,
	query_embedding_bytes BYTEA NOT NULL,
	chunk_ids_json        TEXT NOT NULL,
	timestamp             DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (session_id, topic_label, modality_filter, retrieval_policy)
)`

// EncodeEmbedding serializes a float32 vector to a little-endian byte
// buffer, matching original_source's np.float32.tobytes() round trip.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func (p *PostgresHistoryStore) Upsert(ctx context.Context, row HistoryRow) error {
	chunkIDsJSON, err := json.Marshal(row.ChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk ids: %w", err)
	}

	query := `
		INSERT INTO history_entries (
			session_id, topic_label, modality_filter, retrieval_policy,
			query_embedding_bytes, chunk_ids_json, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, topic_label, modality_filter, retrieval_policy) DO UPDATE SET
			query_embedding_bytes = EXCLUDED.query_embedding_bytes,
			chunk_ids_json = EXCLUDED.chunk_ids_json,
			timestamp = EXCLUDED.timestamp`

	_, err = p.db.ExecContext(ctx, query,
		row.SessionID, row.Key.TopicLabel, string(row.Key.ModalityFilter), row.Key.RetrievalPolicy,
		EncodeEmbedding(row.QueryEmbedding), string(chunkIDsJSON), row.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert history entry: %w", err)
	}
	return nil
}

func (p *PostgresHistoryStore) DeleteStale(ctx context.Context, sessionID string, cutoff float64) error {
	query := `DELETE FROM history_entries WHERE session_id = $1 AND timestamp < $2`
	_, err := p.db.ExecContext(ctx, query, sessionID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete stale history entries: %w", err)
	}
	return nil
}

func (p *PostgresHistoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	query := `DELETE FROM history_entries WHERE session_id = $1`
	_, err := p.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session history: %w", err)
	}
	return nil
}

type historyEntryRow struct {
	SessionID        string  `db:"session_id"`
	TopicLabel       string  `db:"topic_label"`
	ModalityFilter   string  `db:"modality_filter"`
	RetrievalPolicy  string  `db:"retrieval_policy"`
	QueryEmbedding   []byte  `db:"query_embedding_bytes"`
	ChunkIDsRaw      string  `db:"chunk_ids_json"`
	Timestamp        float64 `db:"timestamp"`
}

func (p *PostgresHistoryStore) LoadSession(ctx context.Context, sessionID string, limit int) ([]HistoryRow, error) {
	query := `
		SELECT session_id, topic_label, modality_filter, retrieval_policy,
		       query_embedding_bytes, chunk_ids_json, timestamp
		FROM history_entries
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	var rows []historyEntryRow
	if err := p.db.SelectContext(ctx, &rows, query, sessionID, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	out := make([]HistoryRow, 0, len(rows))
	for _, r := range rows {
		var chunkIDs []string
		if err := json.Unmarshal([]byte(r.ChunkIDsRaw), &chunkIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk ids: %w", err)
		}
		out = append(out, HistoryRow{
			SessionID: r.SessionID,
			Key: topic.Key{
				TopicLabel:      r.TopicLabel,
				ModalityFilter:  topic.Modality(r.ModalityFilter),
				RetrievalPolicy: r.RetrievalPolicy,
			},
			QueryEmbedding: DecodeEmbedding(r.QueryEmbedding),
			ChunkIDs:       chunkIDs,
			Timestamp:      r.Timestamp,
		})
	}
	return out, nil
}
