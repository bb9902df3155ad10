package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

func newMockCacheStore(t *testing.T) (*PostgresCacheStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewPostgresCacheStore(sqlxDB), mock, func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("failed to close mock db: %v", closeErr)
		}
	}
}

func TestPostgresCacheStore_Upsert(t *testing.T) {
	repo, mock, closeDB := newMockCacheStore(t)
	defer closeDB()

	key := topic.Key{TopicLabel: "golang", ModalityFilter: topic.ModalityText, RetrievalPolicy: topic.DefaultPolicy}
	row := CacheRow{
		Key:   key,
		State: topic.State{CachedChunkIDs: []string{"c1", "c2"}, AccessCount: 4, LastAccessTS: 100, FirstSeenTS: 90, Score: 0.5, Confidence: 0.8},
		Level: 3,
	}

	mock.ExpectExec("INSERT INTO cache_entries").
		WithArgs(key.TopicLabel, string(key.ModalityFilter), key.RetrievalPolicy, `["c1","c2"]`,
			row.State.AccessCount, row.State.LastAccessTS, row.State.FirstSeenTS, row.State.Score, row.State.Confidence, row.Level).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), row)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheStore_Delete(t *testing.T) {
	repo, mock, closeDB := newMockCacheStore(t)
	defer closeDB()

	key := topic.Key{TopicLabel: "golang", ModalityFilter: topic.ModalityText, RetrievalPolicy: topic.DefaultPolicy}
	mock.ExpectExec("DELETE FROM cache_entries").
		WithArgs(key.TopicLabel, string(key.ModalityFilter), key.RetrievalPolicy).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), key)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheStore_LoadAll(t *testing.T) {
	repo, mock, closeDB := newMockCacheStore(t)
	defer closeDB()

	rows := sqlmock.NewRows([]string{
		"topic_label", "modality_filter", "retrieval_policy", "cached_chunk_ids_json",
		"access_count", "last_access_ts", "first_seen_ts", "score", "confidence", "level",
	}).AddRow("golang", "text", "default", `["c1"]`, int64(2), 100.0, 90.0, 0.5, 0.8, 2)

	mock.ExpectQuery("SELECT topic_label, modality_filter, retrieval_policy, cached_chunk_ids_json").
		WillReturnRows(rows)

	out, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "golang", out[0].Key.TopicLabel)
	assert.Equal(t, []string{"c1"}, out[0].State.CachedChunkIDs)
	assert.Equal(t, 2, out[0].Level)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newMockHistoryStore(t *testing.T) (*PostgresHistoryStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewPostgresHistoryStore(sqlxDB), mock, func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("failed to close mock db: %v", closeErr)
		}
	}
}

func TestPostgresHistoryStore_Upsert(t *testing.T) {
	repo, mock, closeDB := newMockHistoryStore(t)
	defer closeDB()

	key := topic.Key{TopicLabel: "golang", ModalityFilter: topic.ModalityText, RetrievalPolicy: topic.DefaultPolicy}
	row := HistoryRow{SessionID: "s1", Key: key, QueryEmbedding: []float32{0.1, 0.2}, ChunkIDs: []string{"c1"}, Timestamp: 123}

	mock.ExpectExec("INSERT INTO history_entries").
		WithArgs(row.SessionID, key.TopicLabel, string(key.ModalityFilter), key.RetrievalPolicy,
			EncodeEmbedding(row.QueryEmbedding), `["c1"]`, row.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), row)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryStore_LoadSession(t *testing.T) {
	repo, mock, closeDB := newMockHistoryStore(t)
	defer closeDB()

	embBytes := EncodeEmbedding([]float32{0.1, 0.2})
	rows := sqlmock.NewRows([]string{
		"session_id", "topic_label", "modality_filter", "retrieval_policy",
		"query_embedding_bytes", "chunk_ids_json", "timestamp",
	}).AddRow("s1", "golang", "text", "default", embBytes, `["c1"]`, 123.0)

	mock.ExpectQuery("SELECT session_id, topic_label, modality_filter, retrieval_policy").
		WithArgs("s1", 10).
		WillReturnRows(rows)

	out, err := repo.LoadSession(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "s1", out[0].SessionID)
	assert.Equal(t, []string{"c1"}, out[0].ChunkIDs)
	assert.InDelta(t, float32(0.1), out[0].QueryEmbedding[0], 1e-6)
}

func TestPostgresHistoryStore_DeleteStale(t *testing.T) {
	repo, mock, closeDB := newMockHistoryStore(t)
	defer closeDB()

	mock.ExpectExec("DELETE FROM history_entries WHERE session_id").
		WithArgs("s1", 100.0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.DeleteStale(context.Background(), "s1", 100.0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncodeDecodeEmbedding_RoundTrips(t *testing.T) {
	vec := []float32{0.5, -0.25, 1.0, 0.0}
	decoded := DecodeEmbedding(EncodeEmbedding(vec))
	require.Len(t, decoded, len(vec))
	for i := range vec {
		assert.InDelta(t, vec[i], decoded[i], 1e-6)
	}
}
