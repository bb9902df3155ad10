// Package orchestrator wires preprocessing, routing, caching, history,
// ANN fallback, reranking, validation, persistence, and generation into the
// single retrieve_and_generate pipeline described in SPEC_FULL.md §4.6.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/developer-mesh/rag-retrieval-core/internal/cache"
	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
	"github.com/developer-mesh/rag-retrieval-core/internal/errs"
	"github.com/developer-mesh/rag-retrieval-core/internal/generator"
	"github.com/developer-mesh/rag-retrieval-core/internal/history"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
	"github.com/developer-mesh/rag-retrieval-core/internal/preprocess"
	"github.com/developer-mesh/rag-retrieval-core/internal/rerank"
	"github.com/developer-mesh/rag-retrieval-core/internal/router"
	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
	"github.com/developer-mesh/rag-retrieval-core/internal/validate"
)

// Source identifies which stage ultimately supplied the chunk ids.
type Source string

const (
	SourceCache  Source = "cache"
	SourceHistory Source = "history"
	SourceANN    Source = "ann"
)

// Citation mirrors generator.Citation for the public response shape.
type Citation = generator.Citation

// Response is the pipeline's output, per spec.md §4.6.
type Response struct {
	RequestID       string
	Query           string
	Answer          string
	Citations       []Citation
	RetrievalSource Source
	ChunksUsed      int
	Success         bool
	Error           string
}

const (
	briefChunkChars  = 50
	annOversampleMul = 2
)

// Config bundles the tunables the orchestrator threads through to its
// collaborating stages.
type Config struct {
	ANNTopK           int
	RerankTopK        int
	MinRelevanceScore float64
	MaxRetries        int
	HistoryEnabled    bool
}

// Orchestrator is the single entry point for a retrieve-and-generate call.
type Orchestrator struct {
	cfg Config

	preprocessor *preprocess.Preprocessor
	cacheStore   *cache.TopicCache
	hist         *history.SessionHistory
	embedder     collaborators.Embedder
	ann          collaborators.ANNIndex
	metadata     collaborators.MetadataStore
	crossEncoder rerank.Reranker
	lightweight  rerank.Reranker
	validator    *validate.Validator
	gen          *generator.Generator
	memory       collaborators.ConversationMemory

	logger  observability.Logger
	metrics observability.MetricsClient
}

// New constructs an Orchestrator from its fully-wired collaborators.
func New(
	cfg Config,
	preprocessor *preprocess.Preprocessor,
	cacheStore *cache.TopicCache,
	hist *history.SessionHistory,
	embedder collaborators.Embedder,
	ann collaborators.ANNIndex,
	metadata collaborators.MetadataStore,
	crossEncoder rerank.Reranker,
	lightweight rerank.Reranker,
	validator *validate.Validator,
	gen *generator.Generator,
	memory collaborators.ConversationMemory,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Orchestrator {
	if cfg.ANNTopK <= 0 {
		cfg.ANNTopK = 5
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = 5
	}
	if logger == nil {
		logger = observability.NewLogger("orchestrator")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}
	return &Orchestrator{
		cfg: cfg, preprocessor: preprocessor, cacheStore: cacheStore, hist: hist,
		embedder: embedder, ann: ann, metadata: metadata,
		crossEncoder: crossEncoder, lightweight: lightweight, validator: validator,
		gen: gen, memory: memory, logger: logger, metrics: metrics,
	}
}

// RetrieveAndGenerate runs the full pipeline for one query.
func (o *Orchestrator) RetrieveAndGenerate(ctx context.Context, rawQuery, sessionID string) (Response, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.retrieve_and_generate")
	defer span.End()

	requestID := uuid.New().String()
	span.SetAttribute("request_id", requestID)
	o.logger.Info("retrieve_and_generate started", map[string]interface{}{"request_id": requestID, "session_id": sessionID})

	intentQuery := rawQuery
	if o.preprocessor != nil {
		var err error
		intentQuery, err = runStage(ctx, "orchestrator.preprocess", func(ctx context.Context) (string, error) {
			return o.preprocessor.Preprocess(ctx, rawQuery, sessionID)
		})
		if err != nil {
			return Response{}, err
		}
	}

	key := router.BuildTopicKey(intentQuery)

	qEmb, err := runStage(ctx, "orchestrator.embed_query", func(ctx context.Context) ([]float32, error) {
		return o.embedder.Embed(ctx, intentQuery)
	})
	if err != nil {
		return Response{}, err
	}

	chunkIDs, source, err := o.resolveCandidates(ctx, key, qEmb)
	if err != nil {
		return Response{}, err
	}

	ctx2, cacheSpan := observability.StartSpan(ctx, "orchestrator.attach_metadata")
	records, err := o.metadata.GetChunks(ctx2, chunkIDs)
	cacheSpan.End()
	if err != nil {
		return Response{}, fmt.Errorf("failed to fetch chunk metadata: %w", err)
	}

	fetched := len(records)
	records = dropEmptyText(records, o.logger)
	if fetched > 0 && len(records) == 0 {
		return Response{
			RequestID: requestID, Query: rawQuery, RetrievalSource: source,
			Answer:  "The retrieved documents could not be read. Please try re-ingesting the data.",
			Success: false, Error: errs.ErrAllChunksEmpty.Error(),
		}, nil
	}
	if len(records) > 0 && allBrief(records) {
		return Response{
			RequestID: requestID, Query: rawQuery, Answer: briefAnswer(records), RetrievalSource: source,
			ChunksUsed: len(records), Success: true,
		}, nil
	}

	candidates := toCandidates(records)
	reranked, err := o.rerank(ctx, intentQuery, candidates, qEmb, source)
	if err != nil {
		return Response{}, err
	}

	valResult, retries, err := o.validateWithRetry(ctx, intentQuery, reranked, qEmb, key)
	if err != nil {
		return Response{}, err
	}
	o.metrics.IncrementCounterWithLabels("orchestrator_retries_total", float64(retries), nil)

	finalIDs := make([]string, 0, len(valResult.Validated))
	for _, v := range valResult.Validated {
		finalIDs = append(finalIDs, v.ChunkID)
	}

	// valResult.Validated may carry chunk ids from a retry's rewritten-query
	// ANN search, not just the original candidates, so metadata must be
	// re-fetched for the final id set rather than looked up in records.
	finalRecords, err := o.metadata.GetChunks(ctx, finalIDs)
	if err != nil {
		return Response{}, fmt.Errorf("failed to fetch final chunk metadata: %w", err)
	}

	if err := o.persist(ctx, source, key, qEmb, finalIDs); err != nil {
		return Response{}, err
	}

	var turns []collaborators.ConversationTurn
	if o.memory != nil {
		turns, err = o.memory.GetRecentTurns(ctx, sessionID, 2)
		if err != nil {
			return Response{}, fmt.Errorf("failed to fetch conversation turns: %w", err)
		}
	}

	genResult, err := o.gen.Generate(ctx, rawQuery, finalRecords, turns)
	if err != nil {
		return Response{}, err
	}

	return Response{
		RequestID: requestID, Query: rawQuery, Answer: genResult.Answer, Citations: genResult.Citations,
		RetrievalSource: source, ChunksUsed: len(finalRecords),
		Success: genResult.Success, Error: genResult.Error,
	}, nil
}

func (o *Orchestrator) resolveCandidates(ctx context.Context, key topic.Key, qEmb []float32) ([]string, Source, error) {
	_, cacheSpan := observability.StartSpan(ctx, "orchestrator.cache_lookup")
	state, hit, err := o.cacheStore.Lookup(ctx, key)
	cacheSpan.End()
	if err != nil {
		return nil, "", fmt.Errorf("cache lookup failed: %w", err)
	}
	if hit {
		if o.hist != nil {
			if err := o.hist.AddOrUpdate(ctx, key, qEmb, state.CachedChunkIDs); err != nil {
				return nil, "", fmt.Errorf("failed to refresh history on cache hit: %w", err)
			}
		}
		return state.CachedChunkIDs, SourceCache, nil
	}

	if o.cfg.HistoryEnabled && o.hist != nil {
		_, histSpan := observability.StartSpan(ctx, "orchestrator.history_lookup")
		ids, found, err := o.hist.FindSimilar(ctx, qEmb)
		histSpan.End()
		if err != nil {
			return nil, "", fmt.Errorf("history lookup failed: %w", err)
		}
		if found {
			if _, err := o.cacheStore.InsertNew(ctx, key, ids); err != nil {
				return nil, "", fmt.Errorf("failed to seed cache from history hit: %w", err)
			}
			if err := o.hist.AddOrUpdate(ctx, key, qEmb, ids); err != nil {
				return nil, "", fmt.Errorf("failed to refresh history entry: %w", err)
			}
			return ids, SourceHistory, nil
		}
	}

	_, annSpan := observability.StartSpan(ctx, "orchestrator.ann_fallback")
	hits, err := o.ann.Search(ctx, qEmb, o.cfg.ANNTopK*annOversampleMul)
	annSpan.End()
	if err != nil {
		return nil, "", fmt.Errorf("ANN fallback failed: %w", err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	return ids, SourceANN, nil
}

func (o *Orchestrator) rerank(ctx context.Context, query string, candidates []rerank.Candidate, qEmb []float32, source Source) ([]rerank.Candidate, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.rerank")
	defer span.End()

	reranker := o.lightweight
	if source == SourceANN && o.crossEncoder != nil {
		reranker = o.crossEncoder
	}
	if reranker == nil {
		return candidates, nil
	}
	out, err := reranker.Rerank(ctx, query, candidates, rerank.Options{QueryEmbedding: qEmb, TopK: o.cfg.RerankTopK})
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}
	return out, nil
}

func (o *Orchestrator) validateWithRetry(ctx context.Context, query string, candidates []rerank.Candidate, qEmb []float32, key topic.Key) (validate.Result, int, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.validate")
	defer span.End()

	initialChunks := candidatesToValidateChunks(candidates)

	retrievalFn := func(ctx context.Context, rewritten string) ([]validate.Chunk, []float32, error) {
		newEmb, err := o.embedder.Embed(ctx, rewritten)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to embed rewritten query: %w", err)
		}
		hits, err := o.ann.Search(ctx, newEmb, o.cfg.ANNTopK*annOversampleMul)
		if err != nil {
			return nil, nil, fmt.Errorf("ANN retry search failed: %w", err)
		}
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ChunkID
		}
		records, err := o.metadata.GetChunks(ctx, ids)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch chunk metadata on retry: %w", err)
		}
		return candidatesToValidateChunks(toCandidates(records)), newEmb, nil
	}

	return o.validator.ValidateWithRetry(ctx, query, retrievalFn, initialChunks, qEmb)
}

func (o *Orchestrator) persist(ctx context.Context, source Source, key topic.Key, qEmb []float32, finalIDs []string) error {
	if source != SourceANN {
		return nil
	}
	ctx, span := observability.StartSpan(ctx, "orchestrator.persist")
	defer span.End()

	if _, err := o.cacheStore.InsertNew(ctx, key, finalIDs); err != nil {
		return fmt.Errorf("failed to insert ANN result into cache: %w", err)
	}
	if o.hist != nil {
		if err := o.hist.AddOrUpdate(ctx, key, qEmb, finalIDs); err != nil {
			return fmt.Errorf("failed to persist history after ANN resolution: %w", err)
		}
	}
	return nil
}

func runStage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observability.StartSpan(ctx, name)
	defer span.End()
	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		var zero T
		return zero, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

func dropEmptyText(records []collaborators.ChunkMetadata, logger observability.Logger) []collaborators.ChunkMetadata {
	out := make([]collaborators.ChunkMetadata, 0, len(records))
	for _, r := range records {
		if len(strings.TrimSpace(r.ChunkText)) == 0 {
			logger.Warn("dropping chunk with empty text", map[string]interface{}{"chunk_id": r.ChunkID})
			continue
		}
		out = append(out, r)
	}
	return out
}

func allBrief(records []collaborators.ChunkMetadata) bool {
	for _, r := range records {
		if len(strings.TrimSpace(r.ChunkText)) >= briefChunkChars {
			return false
		}
	}
	return true
}

func briefAnswer(records []collaborators.ChunkMetadata) string {
	answer := "The retrieved content is very brief:\n"
	for _, r := range records {
		answer += "- " + strings.TrimSpace(r.ChunkText) + "\n"
	}
	return answer
}

func toCandidates(records []collaborators.ChunkMetadata) []rerank.Candidate {
	out := make([]rerank.Candidate, len(records))
	for i, r := range records {
		out[i] = rerank.Candidate{ChunkID: r.ChunkID, Text: r.ChunkText, Embedding: r.Embedding}
	}
	return out
}

func candidatesToValidateChunks(candidates []rerank.Candidate) []validate.Chunk {
	out := make([]validate.Chunk, len(candidates))
	for i, c := range candidates {
		out[i] = validate.Chunk{ChunkID: c.ChunkID, Text: c.Text, Embedding: c.Embedding}
	}
	return out
}
