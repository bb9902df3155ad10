// Command retrieval-core is a demo entry point that wires the retrieval
// pipeline end to end against in-memory collaborator implementations (or a
// real generator subprocess, and a real Postgres store, when configured) and
// answers a single query given on the command line. It is not a server;
// HTTP/gRPC front ends are out of scope per SPEC_FULL.md's Non-goals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/developer-mesh/rag-retrieval-core/internal/cache"
	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators/mock"
	"github.com/developer-mesh/rag-retrieval-core/internal/config"
	"github.com/developer-mesh/rag-retrieval-core/internal/generator"
	"github.com/developer-mesh/rag-retrieval-core/internal/history"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
	"github.com/developer-mesh/rag-retrieval-core/internal/orchestrator"
	"github.com/developer-mesh/rag-retrieval-core/internal/preprocess"
	"github.com/developer-mesh/rag-retrieval-core/internal/rerank"
	"github.com/developer-mesh/rag-retrieval-core/internal/store"
	"github.com/developer-mesh/rag-retrieval-core/internal/validate"
)

// echoWorker is a minimal generator.Worker stand-in used when no real
// inference subprocess is configured, so the demo still produces an answer.
type echoWorker struct{}

func (echoWorker) Complete(_ context.Context, prompt string) (string, error) {
	return "Based on the context provided: " + prompt[max(0, len(prompt)-200):], nil
}

func main() {
	sessionID := flag.String("session", "demo-session", "session id for history/memory scoping")
	flag.Parse()
	query := flag.Arg(0)
	if query == "" {
		query = "what is go"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger("retrieval-core")
	metrics := observability.NewMetricsClient()

	cacheStore, histStore, closeStores := buildStores(cfg)
	defer closeStores()

	ctx := context.Background()

	topicCache, err := cache.New(ctx, cache.Config{
		L1Capacity:  cfg.Cache.L1Capacity,
		L2Capacity:  cfg.Cache.L2Capacity,
		L3Capacity:  cfg.Cache.L3Capacity,
		L2Threshold: int64(cfg.Cache.L2Threshold),
		L3Threshold: int64(cfg.Cache.L3Threshold),
		Debug:       cfg.Debug,
	}, cacheStore, cache.WithLogger(logger), cache.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("failed to construct topic cache: %v", err)
	}

	sessionHistory, err := history.New(ctx, history.Config{
		MaxSize:      cfg.History.MaxSize,
		MaxAge:       cfg.History.MaxAge,
		SimThreshold: cfg.History.SimThreshold,
	}, *sessionID, histStore, history.WithLogger(logger), history.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("failed to construct session history: %v", err)
	}

	embedder := mock.NewHashEmbedder(cfg.History.EmbeddingDim)
	annIndex := mock.NewANNIndex()
	metadataStore := mock.NewMetadataStore()
	conversationMemory := mock.NewConversationMemory()
	seedDemoCorpus(annIndex, metadataStore, embedder)

	crossEncoderProvider := mock.NewCrossEncoder(cfg.History.EmbeddingDim)
	crossEncoder, err := rerank.NewCrossEncoderReranker(crossEncoderProvider, rerank.CrossEncoderConfig{
		DefaultTopK:     cfg.Retrieval.RerankTopK,
		DefaultMinScore: cfg.Retrieval.RerankMinScore,
	}, logger, metrics)
	if err != nil {
		log.Fatalf("failed to construct cross-encoder reranker: %v", err)
	}
	lightweight := rerank.NewLightweightReranker(embedder, metrics)

	validator := validate.New(validate.Config{
		MinSimilarity: cfg.Retrieval.MinRelevanceScore,
		MaxRetries:    cfg.Retrieval.MaxRetries,
	}, logger, metrics)

	worker := buildGeneratorWorker(ctx, cfg, logger, metrics)
	if stoppable, ok := worker.(interface{ Stop() error }); ok {
		defer stoppable.Stop()
	}
	gen := generator.New(worker, cfg.Generator.SystemPrompt, logger)

	preprocessor := preprocess.New(conversationMemory, embedder)

	orch := orchestrator.New(
		orchestrator.Config{
			ANNTopK:           cfg.Retrieval.ANNTopK,
			RerankTopK:        cfg.Retrieval.RerankTopK,
			MinRelevanceScore: cfg.Retrieval.MinRelevanceScore,
			MaxRetries:        cfg.Retrieval.MaxRetries,
			HistoryEnabled:    true,
		},
		preprocessor, topicCache, sessionHistory, embedder, annIndex, metadataStore,
		crossEncoder, lightweight, validator, gen, conversationMemory, logger, metrics,
	)

	resp, err := orch.RetrieveAndGenerate(ctx, query, *sessionID)
	if err != nil {
		log.Fatalf("retrieval failed: %v", err)
	}

	fmt.Printf("request: %s\nquery:   %s\nsource:  %s\nanswer:  %s\n", resp.RequestID, resp.Query, resp.RetrievalSource, resp.Answer)
	for _, c := range resp.Citations {
		fmt.Printf("  [%d] %s: %s\n", c.CitationID, c.SourcePath, c.ChunkText)
	}
}

func buildStores(cfg *config.Config) (store.CacheStore, store.HistoryStore, func()) {
	if cfg.Store.Driver != "postgres" {
		return store.NewMemoryCacheStore(), store.NewMemoryHistoryStore(), func() {}
	}

	db, err := sqlx.Connect("postgres", cfg.Store.DSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres store: %v", err)
	}
	return store.NewPostgresCacheStore(db), store.NewPostgresHistoryStore(db), func() { _ = db.Close() }
}

func buildGeneratorWorker(ctx context.Context, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) generator.Worker {
	if cfg.Generator.WorkerPath == "" {
		return echoWorker{}
	}
	w := generator.NewSubprocessWorker(generator.Config{
		WorkerPath: cfg.Generator.WorkerPath,
		ModelPath:  cfg.Generator.ModelPath,
		IPCTimeout: cfg.Generator.IPCTimeout,
	}, logger, metrics)
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := w.Start(startCtx); err != nil {
		log.Printf("generator subprocess failed to start, falling back to echo worker: %v", err)
		return echoWorker{}
	}
	return w
}

func seedDemoCorpus(ann *mock.ANNIndex, metadata *mock.MetadataStore, embedder *mock.HashEmbedder) {
	ctx := context.Background()
	docs := map[string]string{
		"doc-1": "Go is an open source programming language designed at Google for building simple, reliable, and efficient software.",
		"doc-2": "Goroutines are lightweight threads managed by the Go runtime, and channels let them communicate safely.",
		"doc-3": "The Go module system pins dependency versions in go.mod and go.sum for reproducible builds.",
	}
	for id, text := range docs {
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		ann.Corpus[id] = emb
		metadata.Chunks[id] = collaborators.ChunkMetadata{
			ChunkID:   id,
			SourcePath: id,
			ChunkText: text,
			Embedding: emb,
		}
	}
}
