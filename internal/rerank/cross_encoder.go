package rerank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
)

// CrossEncoderConfig configures the cross-encoder reranker.
type CrossEncoderConfig struct {
	BatchSize         int
	MaxConcurrency    int
	TimeoutPerBatch   time.Duration
	DefaultTopK       int
	DefaultMinScore   float64
	CircuitBreakerName string
}

// CrossEncoderReranker scores (query, chunk) pairs through an external
// cross-encoder collaborator, batched and protected by a circuit breaker
// plus a bounded-concurrency semaphore, following
// pkg/embedding/rerank/cross_encoder.go.
type CrossEncoderReranker struct {
	provider  collaborators.CrossEncoderProvider
	cfg       CrossEncoderConfig
	breaker   *gobreaker.CircuitBreaker
	semaphore *semaphore.Weighted
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewCrossEncoderReranker constructs a CrossEncoderReranker.
func NewCrossEncoderReranker(provider collaborators.CrossEncoderProvider, cfg CrossEncoderConfig, logger observability.Logger, metrics observability.MetricsClient) (*CrossEncoderReranker, error) {
	if provider == nil {
		return nil, fmt.Errorf("cross-encoder provider is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.TimeoutPerBatch <= 0 {
		cfg.TimeoutPerBatch = 5 * time.Second
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.DefaultMinScore == 0 {
		cfg.DefaultMinScore = 0.3
	}
	if cfg.CircuitBreakerName == "" {
		cfg.CircuitBreakerName = "rerank.cross_encoder"
	}
	if logger == nil {
		logger = observability.NewLogger("rerank.cross_encoder")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: cfg.CircuitBreakerName,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		Timeout: 30 * time.Second,
	})

	return &CrossEncoderReranker{
		provider:  provider,
		cfg:       cfg,
		breaker:   breaker,
		semaphore: semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Rerank batches candidates, scores each batch through the cross-encoder
// behind the circuit breaker, applies a sigmoid, filters by MinScore, sorts
// descending, appends the candidates of any batch whose scoring failed
// (unscored, in their original order), and truncates to TopK.
func (c *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate, opts Options) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ctx, span := observability.StartSpan(ctx, "rerank.cross_encoder")
	defer span.End()
	span.SetAttribute("input_count", len(candidates))

	start := time.Now()
	defer func() {
		c.metrics.RecordHistogram("rerank_cross_encoder_duration_seconds", time.Since(start).Seconds(), nil)
	}()

	minScore := opts.MinScore
	if minScore == 0 {
		minScore = c.cfg.DefaultMinScore
	}
	topK := opts.TopK
	if topK == 0 {
		topK = c.cfg.DefaultTopK
	}

	scored := make([]Candidate, 0, len(candidates))
	var degraded []Candidate
	for batchStart := 0; batchStart < len(candidates); batchStart += c.cfg.BatchSize {
		batchEnd := batchStart + c.cfg.BatchSize
		if batchEnd > len(candidates) {
			batchEnd = len(candidates)
		}
		batch := candidates[batchStart:batchEnd]

		if err := c.semaphore.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire rerank semaphore: %w", err)
		}
		batchScored, err := c.scoreBatchWithRetry(ctx, query, batch, batchStart)
		c.semaphore.Release(1)

		if err != nil {
			c.logger.Error("cross-encoder batch failed, degrading to original order", map[string]interface{}{"error": err.Error()})
			c.metrics.IncrementCounter("rerank_cross_encoder_batch_failure_total", 1)
			degraded = append(degraded, batch...)
			continue
		}
		scored = append(scored, batchScored...)
	}

	out := make([]Candidate, 0, len(scored))
	for _, cand := range scored {
		if cand.Score >= minScore {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	out = append(out, degraded...)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}

	c.metrics.IncrementCounter("rerank_cross_encoder_success_total", 1)
	return out, nil
}

func (c *CrossEncoderReranker) scoreBatchWithRetry(ctx context.Context, query string, batch []Candidate, rankOffset int) ([]Candidate, error) {
	var result []Candidate

	operation := func() error {
		batchCtx, cancel := context.WithTimeout(ctx, c.cfg.TimeoutPerBatch)
		defer cancel()

		texts := make([]string, len(batch))
		for i, cand := range batch {
			texts[i] = cand.Text
		}

		raw, err := c.breaker.Execute(func() (interface{}, error) {
			return c.provider.Score(batchCtx, query, texts)
		})
		if err != nil {
			return err
		}

		scores := raw.([]float64)
		scored := make([]Candidate, len(batch))
		for i, cand := range batch {
			cand.Score = sigmoid(scores[i])
			cand.OriginalRank = rankOffset + i
			scored[i] = cand
		}
		result = scored
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 20 * time.Millisecond
	expBackoff.MaxInterval = 200 * time.Millisecond
	bo := backoff.WithMaxRetries(expBackoff, 2)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("cross-encoder batch failed after retries: %w", err)
	}
	return result, nil
}
