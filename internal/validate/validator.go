// Package validate implements the hybrid keyword+embedding relevance
// validator with a bounded rewrite-and-retry loop, grounded on
// _examples/original_source/backend/validation_layer/validator.py's
// RetrievalValidator.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
)

// Chunk is the minimal shape the validator scores: text plus an optional
// precomputed embedding.
type Chunk struct {
	ChunkID   string
	Text      string
	Embedding []float32
}

// ScoredChunk carries a Chunk's combined validation score.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Result is the outcome of one Validate call.
type Result struct {
	IsValid    bool
	Confidence float64
	Validated  []ScoredChunk
	Rejected   []ScoredChunk
	Reason     string
	RetryQuery string
}

// Config configures a Validator.
type Config struct {
	MinSimilarity float64
	MaxRetries    int
}

// Validator scores chunks against a query via a weighted combination of
// keyword overlap and embedding similarity.
type Validator struct {
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New constructs a Validator.
func New(cfg Config, logger observability.Logger, metrics observability.MetricsClient) *Validator {
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = 0.15
	}
	if logger == nil {
		logger = observability.NewLogger("validate")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}
	return &Validator{cfg: cfg, logger: logger, metrics: metrics}
}

// Validate scores every chunk and splits them into validated/rejected sets.
// A call is valid iff at least one chunk passes MinSimilarity.
func (v *Validator) Validate(ctx context.Context, query string, chunks []Chunk, queryEmbedding []float32) Result {
	_, span := observability.StartSpan(ctx, "validate.score")
	defer span.End()

	if len(chunks) == 0 {
		return Result{IsValid: false, Reason: "no chunks to validate"}
	}

	queryKeywords := extractKeywords(query)
	kwWeight, embWeight := 0.4, 0.6
	if len(queryKeywords) <= 2 {
		kwWeight, embWeight = 0.6, 0.4
	}

	var validated, rejected []ScoredChunk
	var confidenceSum float64

	for _, chunk := range chunks {
		keywordScore := keywordOverlap(queryKeywords, chunk.Text)

		embeddingScore := 0.5
		if len(queryEmbedding) > 0 && len(chunk.Embedding) > 0 {
			embeddingScore = dot(queryEmbedding, chunk.Embedding)
		}

		combined := kwWeight*keywordScore + embWeight*embeddingScore
		scored := ScoredChunk{Chunk: chunk, Score: combined}

		if combined >= v.cfg.MinSimilarity {
			validated = append(validated, scored)
			confidenceSum += combined
		} else {
			rejected = append(rejected, scored)
		}
	}

	isValid := len(validated) > 0
	var confidence float64
	if isValid {
		confidence = confidenceSum / float64(len(validated))
	}

	result := Result{
		IsValid:    isValid,
		Confidence: confidence,
		Validated:  validated,
		Rejected:   rejected,
	}
	if !isValid {
		result.Reason = "insufficient relevance"
		result.RetryQuery = rewriteQuery(query)
	}

	v.metrics.IncrementCounterWithLabels("validate_total", 1, map[string]string{"valid": fmt.Sprintf("%v", isValid)})
	return result
}

// RetrievalFunc fetches a fresh candidate set (already embedded-free text
// chunks) for a (possibly rewritten) query.
type RetrievalFunc func(ctx context.Context, query string) ([]Chunk, []float32, error)

// ValidateWithRetry runs Validate, and on failure calls retrievalFn with a
// rewritten query up to Config.MaxRetries times, returning the last
// attempt's result (valid or not) and the number of retries used.
func (v *Validator) ValidateWithRetry(ctx context.Context, query string, retrievalFn RetrievalFunc, initialChunks []Chunk, queryEmbedding []float32) (Result, int, error) {
	ctx, span := observability.StartSpan(ctx, "validate.with_retry")
	defer span.End()

	currentQuery := query
	chunks := initialChunks
	emb := queryEmbedding

	var result Result
	retriesUsed := 0

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), uint64(v.cfg.MaxRetries))
	attempt := 0
	err := backoff.Retry(func() error {
		result = v.Validate(ctx, currentQuery, chunks, emb)
		if result.IsValid {
			return nil
		}
		if result.RetryQuery == "" || attempt >= v.cfg.MaxRetries {
			return nil
		}

		attempt++
		retriesUsed = attempt
		currentQuery = result.RetryQuery
		v.logger.Info("retrying validation with rewritten query", map[string]interface{}{
			"attempt": attempt, "query": currentQuery,
		})

		newChunks, newEmb, fetchErr := retrievalFn(ctx, currentQuery)
		if fetchErr != nil {
			return backoff.Permanent(fmt.Errorf("retrieval retry failed: %w", fetchErr))
		}
		chunks = newChunks
		emb = newEmb

		return fmt.Errorf("validation not yet valid")
	}, bo)

	if err != nil {
		if _, ok := err.(*backoff.PermanentError); ok {
			return result, retriesUsed, err
		}
	}

	return result, retriesUsed, nil
}

func rewriteQuery(query string) string {
	if !strings.Contains(query, "?") {
		return fmt.Sprintf("What is %s?", query)
	}
	return fmt.Sprintf("detailed information about %s", query)
}

var keywordPattern = regexp.MustCompile(`\b[a-zA-Z]{2,}\b`)

func extractKeywords(text string) map[string]struct{} {
	words := keywordPattern.FindAllString(strings.ToLower(text), -1)
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

func keywordOverlap(queryKeywords map[string]struct{}, chunkText string) float64 {
	if len(queryKeywords) == 0 {
		return 0.5
	}
	chunkKeywords := extractKeywords(chunkText)
	overlap := 0
	for k := range queryKeywords {
		if _, ok := chunkKeywords[k]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryKeywords))
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
