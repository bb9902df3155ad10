package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
)

// Citation is one answer citation, per spec.md §4.6.
type Citation struct {
	CitationID     int
	ChunkID        string
	SourcePath     string
	ChunkText      string
	StartOffset    int
	EndOffset      int
	RelevanceScore float64
}

const maxCitations = 5
const citationTextChars = 200

// Result is the outcome of one Generate call.
type Result struct {
	Answer   string
	Citations []Citation
	RawResponse string
	Success  bool
	Error    string
}

// Worker is the subset of SubprocessWorker (or an in-process stand-in) a
// Generator needs.
type Worker interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator assembles prompts, calls a Worker, and post-processes answers.
type Generator struct {
	worker       Worker
	systemPrompt string
	logger       observability.Logger
}

// New constructs a Generator around worker.
func New(worker Worker, systemPrompt string, logger observability.Logger) *Generator {
	if logger == nil {
		logger = observability.NewLogger("generator")
	}
	return &Generator{worker: worker, systemPrompt: systemPrompt, logger: logger}
}

// Generate answers query from chunks and optional conversation history. If
// chunks is empty, it returns a canned response without calling the worker.
// If every chunk's text is empty, it returns a failure result. If every
// non-empty chunk is shorter than 50 characters, it short-circuits with a
// "brief content" response and skips the LLM.
func (g *Generator) Generate(ctx context.Context, query string, chunks []collaborators.ChunkMetadata, history []collaborators.ConversationTurn) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "generator.generate")
	defer span.End()

	if len(chunks) == 0 {
		return Result{Answer: "I couldn't find any relevant information.", Success: true}, nil
	}

	var valid []collaborators.ChunkMetadata
	for _, c := range chunks {
		if trimmedNonEmpty(c.ChunkText) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return Result{
			Answer:  "The retrieved documents could not be read. Please try re-ingesting the data.",
			Success: false,
			Error:   "all chunks have empty text",
		}, nil
	}

	if allBrief(valid) {
		answer := "The retrieved content is very brief:\n"
		for _, c := range valid {
			answer += fmt.Sprintf("- %s\n", strings.TrimSpace(c.ChunkText))
		}
		return Result{Answer: answer, Success: true}, nil
	}

	prompt := AssemblePrompt(g.systemPrompt, history, valid, query)

	raw, err := g.worker.Complete(ctx, prompt)
	if err != nil {
		g.logger.Error("generation failed", map[string]interface{}{"error": err.Error()})
		return Result{Answer: fmt.Sprintf("Error: %v", err), Success: false, Error: err.Error()}, nil
	}

	cleaned := CleanResponse(raw)

	if IsRefusal(cleaned) {
		return Result{Answer: cleaned, RawResponse: raw, Success: true}, nil
	}

	citations := make([]Citation, 0, maxCitations)
	for i, c := range valid {
		if i >= maxCitations {
			break
		}
		citations = append(citations, Citation{
			CitationID:  i + 1,
			ChunkID:     c.ChunkID,
			SourcePath:  c.SourcePath,
			ChunkText:   truncate(c.ChunkText, citationTextChars),
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
		})
	}

	return Result{Answer: cleaned, Citations: citations, RawResponse: raw, Success: true}, nil
}

func trimmedNonEmpty(s string) bool { return len(strings.TrimSpace(s)) > 0 }

func allBrief(chunks []collaborators.ChunkMetadata) bool {
	for _, c := range chunks {
		if len(strings.TrimSpace(c.ChunkText)) >= 50 {
			return false
		}
	}
	return true
}
