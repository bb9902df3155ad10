package generator

import (
	"context"
	"fmt"

	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
)

// ChatCompleter is an in-process chat-completion collaborator — a direct SDK
// client to a hosted or embedded LLM API — standing in for the subprocess
// worker where spawning an external process isn't desired (tests, platforms
// without a worker binary), per SPEC_FULL.md §4.7.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// InProcessWorker adapts a ChatCompleter to the Worker interface so Generator
// can drive it with no subprocess, READY handshake, or respawn logic.
type InProcessWorker struct {
	completer ChatCompleter
	logger    observability.Logger
}

// NewInProcessWorker constructs an InProcessWorker around completer.
func NewInProcessWorker(completer ChatCompleter, logger observability.Logger) *InProcessWorker {
	if logger == nil {
		logger = observability.NewLogger("generator.inprocess")
	}
	return &InProcessWorker{completer: completer, logger: logger}
}

// Complete implements Worker by delegating directly to the injected
// ChatCompleter.
func (w *InProcessWorker) Complete(ctx context.Context, prompt string) (string, error) {
	if w.completer == nil {
		return "", fmt.Errorf("in-process chat completer is not configured")
	}
	answer, err := w.completer.Complete(ctx, prompt)
	if err != nil {
		w.logger.Error("in-process completion failed", map[string]interface{}{"error": err.Error()})
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return answer, nil
}
