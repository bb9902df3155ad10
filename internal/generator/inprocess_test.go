package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators/mock"
)

func TestInProcessWorker_DelegatesToChatCompleter(t *testing.T) {
	completer := &mock.ChatCompleter{Response: "Go is a statically typed language [1]."}
	w := NewInProcessWorker(completer, nil)

	answer, err := w.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Go is a statically typed language [1].", answer)
}

func TestInProcessWorker_PropagatesCompleterError(t *testing.T) {
	completer := &mock.ChatCompleter{Err: errors.New("upstream unavailable")}
	w := NewInProcessWorker(completer, nil)

	_, err := w.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestInProcessWorker_NilCompleterErrors(t *testing.T) {
	w := NewInProcessWorker(nil, nil)

	_, err := w.Complete(context.Background(), "prompt")
	require.Error(t, err)
}

func TestGenerate_WorksWithInProcessWorker(t *testing.T) {
	completer := &mock.ChatCompleter{Response: "answer"}
	g := New(NewInProcessWorker(completer, nil), "system", nil)

	chunks := []collaborators.ChunkMetadata{
		{ChunkID: "c1", SourcePath: "golang.org/doc", ChunkText: "Go is an open source programming language designed at Google."},
	}
	result, err := g.Generate(context.Background(), "q", chunks, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
}
