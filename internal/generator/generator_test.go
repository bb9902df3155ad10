package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
)

type stubWorker struct {
	response string
	err      error
}

func (s *stubWorker) Complete(_ context.Context, _ string) (string, error) {
	return s.response, s.err
}

func TestGenerate_NoChunksReturnsCannedAnswer(t *testing.T) {
	g := New(&stubWorker{}, "system", nil)
	result, err := g.Generate(context.Background(), "what is go", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Answer, "couldn't find")
}

func TestGenerate_AllEmptyChunksFails(t *testing.T) {
	g := New(&stubWorker{}, "system", nil)
	chunks := []collaborators.ChunkMetadata{{ChunkID: "a", ChunkText: "   "}}
	result, err := g.Generate(context.Background(), "what is go", chunks, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestGenerate_AllBriefChunksShortCircuits(t *testing.T) {
	g := New(&stubWorker{}, "system", nil)
	chunks := []collaborators.ChunkMetadata{{ChunkID: "a", ChunkText: "go is a language"}}
	result, err := g.Generate(context.Background(), "what is go", chunks, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Answer, "very brief")
}

func TestGenerate_AttachesCitationsOnNormalPath(t *testing.T) {
	worker := &stubWorker{response: "Go is a statically typed language [1]."}
	g := New(worker, "system", nil)
	chunks := []collaborators.ChunkMetadata{
		{ChunkID: "c1", SourcePath: "golang.org/doc", ChunkText: "Go is an open source programming language designed at Google."},
	}
	result, err := g.Generate(context.Background(), "what is go", chunks, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "c1", result.Citations[0].ChunkID)
}

func TestGenerate_RefusalSkipsCitations(t *testing.T) {
	worker := &stubWorker{response: "The provided sources do not contain enough information to answer this fully."}
	g := New(worker, "system", nil)
	chunks := []collaborators.ChunkMetadata{
		{ChunkID: "c1", ChunkText: "Go is an open source programming language designed at Google for systems work."},
	}
	result, err := g.Generate(context.Background(), "what is go", chunks, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Citations)
}

func TestGenerate_WorkerErrorIsReportedAsUnsuccessful(t *testing.T) {
	worker := &stubWorker{err: errors.New("worker crashed")}
	g := New(worker, "system", nil)
	chunks := []collaborators.ChunkMetadata{
		{ChunkID: "c1", ChunkText: "Go is an open source programming language designed at Google for systems work."},
	}
	result, err := g.Generate(context.Background(), "what is go", chunks, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestCleanResponse_StripsReferencesSectionAndURLs(t *testing.T) {
	raw := "Go was released in 2009 (Smith, 2009). See https://go.dev for more.\n\nReferences:\n1. Some source"
	cleaned := CleanResponse(raw)
	assert.NotContains(t, cleaned, "References:")
	assert.NotContains(t, cleaned, "https://")
	assert.NotContains(t, cleaned, "(Smith, 2009)")
}

func TestIsRefusal_DetectsPhrasebook(t *testing.T) {
	assert.True(t, IsRefusal("I cannot answer this question based on the context."))
	assert.False(t, IsRefusal("Go is a programming language."))
}

func TestAssemblePrompt_DeduplicatesAndTruncatesChunks(t *testing.T) {
	chunks := []collaborators.ChunkMetadata{
		{ChunkText: "same text"},
		{ChunkText: "same text"},
		{ChunkText: ""},
		{ChunkText: "different text"},
	}
	prompt := AssemblePrompt("system", nil, chunks, "query")
	assert.Equal(t, 1, strings.Count(prompt, "[1] same text"))
	assert.Contains(t, prompt, "[2] different text")
}
