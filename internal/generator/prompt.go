package generator

import (
	"fmt"
	"strings"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
)

const maxPromptChunks = 5
const maxChunkChars = 1000
const maxTurnChars = 150

// AssemblePrompt concatenates the system message, an optional conversation
// history block (last ≤ 2 turns, each truncated to 150 chars), the numbered
// chunk context (max 5 chunks, deduplicated, truncated to 1000 chars, empty
// chunks skipped), and the user question.
func AssemblePrompt(systemPrompt string, history []collaborators.ConversationTurn, chunks []collaborators.ChunkMetadata, query string) string {
	var b strings.Builder

	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	if len(history) > 0 {
		tail := history
		if len(tail) > 2 {
			tail = tail[len(tail)-2:]
		}
		b.WriteString("CONVERSATION HISTORY:\n")
		for _, turn := range tail {
			b.WriteString(fmt.Sprintf("Q: %s\nA: %s\n", truncate(turn.Query, maxTurnChars), truncate(turn.Content, maxTurnChars)))
		}
		b.WriteString("\n")
	}

	b.WriteString("CONTEXT:\n")
	seen := make(map[string]struct{}, len(chunks))
	n := 0
	for _, c := range chunks {
		if n >= maxPromptChunks {
			break
		}
		text := strings.TrimSpace(c.ChunkText)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		n++
		b.WriteString(fmt.Sprintf("[%d] %s\n", n, truncate(text, maxChunkChars)))
	}

	b.WriteString(fmt.Sprintf("\nQUESTION: %s\n\nAnswer the question using ONLY the context above. Use inline [1], [2] citations:", query))

	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
