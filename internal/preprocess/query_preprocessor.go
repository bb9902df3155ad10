// Package preprocess implements contextual query expansion and intent
// extraction ahead of topic-key construction, per SPEC_FULL.md §4.3.
package preprocess

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/developer-mesh/rag-retrieval-core/internal/collaborators"
)

var followUpMarkers = []string{"more", "also", "else", "that", "this", "it", "they", "same"}

// fillerPatterns strips canned lead-ins like "i want to find files about "
// or "tell me about ". Built once, data-driven rather than scattered
// string literals.
var fillerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^i want to find (files |information |documents )?about\s+`),
	regexp.MustCompile(`(?i)^i('m| am) looking for\s+`),
	regexp.MustCompile(`(?i)^can you tell me about\s+`),
	regexp.MustCompile(`(?i)^tell me about\s+`),
	regexp.MustCompile(`(?i)^please (find|show|search for)\s+`),
	regexp.MustCompile(`(?i)^find (me )?\s*`),
}

const (
	shortQueryWordLimit = 4
	expansionSimThreshold = 0.45
	minStrippedLength     = 3
)

// Preprocessor performs contextual expansion and intent extraction on raw
// queries ahead of topic-key construction.
type Preprocessor struct {
	memory   collaborators.ConversationMemory
	embedder collaborators.Embedder
}

// New constructs a Preprocessor. memory and embedder may be nil, in which
// case contextual expansion is always skipped.
func New(memory collaborators.ConversationMemory, embedder collaborators.Embedder) *Preprocessor {
	return &Preprocessor{memory: memory, embedder: embedder}
}

// Preprocess runs contextual expansion followed by intent extraction. A
// query that already contains the " | " expansion separator is not expanded
// again, and filler stripping repeats until no pattern applies, so
// Preprocess(ctx, Preprocess(ctx, q, sid), sid) == Preprocess(ctx, q, sid)
// for a fixed conversation memory. The one exception: a query that was not
// expanded, and that stripping shortens to four words or fewer, is checked
// for expansion again on a second call.
func (p *Preprocessor) Preprocess(ctx context.Context, query, sessionID string) (string, error) {
	out := query
	if !strings.Contains(query, " | ") {
		expanded, err := p.contextualExpand(ctx, query, sessionID)
		if err != nil {
			return "", err
		}
		out = expanded
	}
	for next := stripFiller(out); next != out; next = stripFiller(out) {
		out = next
	}
	return out, nil
}

func (p *Preprocessor) contextualExpand(ctx context.Context, query, sessionID string) (string, error) {
	if p.memory == nil || p.embedder == nil {
		return query, nil
	}

	recent, err := p.memory.GetRecentQueries(ctx, sessionID, 2)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recent queries: %w", err)
	}
	if len(recent) < 2 {
		return query, nil
	}

	if !isShort(query) && !hasFollowUpMarker(query) {
		return query, nil
	}

	qEmb, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query for expansion: %w", err)
	}

	similar := false
	for _, prior := range recent {
		pEmb, err := p.embedder.Embed(ctx, prior)
		if err != nil {
			return "", fmt.Errorf("failed to embed prior query for expansion: %w", err)
		}
		if cosine(qEmb, pEmb) >= expansionSimThreshold {
			similar = true
			break
		}
	}
	if !similar {
		return query, nil
	}

	return fmt.Sprintf("%s | %s %s", recent[len(recent)-2], recent[len(recent)-1], query), nil
}

func stripFiller(query string) string {
	for _, pat := range fillerPatterns {
		if stripped := pat.ReplaceAllString(query, ""); stripped != query {
			if len(strings.TrimSpace(stripped)) >= minStrippedLength {
				return stripped
			}
			return query
		}
	}
	return query
}

func isShort(query string) bool {
	return len(strings.Fields(query)) <= shortQueryWordLimit
}

func hasFollowUpMarker(query string) bool {
	q := strings.ToLower(query)
	for _, w := range followUpMarkers {
		for _, field := range strings.Fields(q) {
			if strings.Trim(field, ".,!?") == w {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
