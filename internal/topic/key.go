// Package topic defines the value types that identify retrieval cache and
// history entries: the topic key and the mutable state a cache node owns.
package topic

import (
	"regexp"
	"strings"
)

// Modality is the content type a query is scoped to.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityAny   Modality = "any"
)

// DefaultPolicy is the retrieval policy tag used when none is specified.
const DefaultPolicy = "default"

// Key is an immutable, structurally-comparable identifier for a cache or
// history entry. Being a plain comparable struct, it can be used directly
// as a map key — Go's structural equality over comparable structs gives us
// the "equality over all three fields" requirement for free.
type Key struct {
	TopicLabel      string
	ModalityFilter  Modality
	RetrievalPolicy string
}

// New builds a Key, applying the same normalization build_topic_key would:
// callers that already have a normalized label should use Key{} literally.
func New(label string, modality Modality, policy string) Key {
	if policy == "" {
		policy = DefaultPolicy
	}
	return Key{
		TopicLabel:      NormalizeLabel(label),
		ModalityFilter:  modality,
		RetrievalPolicy: policy,
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeLabel lowercases, trims, and collapses internal whitespace runs.
func NormalizeLabel(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	return whitespaceRun.ReplaceAllString(lowered, " ")
}

// State is the mutable runtime state owned by exactly one cache node.
type State struct {
	CachedChunkIDs []string
	AccessCount    int64
	LastAccessTS   float64
	FirstSeenTS    float64
	Score          float64
	Confidence     float64
}

// RefreshScore recomputes Score from AccessCount, per spec: access_count + 0.1.
func (s *State) RefreshScore() {
	s.Score = float64(s.AccessCount) + 0.1
}

// Clone returns a value copy of the state, including a copied chunk-id slice,
// so callers outside the cache never retain a reference into the owned node.
func (s State) Clone() State {
	out := s
	out.CachedChunkIDs = append([]string(nil), s.CachedChunkIDs...)
	return out
}
