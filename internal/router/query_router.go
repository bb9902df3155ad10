// Package router builds a topic.Key from a raw query string. It is a pure,
// stateless function — no I/O, no collaborators — grounded on
// _examples/original_source/backend/retrieval_layer/retrieval_engine.py's
// QueryRouter.
package router

import (
	"strings"

	"github.com/developer-mesh/rag-retrieval-core/internal/topic"
)

var imageWords = []string{"image", "screenshot", "photo", "picture"}
var audioWords = []string{"audio", "voice", "recording", "speech"}
var textWords = []string{"pdf", "document", "doc", "book", "report"}

// InferModality inspects query for keyword hints and returns the modality
// it most likely targets, defaulting to ModalityAny when nothing matches.
func InferModality(query string) topic.Modality {
	q := strings.ToLower(query)
	if containsAny(q, imageWords) {
		return topic.ModalityImage
	}
	if containsAny(q, audioWords) {
		return topic.ModalityAudio
	}
	if containsAny(q, textWords) {
		return topic.ModalityText
	}
	return topic.ModalityAny
}

func containsAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// BuildTopicKey derives a topic.Key from a raw query: the topic label is the
// normalized query text, the modality is keyword-inferred, and the
// retrieval policy is always topic.DefaultPolicy for v1.
func BuildTopicKey(query string) topic.Key {
	label := topic.NormalizeLabel(query)
	modality := InferModality(query)
	return topic.New(label, modality, topic.DefaultPolicy)
}
