package validate

// stopwords mirrors the English stopword set from
// _examples/original_source/backend/validation_layer/validator.py's
// RetrievalValidator._extract_keywords. Kept as data, not a dependency: the
// pack itself hand-rolls tokenization for BM25 rather than importing an NLP
// library, so this stays consistent with that choice.
var stopwords = buildStopwordSet()

func buildStopwordSet() map[string]struct{} {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "can", "to", "of", "in", "for", "on", "with",
		"at", "by", "from", "as", "into", "through", "during", "before",
		"after", "above", "below", "up", "down", "out", "off", "over",
		"under", "again", "further", "then", "once", "here", "there", "when",
		"where", "why", "how", "all", "each", "few", "more", "most", "other",
		"some", "such", "no", "nor", "not", "only", "own", "same", "so",
		"than", "too", "very", "just", "and", "but", "if", "or", "because",
		"until", "while", "what", "which", "who", "whom", "this", "that",
		"these", "those", "am", "it", "its", "about", "also", "i", "me",
		"my", "myself", "we", "our", "ours", "you", "your", "he", "him",
		"his", "she", "her", "they", "them", "their",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
