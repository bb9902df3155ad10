package generator

import (
	"regexp"
	"strings"
)

var referenceSectionMarkers = []string{
	"References:", "Sources:", "Bibliography:", "Works Cited:",
	"Citation:", "Citations:", "Further Reading:",
}

var (
	urlPattern             = regexp.MustCompile(`https?://\S+`)
	retrievedFromPattern   = regexp.MustCompile(`(?m)Retrieved (?:from|on) .+?(?:\n|$)`)
	academicCitationPattern = regexp.MustCompile(`\([a-zA-Z\s,&]+,?\s*(?:n\.d\.|\d{4})\)`)
	toolchainMentionPattern = regexp.MustCompile(`(?i)reportlab[\w\s]*(?:generated|pdf)?[^.]*\.?`)
	blankLinesPattern       = regexp.MustCompile(`\n{3,}`)
	runOfSpacesPattern      = regexp.MustCompile(`  +`)
)

// refusalPhrases is the small refusal phrasebook used to detect that the
// model declined to answer, matching spec.md §4.7.
var refusalPhrases = []string{
	"no relevant information",
	"cannot answer",
	"not enough information",
	"do not contain enough information",
	"i don't have enough information",
	"i could not find",
	"unable to answer",
}

// CleanResponse strips hallucinated reference sections, URLs, citation
// artifacts, and tool/format mentions, then collapses leftover whitespace.
func CleanResponse(text string) string {
	for _, marker := range referenceSectionMarkers {
		if idx := strings.Index(text, marker); idx > 0 {
			text = strings.TrimRight(text[:idx], " \n\t")
		}
	}

	text = urlPattern.ReplaceAllString(text, "")
	text = retrievedFromPattern.ReplaceAllString(text, "")
	text = academicCitationPattern.ReplaceAllString(text, "")
	text = toolchainMentionPattern.ReplaceAllString(text, "")

	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	text = runOfSpacesPattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// IsRefusal reports whether cleaned matches any phrase in the refusal
// phrasebook, case-insensitively.
func IsRefusal(cleaned string) bool {
	lower := strings.ToLower(cleaned)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
