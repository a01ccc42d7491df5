package policy

import (
	"regexp"
	"strings"
)

var (
	nonMedicalPattern = regexp.MustCompile(`(?i)\b(politics?|mayor|president|elections?|stocks?|crypto|programming|math homework|sports?)\b`)
	emergencyPattern  = regexp.MustCompile(`(?i)(chest pain|shortness of breath|severe bleeding|stroke|suicid|overdose|unconscious)`)
	sourcePattern     = regexp.MustCompile(`(?i)(https?://\S+|doi:\S+|\b(WHO|CDC|NICE|UpToDate|BMJ|PubMed)\b)`)
)

// IsNonMedical reports whether the message is clearly off-topic for a medical
// assistant.
func IsNonMedical(msg string) bool {
	return nonMedicalPattern.MatchString(msg)
}

// IsEmergency reports whether the message mentions an emergency indicator.
// It never blocks a request; callers use it to flag escalation.
func IsEmergency(msg string) bool {
	return emergencyPattern.MatchString(msg)
}

// HasSources reports whether a reply cites a URL, a DOI or a recognised health
// authority.
func HasSources(text string) bool {
	return sourcePattern.MatchString(text)
}

// TrimToWords keeps the first maxWords whitespace-separated words.
func TrimToWords(text string, maxWords int) string {
	if maxWords <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ")
}

// LogSafe prepares user text for log output: PII is masked and the text is
// cut to a bounded number of words.
func LogSafe(text string, maxWords int) string {
	redacted, _ := RedactPII(text)
	return TrimToWords(redacted, maxWords)
}
