package orchestrator

import "strings"

// IntentClassifier maps a free-form command to an intent.
type IntentClassifier func(command string) string

// IntentGeneral is returned when no keyword matches.
const IntentGeneral = "general"

// intentKeywords is checked in order; the first intent with a matching
// keyword wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{"exhibition", []string{"exhibition", "exhibit", "gallery", "curate"}},
	{"budget", []string{"budget", "cost", "estimate", "funding"}},
	{"collection", []string{"collection", "archive", "artwork", "artefact", "artifact"}},
	{"education", []string{"education", "workshop", "lesson", "school", "learning"}},
	{"promotion", []string{"promotion", "promote", "marketing", "campaign", "press release"}},
}

// ClassifyIntent is the default keyword classifier.
func ClassifyIntent(command string) string {
	lower := strings.ToLower(command)
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.intent
			}
		}
	}
	return IntentGeneral
}
