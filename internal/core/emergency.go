package core

import (
	"strings"

	"docongo/pkg"
)

// emergencyKeywords is the fixed phrase list scanned on every inbound
// message.  Matching is plain case-insensitive substring search; no
// tokenization is attempted.
var emergencyKeywords = []string{
	"chest pain", "difficulty breathing", "shortness of breath", "unconscious",
	"severe bleeding", "head injury", "stroke symptoms", "heart attack",
	"severe allergic reaction", "suicide", "overdose", "severe burns",
	"broken bone", "severe abdominal pain", "high fever", "seizure",
}

// IsEmergency reports whether the text contains any configured emergency
// phrase.  Pure function, run before any session state is touched.
func IsEmergency(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// emergencyReply builds the canned emergency payload.  Confidence is pinned
// to 1.0 and the stage is the emergency sentinel regardless of where the
// session currently is.
func emergencyReply() pkg.Reply {
	return pkg.Reply{
		Message: EmergencyResponse,
		Metadata: pkg.ReplyMetadata{
			Stage:             StageEmergency,
			CurrentStage:      StageEmergency,
			NextStage:         false,
			DetectedSymptoms:  []string{"emergency"},
			ConfidenceLevel:   1.0,
			SuggestedFollowup: "Please seek immediate medical attention.",
		},
	}
}
