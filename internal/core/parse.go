package core

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"docongo/pkg/errs"
)

// parse.go implements the output-repair policy.  The model's reply is
// untyped text by construction, so each consumer runs an ordered list of
// parse strategies and takes the first success instead of trusting a
// single schema to always match.

// modelOutput is the structured shape the conversational prompt asks for.
type modelOutput struct {
	Message           string   `json:"message"`
	CurrentStage      string   `json:"current_stage"`
	NextStage         bool     `json:"next_stage"`
	DetectedSymptoms  []string `json:"detected_symptoms"`
	ConfidenceLevel   float64  `json:"confidence_level"`
	SuggestedFollowup string   `json:"suggested_followup"`
}

// parseOutcome tags how far down the strategy list the parser had to go.
type parseOutcome int

const (
	outcomeStructured parseOutcome = iota // strict parse succeeded
	outcomeRepaired                       // salvaged from malformed text
	outcomeFallback                       // nothing usable, synthesized
)

// parseStrategy attempts one way of reading raw model text.  It returns
// false when the strategy does not apply; the caller moves on to the next.
type parseStrategy func(raw string) (modelOutput, bool)

var messagePattern = regexp.MustCompile(`["']message["']\s*:\s*["'](.+?)["']`)

// parseConversation repairs raw conversational model output into a usable
// modelOutput.  It never fails: the final strategy synthesizes a generic
// apology with mid-range confidence.
func parseConversation(raw string) (modelOutput, parseOutcome) {
	strategies := []struct {
		fn      parseStrategy
		outcome parseOutcome
	}{
		{parseStrict, outcomeStructured},
		{parseEmbeddedObject, outcomeRepaired},
		{parseMessageField, outcomeRepaired},
	}
	for _, s := range strategies {
		if out, ok := s.fn(raw); ok {
			return out, s.outcome
		}
	}
	return modelOutput{
		Message:           apologyMessage,
		NextStage:         false,
		DetectedSymptoms:  []string{},
		ConfidenceLevel:   0.5,
		SuggestedFollowup: fallbackFollowup,
	}, outcomeFallback
}

// parseStrict requires the whole reply to be the JSON object we asked for.
func parseStrict(raw string) (modelOutput, bool) {
	var out modelOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return modelOutput{}, false
	}
	if out.Message == "" {
		return modelOutput{}, false
	}
	return out, true
}

// parseEmbeddedObject locates the first balanced top-level JSON object in
// the text and parses that.  Models frequently wrap their JSON in prose or
// a markdown fence; this strips both.
func parseEmbeddedObject(raw string) (modelOutput, bool) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return modelOutput{}, false
	}
	return parseStrict(obj)
}

// parseMessageField regex-extracts just the message field, keeping the
// user-facing text even when the surrounding JSON is broken.
func parseMessageField(raw string) (modelOutput, bool) {
	m := messagePattern.FindStringSubmatch(raw)
	if m == nil {
		return modelOutput{}, false
	}
	return modelOutput{
		Message:           m[1],
		NextStage:         false,
		DetectedSymptoms:  []string{},
		ConfidenceLevel:   0.5,
		SuggestedFollowup: fallbackFollowup,
	}, true
}

// extractJSONObject returns the first brace-balanced object in the text.
// Braces inside JSON strings are skipped.
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// parsePrescription repairs raw prescription output.  Unlike the
// conversational path there is no safe default to fabricate, so after the
// strict and embedded-object strategies fail the whole operation fails
// with a content-parse error.
func parsePrescription(raw string) (json.RawMessage, error) {
	candidates := []string{strings.TrimSpace(raw)}
	if obj, ok := extractJSONObject(raw); ok {
		candidates = append(candidates, obj)
	}
	for _, c := range candidates {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c), &probe); err == nil {
			return json.RawMessage(c), nil
		}
	}
	return nil, errors.Wrap(errs.ErrContentParse, "no valid JSON object in prescription response")
}
