package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"docongo/internal/llm"
	"docongo/pkg"
)

// Synthesizer turns a completed consultation transcript into the cached
// prescription artifact.  Like the orchestrator it is stateless and built
// per request; unlike the orchestrator it is allowed to fail hard, because
// there is no safe default prescription to fabricate.
type Synthesizer struct {
	client llm.Client
	store  SessionStore
	now    func() time.Time
}

// NewSynthesizer wires a synthesizer to a gateway and a session store.
func NewSynthesizer(client llm.Client, store SessionStore) *Synthesizer {
	return &Synthesizer{client: client, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// PrescriptionResult carries the artifact plus whether it came from the
// cache.  A lost persistence race also reports Cached, since the returned
// artifact is then the concurrent winner's.
type PrescriptionResult struct {
	Prescription pkg.Prescription
	Cached       bool
}

// requiredPrescriptionFields are checked after parsing.  A missing field is
// logged but does not block persistence; partial prescriptions are accepted
// rather than rejected.
var requiredPrescriptionFields = []string{"description_of_issue", "ai_analysis", "medicines", "general_tips"}

// Synthesize generates the prescription for a session, or returns the
// cached one.  The read-through cache is idempotent: once a complete
// artifact is persisted it is returned unchanged forever, with no further
// model calls.
func (s *Synthesizer) Synthesize(ctx context.Context, sessionID string) (PrescriptionResult, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return PrescriptionResult{}, errors.Wrap(err, "load session")
	}

	if session.HasPrescription() {
		log.Debug().Str("session", sessionID).Msg("returning cached prescription")
		return PrescriptionResult{Prescription: *session.Prescription, Cached: true}, nil
	}

	raw, err := s.client.Invoke(ctx, []llm.Message{
		{Role: "system", Content: renderPrescriptionPrompt(session)},
		{Role: "user", Content: "Please generate a comprehensive prescription based on the conversation above."},
	})
	if err != nil {
		return PrescriptionResult{}, errors.Wrap(err, "prescription model call")
	}

	payload, err := parsePrescription(raw)
	if err != nil {
		log.Error().Str("session", sessionID).Str("raw", truncate(raw, 200)).Msg("prescription output unparseable")
		return PrescriptionResult{}, err
	}
	validatePrescription(sessionID, payload)

	won, current, err := s.store.SetPrescriptionIfAbsent(ctx, sessionID, pkg.Prescription{
		GeneratedAt: s.now(),
		Disclaimer:  PrescriptionDisclaimer,
		Payload:     payload,
	})
	if err != nil {
		return PrescriptionResult{}, errors.Wrap(err, "persist prescription")
	}
	if !won {
		log.Info().Str("session", sessionID).Msg("lost prescription race, returning persisted artifact")
	} else {
		log.Info().Str("session", sessionID).Msg("prescription generated")
	}
	return PrescriptionResult{Prescription: *current, Cached: !won}, nil
}

// renderPrescriptionPrompt assembles the synthesis prompt: schema and
// formulary instructions, the full dialogue, and a metadata block.
func renderPrescriptionPrompt(session *pkg.Session) string {
	metadata := fmt.Sprintf(
		"Current Stage: %s\nDetected Symptoms: %s\nConversation Created: %s\nLast Updated: %s\nTotal Messages: %d",
		session.Stage,
		joinOrNone(session.DetectedSymptoms),
		session.CreatedAt.Format(time.RFC3339),
		session.UpdatedAt.Format(time.RFC3339),
		session.MessageCount(),
	)
	return PrescriptionPrompt +
		"\n\nCONVERSATION HISTORY:\n" + renderHistory(session.Transcript, "Patient", "Dr. AI") +
		"\n\nMETADATA:\n" + metadata +
		"\n\nBased on the above conversation and metadata, generate a comprehensive prescription in the specified JSON format."
}

func joinOrNone(symptoms []string) string {
	if len(symptoms) == 0 {
		return "None recorded"
	}
	out := symptoms[0]
	for _, s := range symptoms[1:] {
		out += ", " + s
	}
	return out
}

// validatePrescription warns about absent top-level fields without
// rejecting the artifact.
func validatePrescription(sessionID string, payload json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return
	}
	for _, f := range requiredPrescriptionFields {
		if _, ok := fields[f]; !ok {
			log.Warn().Str("session", sessionID).Str("field", f).Msg("prescription missing required field")
		}
	}
}
