package core

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"docongo/internal/llm"
	"docongo/pkg"
	"docongo/pkg/errs"
)

// Orchestrator drives one conversational turn: prompt assembly, the model
// call, output repair, and state reconciliation.  It holds no mutable
// state of its own and is constructed per request from an explicit gateway
// and store, so instances are safe to use concurrently and cheap to throw
// away.
type Orchestrator struct {
	client llm.Client
	store  SessionStore
	now    func() time.Time
}

// NewOrchestrator wires an orchestrator to a gateway and a session store.
func NewOrchestrator(client llm.Client, store SessionStore) *Orchestrator {
	return &Orchestrator{client: client, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Respond processes one inbound patient message and returns the reply with
// its metadata.  Model and persistence failures never escape: they are
// absorbed into a safe fallback reply.  Only input validation can fail.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, userText string) (pkg.Reply, error) {
	if strings.TrimSpace(sessionID) == "" {
		return pkg.Reply{}, errors.Wrap(errs.ErrValidation, "session id is required")
	}
	if strings.TrimSpace(userText) == "" {
		return pkg.Reply{}, errors.Wrap(errs.ErrValidation, "message is required")
	}

	// Emergency scan runs before any session state is touched and never
	// spends a model call.  The patient turn is still appended for audit
	// when the session already exists, but no assistant turn is, so the
	// next real message lands in the pre-emergency stage.
	if IsEmergency(userText) {
		log.Warn().Str("session", sessionID).Msg("emergency phrase detected, short-circuiting")
		if _, err := o.store.Get(ctx, sessionID); err == nil {
			if err := o.store.AppendTurns(ctx, sessionID, pkg.Turn{Role: pkg.RoleUser, Content: userText, Timestamp: o.now()}); err != nil {
				log.Error().Err(err).Str("session", sessionID).Msg("failed to record emergency message")
			}
		}
		return emergencyReply(), nil
	}

	seed := pkg.Turn{
		Role:      pkg.RoleSystem,
		Content:   renderSystemPrompt(FirstStage(), nil),
		Timestamp: o.now(),
	}
	session, created, err := o.store.GetOrCreate(ctx, sessionID, seed)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("failed to load session")
		return fallbackReply(StageError, nil), nil
	}

	raw, err := o.client.Invoke(ctx, []llm.Message{
		{Role: "system", Content: renderSystemPrompt(session.Stage, session.Transcript)},
		{Role: "user", Content: userText},
	})
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Str("stage", session.Stage).Msg("model call failed")
		return fallbackReply(session.Stage, session.DetectedSymptoms), nil
	}

	// The raw exchange is appended before parsing so the transcript
	// reflects reality even when the output turns out to be garbage.
	err = o.store.AppendTurns(ctx, sessionID,
		pkg.Turn{Role: pkg.RoleUser, Content: userText, Timestamp: o.now()},
		pkg.Turn{Role: pkg.RoleAssistant, Content: raw, Timestamp: o.now()},
	)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("failed to append transcript")
		return fallbackReply(session.Stage, session.DetectedSymptoms), nil
	}

	out, outcome := parseConversation(raw)
	if outcome != outcomeStructured {
		log.Warn().Str("session", sessionID).Int("outcome", int(outcome)).Str("raw", truncate(raw, 200)).
			Msg("model output needed repair")
	}

	merged := mergeSymptoms(session.DetectedSymptoms, out.DetectedSymptoms)
	stage := resolveStage(session.Stage, out.CurrentStage, out.NextStage)

	title := ""
	if created {
		title = deriveTitle(userText)
	}
	if err := o.store.UpdateState(ctx, sessionID, stage, merged, title); err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("failed to persist session state")
		return fallbackReply(session.Stage, session.DetectedSymptoms), nil
	}

	currentStage := out.CurrentStage
	if !ValidStage(currentStage) {
		currentStage = stage
	}
	return pkg.Reply{
		Message: out.Message,
		Metadata: pkg.ReplyMetadata{
			Stage:             stage,
			CurrentStage:      currentStage,
			NextStage:         out.NextStage,
			DetectedSymptoms:  merged,
			ConfidenceLevel:   normalizeConfidence(out.ConfidenceLevel),
			SuggestedFollowup: out.SuggestedFollowup,
		},
	}, nil
}

// Reset unconditionally deletes the session.  Resetting a session that does
// not exist is not an error; a subsequent message recreates it fresh.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.Wrap(errs.ErrValidation, "session id is required")
	}
	if err := o.store.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "reset session")
	}
	log.Info().Str("session", sessionID).Msg("conversation reset")
	return nil
}

// Status reports a lightweight projection of the session for polling
// clients.  A missing session is not an error, just Exists=false.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (pkg.SessionStatus, error) {
	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return pkg.SessionStatus{Exists: false}, nil
		}
		return pkg.SessionStatus{}, err
	}
	return pkg.SessionStatus{
		Exists:           true,
		Stage:            session.Stage,
		MessageCount:     session.MessageCount(),
		DetectedSymptoms: session.DetectedSymptoms,
		LastUpdated:      session.UpdatedAt,
	}, nil
}

// renderSystemPrompt builds the aggregate prompt for a turn: master
// instructions, the current stage's policy text, and the conversation so
// far rendered as plain dialogue.
func renderSystemPrompt(stage string, transcript []pkg.Turn) string {
	var b strings.Builder
	b.WriteString(MasterPrompt)
	b.WriteString("\n\n")
	b.WriteString(stageInstructions(stage))
	b.WriteString("\n\nCurrent stage: ")
	b.WriteString(stage)
	b.WriteString("\nPrevious messages:\n")
	b.WriteString(renderHistory(transcript, "User", "Doctor"))
	return b.String()
}

// renderHistory formats the non-system turns chronologically, one per line.
func renderHistory(transcript []pkg.Turn, userLabel, assistantLabel string) string {
	lines := make([]string, 0, len(transcript))
	for _, t := range transcript {
		switch t.Role {
		case pkg.RoleUser:
			lines = append(lines, userLabel+": "+t.Content)
		case pkg.RoleAssistant:
			lines = append(lines, assistantLabel+": "+t.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// mergeSymptoms appends newly detected symptoms not already present.  The
// set is insertion ordered, deduplicated by exact string match, and only
// ever grows.
func mergeSymptoms(existing, detected []string) []string {
	merged := append([]string(nil), existing...)
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range detected {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	return merged
}

// resolveStage reconciles the two overlapping stage signals the model may
// emit.  The stored stage never regresses, and one turn advances the
// catalog position by at most one step: a claimed stage further ahead is
// clamped, a claimed regression is ignored, and the next_stage flag only
// fires when the claim did not already move the session.
func resolveStage(stored, claimed string, advance bool) string {
	stage := stored
	storedIdx, ok := StageIndex(stored)
	if !ok {
		// Storage holds a stage this build does not know; keep it.
		return stored
	}
	if claimedIdx, ok := StageIndex(claimed); ok && claimedIdx > storedIdx {
		stage = NextStage(stored)
	}
	if advance && stage == stored {
		stage = NextStage(stored)
	}
	return stage
}

// normalizeConfidence keeps the reported confidence inside [0,1].  An
// absent value (zero) reads as mid-range, matching the repair fallback.
func normalizeConfidence(c float64) float64 {
	if c == 0 {
		return 0.5
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// deriveTitle produces the short human label from the first patient
// message.  Set once at creation and never overwritten by later turns.
func deriveTitle(userText string) string {
	title := strings.TrimSpace(userText)
	runes := []rune(title)
	if len(runes) > 50 {
		title = string(runes[:47]) + "..."
	}
	return title
}

// fallbackReply is the generic-apology shape used whenever the turn cannot
// complete normally.
func fallbackReply(stage string, symptoms []string) pkg.Reply {
	if symptoms == nil {
		symptoms = []string{}
	}
	return pkg.Reply{
		Message: technicalDifficulty,
		Metadata: pkg.ReplyMetadata{
			Stage:             stage,
			CurrentStage:      stage,
			NextStage:         false,
			DetectedSymptoms:  symptoms,
			ConfidenceLevel:   0,
			SuggestedFollowup: fallbackFollowup,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
