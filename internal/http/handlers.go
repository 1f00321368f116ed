package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"docongo/internal/auth"
	"docongo/internal/core"
	"docongo/internal/llm"
	"docongo/pkg"
	"docongo/pkg/errs"
)

// GatewayFactory builds a model gateway for one call.  The key is always
// the resolved caller's; temperature differs between conversational and
// prescription calls.
type GatewayFactory func(apiKey string, temperature float32) (llm.Client, error)

// Notifier publishes prescription-ready events.  Optional; nil disables
// notification.
type Notifier interface {
	Notify(ctx context.Context, sessionID string) error
}

// Server bundles the dependencies behind the HTTP API and knows how to map
// core error kinds to status codes.
type Server struct {
	Store       core.SessionStore
	Resolver    auth.Resolver
	Gateway     GatewayFactory
	Notifier    Notifier
	FallbackKey string
	ChatTemp    float32
	RxTemp      float32
	MinRxTurns  int
}

// Router assembles the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/conversation", func(api chi.Router) {
		api.Post("/chat", s.handleChat)
		api.Post("/reset", s.handleReset)
		api.Get("/status/{sessionID}", s.handleStatus)
		api.Get("/history", s.handleHistory)
		api.Get("/{sessionID}", s.handleGetSession)
		api.Patch("/{sessionID}/title", s.handleRename)
		api.Delete("/{sessionID}", s.handleDelete)
		api.Post("/{sessionID}/prescription", s.handlePrescription)
	})

	return r
}

// handleChat processes one conversational turn.  A missing session id
// mints a fresh one so first contact needs no separate create call.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pkg.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	account, err := s.Resolver.Resolve(ctx, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.authorize(ctx, req.SessionID, account); err != nil {
		writeErr(w, err)
		return
	}

	client, err := s.Gateway(s.apiKey(account), s.ChatTemp)
	if err != nil {
		writeErr(w, err)
		return
	}

	reply, err := core.NewOrchestrator(client, s.Store).Respond(ctx, req.SessionID, req.Message)
	if err != nil {
		writeErr(w, err)
		return
	}

	// An authenticated first message on an anonymous session claims it.
	if account != nil {
		if err := s.Store.ClaimOwner(ctx, req.SessionID, account.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			log.Warn().Err(err).Str("session", req.SessionID).Msg("ownership claim failed")
		}
	}

	respondJSON(w, http.StatusOK, pkg.ChatResponse{
		SessionID: req.SessionID,
		Message:   reply.Message,
		Metadata:  reply.Metadata,
	})
}

// handleReset deletes the session outright; the next message recreates it.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	account, err := s.Resolver.Resolve(ctx, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.authorize(ctx, req.SessionID, account); err != nil {
		writeErr(w, err)
		return
	}

	if err := core.NewOrchestrator(nil, s.Store).Reset(ctx, req.SessionID); err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Conversation reset successfully"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	status, err := core.NewOrchestrator(nil, s.Store).Status(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleHistory lists the authenticated caller's sessions.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.requireAccount(ctx, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	previews, err := s.Store.ListByOwner(ctx, account.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": previews})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	account, err := s.Resolver.Resolve(ctx, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	session, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !session.Anonymous() && (account == nil || account.ID != session.OwnerRef) {
		writeErr(w, errors.Wrap(errs.ErrAuth, "not your session"))
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// handleRename sets the session title.  Owner only.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.requireOwner(ctx, r, sessionID); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.Store.Rename(ctx, sessionID, strings.TrimSpace(req.Title)); err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleDelete removes a session permanently.  Owner only; anonymous
// sessions are cleared through reset instead.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.requireOwner(ctx, r, sessionID); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.Store.Delete(ctx, sessionID); err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handlePrescription generates or fetches the cached prescription.  The
// minimum-transcript precondition is enforced here, before the synthesizer
// is ever invoked.
func (s *Server) handlePrescription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	account, err := s.Resolver.Resolve(ctx, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	session, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !session.Anonymous() && (account == nil || account.ID != session.OwnerRef) {
		writeErr(w, errors.Wrap(errs.ErrAuth, "not your session"))
		return
	}
	if session.MessageCount() < s.MinRxTurns {
		writeErr(w, errors.Wrapf(errs.ErrValidation,
			"at least %d messages are required before a prescription can be generated", s.MinRxTurns))
		return
	}

	client, err := s.Gateway(s.apiKey(account), s.RxTemp)
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := core.NewSynthesizer(client, s.Store).Synthesize(ctx, sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if !result.Cached && s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("prescription notify failed")
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":   sessionID,
		"cached":       result.Cached,
		"generated_at": result.Prescription.GeneratedAt,
		"disclaimer":   result.Prescription.Disclaimer,
		"prescription": json.RawMessage(result.Prescription.Payload),
	})
}

// apiKey picks the caller's stored key, falling back to the server-wide
// one.  An empty result is rejected later by the gateway constructor.
func (s *Server) apiKey(account *auth.Account) string {
	if account != nil && account.APIKey != "" {
		return account.APIKey
	}
	return s.FallbackKey
}

// authorize rejects access to a session owned by a different account.  A
// missing session is fine here; it will be created on first message.
func (s *Server) authorize(ctx context.Context, sessionID string, account *auth.Account) error {
	session, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	if session.Anonymous() {
		return nil
	}
	if account == nil || account.ID != session.OwnerRef {
		return errors.Wrap(errs.ErrAuth, "not your session")
	}
	return nil
}

func (s *Server) requireAccount(ctx context.Context, r *http.Request) (*auth.Account, error) {
	account, err := s.Resolver.Resolve(ctx, r)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errors.Wrap(errs.ErrAuth, "authentication required")
	}
	return account, nil
}

func (s *Server) requireOwner(ctx context.Context, r *http.Request, sessionID string) error {
	account, err := s.requireAccount(ctx, r)
	if err != nil {
		return err
	}
	session, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerRef != account.ID {
		return errors.Wrap(errs.ErrAuth, "not your session")
	}
	return nil
}

// writeErr maps error kinds to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrAuth):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrModelTransport):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("internal error")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
