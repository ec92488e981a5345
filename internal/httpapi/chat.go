package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lucaferrato/amie/internal/chat"
	"github.com/lucaferrato/amie/internal/genai"
	"github.com/lucaferrato/amie/internal/reliability"
	"github.com/lucaferrato/amie/internal/semantic"
	"github.com/lucaferrato/amie/internal/store"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	conv, err := s.ensureConversation(r.Context(), chi.URLParam(r, "id"), req.SessionID)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}

	result, err := s.runner.RunTurn(r.Context(), conv.SessionID, req.Message)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	}
	respondJSON(w, http.StatusOK, result)
}

// ensureConversation resolves the session for a chat request, creating a
// fresh conversation when the client did not supply one.
func (s *Server) ensureConversation(ctx context.Context, characterID, sessionID string) (store.Conversation, error) {
	if sessionID != "" {
		conv, err := s.store.GetConversation(ctx, sessionID)
		if err != nil {
			return store.Conversation{}, err
		}
		if conv.CharacterID != characterID {
			return store.Conversation{}, store.ErrNotFound
		}
		return conv, nil
	}

	char, err := s.store.GetCharacter(ctx, characterID)
	if err != nil {
		return store.Conversation{}, err
	}
	conv := &store.Conversation{
		CharacterID:       char.ID,
		UserID:            char.UserID,
		AffectionScore:    s.cfg.InitialAffection,
		RelationshipStage: chat.StageStranger,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return store.Conversation{}, err
	}
	s.sessions.Open(conv.SessionID, conv.CharacterID, conv.UserID)
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	}
	return *conv, nil
}

// respondTurnError maps pipeline errors onto transport status codes with a
// retryable hint for the client.
func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	var genErr *chat.GenerationError
	var persistErr *chat.PersistenceError
	switch {
	case errors.Is(err, chat.ErrSessionBusy):
		respondRetryableError(w, http.StatusConflict, "session_busy", err.Error(), true)
	case errors.As(err, &genErr):
		respondRetryableError(w, http.StatusBadGateway, "generation_failed", err.Error(), isRetryableGeneration(genErr))
	case errors.As(err, &persistErr):
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), !errors.Is(err, store.ErrConflict))
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "no such character or session")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func isRetryableGeneration(err *chat.GenerationError) bool {
	var perr *genai.ProviderError
	if errors.As(err.Err, &perr) {
		return perr.Retryable
	}
	return reliability.IsTimeout(err.Err)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conv, err := s.store.GetConversation(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "no such session")
			return
		}
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}
	turns, err := s.store.ListTurns(r.Context(), sessionID)
	if err != nil {
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}
	if turns == nil {
		turns = []store.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": conv,
		"turns":   turns,
	})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter query is required")
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if s.index == nil {
		respondRetryableError(w, http.StatusServiceUnavailable, "semantic_unavailable", "semantic index not configured", false)
		return
	}

	matches, err := s.index.Search(r.Context(), chi.URLParam(r, "id"), query, limit)
	if err != nil {
		respondRetryableError(w, http.StatusServiceUnavailable, "semantic_unavailable", err.Error(), true)
		return
	}
	if matches == nil {
		matches = []semantic.Match{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
