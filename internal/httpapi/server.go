// Package httpapi exposes the chat service over HTTP and websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lucaferrato/amie/internal/agents"
	"github.com/lucaferrato/amie/internal/chat"
	"github.com/lucaferrato/amie/internal/config"
	"github.com/lucaferrato/amie/internal/observability"
	"github.com/lucaferrato/amie/internal/semantic"
	"github.com/lucaferrato/amie/internal/session"
	"github.com/lucaferrato/amie/internal/store"
)

// TurnRunner is the turn pipeline as the transport sees it.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userMessage string) (chat.TurnResult, error)
}

type Server struct {
	cfg      config.Config
	store    store.Store
	index    semantic.Index
	sessions *session.Manager
	runner   TurnRunner
	creator  *agents.CharacterCreator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	st store.Store,
	idx semantic.Index,
	sessions *session.Manager,
	runner TurnRunner,
	creator *agents.CharacterCreator,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		index:    idx,
		sessions: sessions,
		runner:   runner,
		creator:  creator,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin; other websites must not drive a user's chat
				// session if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/characters", s.handleCreateCharacter)
	r.Get("/v1/characters/{id}", s.handleGetCharacter)
	r.Get("/v1/users/{id}/characters", s.handleListCharacters)

	r.Post("/v1/characters/{id}/quests", s.handleCreateQuest)
	r.Get("/v1/characters/{id}/quests", s.handleListQuests)

	r.Post("/v1/characters/{id}/chat", s.handleChat)
	r.Get("/v1/characters/{id}/memories", s.handleSearchMemories)
	r.Get("/v1/conversations/{session_id}", s.handleGetConversation)

	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondRetryableError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	respondJSON(w, status, errorResponse{Error: message, Code: code, Retryable: retryable})
}
