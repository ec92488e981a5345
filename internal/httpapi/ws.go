package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lucaferrato/amie/internal/chat"
	"github.com/lucaferrato/amie/internal/store"
)

type wsClientMessage struct {
	Type        string `json:"type"`
	CharacterID string `json:"character_id"`
	SessionID   string `json:"session_id,omitempty"`
	Message     string `json:"message"`
}

type wsTurnEvent struct {
	Type string          `json:"type"`
	Turn chat.TurnResult `json:"turn"`
}

type wsErrorEvent struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable"`
}

// handleChatWS runs turns over a websocket. Turns are processed one at a
// time per connection; a busy session still answers with an error event so
// the client can back off.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
		}
	}()

	idle := s.cfg.SessionInactivityTimeout
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		event := s.processWSMessage(r, msg)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (s *Server) processWSMessage(r *http.Request, msg wsClientMessage) any {
	if msg.Type != "chat" {
		return wsErrorEvent{Type: "error", Code: "invalid_client_message", Detail: "type must be \"chat\""}
	}
	if strings.TrimSpace(msg.Message) == "" {
		return wsErrorEvent{Type: "error", Code: "invalid_client_message", Detail: "message is required"}
	}
	if strings.TrimSpace(msg.CharacterID) == "" && strings.TrimSpace(msg.SessionID) == "" {
		return wsErrorEvent{Type: "error", Code: "invalid_client_message", Detail: "character_id or session_id is required"}
	}

	conv, err := s.ensureConversation(r.Context(), msg.CharacterID, msg.SessionID)
	if err != nil {
		return wsTurnError(err)
	}
	result, err := s.runner.RunTurn(r.Context(), conv.SessionID, msg.Message)
	if err != nil {
		return wsTurnError(err)
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	}
	return wsTurnEvent{Type: "turn", Turn: result}
}

func wsTurnError(err error) wsErrorEvent {
	var genErr *chat.GenerationError
	var persistErr *chat.PersistenceError
	switch {
	case errors.Is(err, chat.ErrSessionBusy):
		return wsErrorEvent{Type: "error", Code: "session_busy", Detail: err.Error(), Retryable: true}
	case errors.As(err, &genErr):
		return wsErrorEvent{Type: "error", Code: "generation_failed", Detail: err.Error(), Retryable: isRetryableGeneration(genErr)}
	case errors.As(err, &persistErr):
		return wsErrorEvent{Type: "error", Code: "persistence_failed", Detail: err.Error(), Retryable: !errors.Is(err, store.ErrConflict)}
	case errors.Is(err, store.ErrNotFound):
		return wsErrorEvent{Type: "error", Code: "not_found", Detail: "no such character or session"}
	default:
		return wsErrorEvent{Type: "error", Code: "internal_error", Detail: err.Error()}
	}
}
