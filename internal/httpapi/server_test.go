package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/lucaferrato/amie/internal/agents"
	"github.com/lucaferrato/amie/internal/chat"
	"github.com/lucaferrato/amie/internal/config"
	"github.com/lucaferrato/amie/internal/genai"
	"github.com/lucaferrato/amie/internal/semantic"
	"github.com/lucaferrato/amie/internal/session"
	"github.com/lucaferrato/amie/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	idx := semantic.NewInMemoryIndex(genai.NewHashEmbedder(64))
	sessions := session.NewManager(0)
	client := genai.NewMockClient()
	runner := chat.NewOrchestrator(st, idx, sessions, client, nil, chat.Options{})
	cfg := config.Config{InitialAffection: 50}
	return New(cfg, st, idx, sessions, runner, agents.NewCharacterCreator(client), nil), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func seedCharacter(t *testing.T, st *store.InMemoryStore) store.Character {
	t.Helper()
	char := &store.Character{UserID: "user-1", Name: "Mia", Age: "24", Occupation: "barista"}
	if err := st.CreateCharacter(context.Background(), char); err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	return *char
}

func TestCreateCharacterGeneratesPersona(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/characters", map[string]any{
		"user_id":    "user-1",
		"name":       "Mia",
		"age":        24,
		"occupation": "barista",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var char store.Character
	decodeBody(t, rec, &char)
	if char.ID == "" || char.Worldview == "" {
		t.Fatalf("expected generated persona, got %+v", char)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/characters/"+char.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/user-1/characters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Characters []store.Character `json:"characters"`
	}
	decodeBody(t, rec, &list)
	if len(list.Characters) != 1 {
		t.Fatalf("expected 1 character, got %d", len(list.Characters))
	}
}

func TestCreateCharacterValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/characters", map[string]any{"age": 24})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatCreatesSessionAndCommitsTurn(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()
	char := seedCharacter(t, st)

	rec := doJSON(t, router, http.MethodPost, "/v1/characters/"+char.ID+"/chat", map[string]any{
		"message": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result chat.TurnResult
	decodeBody(t, rec, &result)
	if result.SessionID == "" || result.TurnCount != 1 || result.Dialogue == "" {
		t.Fatalf("unexpected turn result: %+v", result)
	}

	// Second message on the same session advances the count.
	rec = doJSON(t, router, http.MethodPost, "/v1/characters/"+char.ID+"/chat", map[string]any{
		"message":    "still there?",
		"session_id": result.SessionID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second turn status = %d", rec.Code)
	}
	var second chat.TurnResult
	decodeBody(t, rec, &second)
	if second.TurnCount != 2 {
		t.Fatalf("turn count = %d, want 2", second.TurnCount)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/conversations/"+result.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("conversation status = %d", rec.Code)
	}
	var convo struct {
		Session store.Conversation `json:"session"`
		Turns   []store.TurnRecord `json:"turns"`
	}
	decodeBody(t, rec, &convo)
	if convo.Session.TurnCount != 2 || len(convo.Turns) != 2 {
		t.Fatalf("unexpected conversation: %+v", convo)
	}
}

func TestChatUnknownCharacter(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/characters/nope/chat", map[string]any{
		"message": "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatSessionCharacterMismatch(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()
	a := seedCharacter(t, st)
	b := seedCharacter(t, st)

	rec := doJSON(t, router, http.MethodPost, "/v1/characters/"+a.ID+"/chat", map[string]any{"message": "hi"})
	var result chat.TurnResult
	decodeBody(t, rec, &result)

	rec = doJSON(t, router, http.MethodPost, "/v1/characters/"+b.ID+"/chat", map[string]any{
		"message":    "hi",
		"session_id": result.SessionID,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for mismatched session", rec.Code)
	}
}

func TestQuestCreateAndPartitionedList(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()
	char := seedCharacter(t, st)

	rec := doJSON(t, router, http.MethodPost, "/v1/characters/"+char.ID+"/quests", map[string]any{
		"quest_type": "regular",
		"title":      "Small talk",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create regular status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/v1/characters/"+char.ID+"/quests", map[string]any{
		"quest_type":         "advancement",
		"title":              "Open up",
		"required_affection": 60,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create advancement status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/v1/characters/"+char.ID+"/quests", map[string]any{
		"quest_type": "epic",
		"title":      "Nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid type status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/characters/"+char.ID+"/quests", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Regular     []store.Quest `json:"regular"`
		Advancement []store.Quest `json:"advancement"`
	}
	decodeBody(t, rec, &list)
	if len(list.Regular) != 1 || len(list.Advancement) != 1 {
		t.Fatalf("partition = %d regular / %d advancement", len(list.Regular), len(list.Advancement))
	}
}

// stubRunner returns a canned error so status mapping can be checked
// without racing real turns.
type stubRunner struct {
	err error
}

func (r *stubRunner) RunTurn(context.Context, string, string) (chat.TurnResult, error) {
	return chat.TurnResult{}, r.err
}

func TestTurnErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"busy", chat.ErrSessionBusy, http.StatusConflict, "session_busy"},
		{"generation", &chat.GenerationError{Err: errors.New("provider down")}, http.StatusBadGateway, "generation_failed"},
		{"persistence", &chat.PersistenceError{Err: errors.New("db down")}, http.StatusServiceUnavailable, "persistence_failed"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv, st := newTestServer(t)
			srv.runner = &stubRunner{err: c.err}
			char := seedCharacter(t, st)

			rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/characters/"+char.ID+"/chat", map[string]any{
				"message": "hello",
			})
			if rec.Code != c.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, c.wantStatus)
			}
			var body errorResponse
			decodeBody(t, rec, &body)
			if body.Code != c.wantCode {
				t.Fatalf("code = %q, want %q", body.Code, c.wantCode)
			}
		})
	}
}

func TestMemorySearch(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()
	char := seedCharacter(t, st)

	rec := doJSON(t, router, http.MethodPost, "/v1/characters/"+char.ID+"/chat", map[string]any{
		"message": "I grew up by the sea",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/characters/"+char.ID+"/memories?query=talked+with+the+character&limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("memories status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Matches []semantic.Match `json:"matches"`
	}
	decodeBody(t, rec, &out)
	if len(out.Matches) == 0 {
		t.Fatalf("expected at least one match")
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/characters/"+char.ID+"/memories", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing query status = %d, want 400", rec.Code)
	}
}

func TestChatWebsocket(t *testing.T) {
	srv, st := newTestServer(t)
	char := seedCharacter(t, st)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsClientMessage{Type: "chat", CharacterID: char.ID, Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var event wsTurnEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Type != "turn" || event.Turn.TurnCount != 1 || event.Turn.Dialogue == "" {
		t.Fatalf("unexpected event: %+v", event)
	}

	// Malformed message yields an error event, not a dropped connection.
	if err := conn.WriteJSON(wsClientMessage{Type: "chat"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errEvent wsErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read: %v", err)
	}
	if errEvent.Type != "error" || errEvent.Code != "invalid_client_message" {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}
}
