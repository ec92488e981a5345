package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lucaferrato/amie/internal/agents"
	"github.com/lucaferrato/amie/internal/store"
)

type createCharacterRequest struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Occupation     string `json:"occupation"`
	AdditionalInfo string `json:"additional_info"`
}

// handleCreateCharacter expands the user's basics into a full persona and
// persists it.
func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req createCharacterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	draft, err := s.creator.Create(r.Context(), agents.Basics{
		Name:           req.Name,
		Age:            req.Age,
		Occupation:     req.Occupation,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		respondRetryableError(w, http.StatusBadGateway, "generation_failed", err.Error(), true)
		return
	}

	char := &store.Character{
		UserID:         req.UserID,
		Name:           req.Name,
		Age:            strconv.Itoa(req.Age),
		Occupation:     req.Occupation,
		AdditionalInfo: req.AdditionalInfo,
		Worldview:      draft.Worldview,
		Details:        draft.Details,
	}
	if err := s.store.CreateCharacter(r.Context(), char); err != nil {
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}
	respondJSON(w, http.StatusCreated, char)
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	char, err := s.store.GetCharacter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "character_not_found", "no such character")
			return
		}
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}
	respondJSON(w, http.StatusOK, char)
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.store.ListCharacters(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}
	if chars == nil {
		chars = []store.Character{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"characters": chars})
}
