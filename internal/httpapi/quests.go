package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lucaferrato/amie/internal/store"
)

type createQuestRequest struct {
	Type              string `json:"quest_type"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	RequiredAffection *int   `json:"required_affection,omitempty"`
}

func (s *Server) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	var req createQuestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	questType := store.QuestType(req.Type)
	switch questType {
	case "":
		questType = store.QuestRegular
	case store.QuestRegular, store.QuestAdvancement:
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "quest_type must be regular or advancement")
		return
	}

	quest := &store.Quest{
		CharacterID:       chi.URLParam(r, "id"),
		Type:              questType,
		Title:             req.Title,
		Description:       req.Description,
		RequiredAffection: req.RequiredAffection,
	}
	if err := s.store.CreateQuest(r.Context(), quest); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "character_not_found", "no such character")
			return
		}
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}
	respondJSON(w, http.StatusCreated, quest)
}

// handleListQuests returns the character's quests partitioned by type.
func (s *Server) handleListQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := s.store.ListQuests(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondRetryableError(w, http.StatusServiceUnavailable, "persistence_failed", err.Error(), true)
		return
	}

	regular := []store.Quest{}
	advancement := []store.Quest{}
	for _, q := range quests {
		if q.Type == store.QuestAdvancement {
			advancement = append(advancement, q)
		} else {
			regular = append(regular, q)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"regular":     regular,
		"advancement": advancement,
	})
}
