package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// routeProjects dispatches /api/projects/:projectID/... with the leading two
// segments already stripped.
func (s *HTTPServer) routeProjects(w http.ResponseWriter, r *http.Request, identity Identity, parts []string) bool {
	if len(parts) < 2 {
		return false
	}
	projectID := parts[0]

	if parts[1] == "lists" {
		return s.routeProjectLists(w, r, identity, projectID, parts[2:])
	}
	if parts[1] == "cards" {
		return s.routeProjectCards(w, r, identity, projectID, parts[2:])
	}
	return false
}

func (s *HTTPServer) routeProjectLists(w http.ResponseWriter, r *http.Request, identity Identity, projectID string, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			lists, err := s.service.ListLists(r.Context(), projectID, identity.UserID, queryBool(r, "includeArchived"))
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"lists": listPayloads(lists)})
			return true
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			list, err := s.service.CreateList(r.Context(), projectID, identity.UserID, body.Name)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusCreated, map[string]any{"list": listPayload(list)})
			return true
		}
		return false
	}

	if len(parts) == 1 && parts[0] == "reorder" && r.Method == http.MethodPatch {
		var body struct {
			OrderedIDs []string `json:"orderedIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		lists, err := s.service.ReorderLists(r.Context(), projectID, identity.UserID, body.OrderedIDs)
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"lists": listPayloads(lists)})
		return true
	}

	listID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			list, err := s.service.GetListInProject(r.Context(), projectID, listID, identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"list": listPayload(list)})
			return true
		case http.MethodPatch:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			list, err := s.service.RenameList(r.Context(), projectID, listID, identity.UserID, body.Name)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"list": listPayload(list)})
			return true
		case http.MethodDelete:
			if err := s.service.DeleteList(r.Context(), projectID, listID, identity.UserID); err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}
		return false
	}

	if len(parts) == 2 && r.Method == http.MethodPatch {
		var list store.List
		var err error
		switch parts[1] {
		case "archive":
			list, err = s.service.ArchiveList(r.Context(), projectID, listID, identity.UserID)
		case "restore":
			list, err = s.service.RestoreList(r.Context(), projectID, listID, identity.UserID)
		default:
			return false
		}
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"list": listPayload(list)})
		return true
	}
	return false
}

func (s *HTTPServer) routeProjectCards(w http.ResponseWriter, r *http.Request, identity Identity, projectID string, parts []string) bool {
	if len(parts) == 0 && r.Method == http.MethodGet {
		response, err := s.service.SearchCards(r.Context(), projectID, identity.UserID, search.Query{
			ListID:          strings.TrimSpace(r.URL.Query().Get("listId")),
			Text:            strings.TrimSpace(r.URL.Query().Get("q")),
			IncludeArchived: queryBool(r, "includeArchived"),
		})
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, response)
		return true
	}

	if len(parts) == 0 {
		return false
	}
	cardID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			card, err := s.service.GetCard(r.Context(), projectID, cardID, identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"card": cardPayload(card)})
			return true
		case http.MethodPatch:
			patch, ok := decodeCardPatch(w, r)
			if !ok {
				return true
			}
			card, err := s.service.UpdateCard(r.Context(), projectID, cardID, identity.UserID, patch)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"card": cardPayload(card)})
			return true
		case http.MethodDelete:
			if err := s.service.DeleteCard(r.Context(), projectID, cardID, identity.UserID); err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}
		return false
	}

	if len(parts) == 2 && r.Method == http.MethodPatch {
		switch parts[1] {
		case "move":
			var body struct {
				ListID   string `json:"listId"`
				Position int    `json:"position"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			if strings.TrimSpace(body.ListID) == "" {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "listId is required", nil)
				return true
			}
			card, err := s.service.MoveCard(r.Context(), projectID, cardID, identity.UserID, body.ListID, body.Position)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"card": cardPayload(card)})
			return true
		case "archive":
			card, err := s.service.ArchiveCard(r.Context(), projectID, cardID, identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"card": cardPayload(card)})
			return true
		case "restore":
			card, err := s.service.RestoreCard(r.Context(), projectID, cardID, identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"card": cardPayload(card)})
			return true
		}
	}
	return false
}

// routeLists dispatches /api/lists/:listID/cards[...], the card routes keyed
// by list id alone.
func (s *HTTPServer) routeLists(w http.ResponseWriter, r *http.Request, identity Identity, parts []string) bool {
	if len(parts) < 2 || parts[1] != "cards" {
		return false
	}
	listID := parts[0]
	rest := parts[2:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			cards, err := s.service.ListCards(r.Context(), listID, identity.UserID, queryBool(r, "includeArchived"))
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"cards": cardPayloads(cards)})
			return true
		case http.MethodPost:
			var body struct {
				Title       string     `json:"title"`
				Description *string    `json:"description"`
				DueAt       *time.Time `json:"dueAt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			card, err := s.service.CreateCard(r.Context(), listID, identity.UserID, body.Title, body.Description, body.DueAt)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusCreated, map[string]any{"card": cardPayload(card)})
			return true
		}
		return false
	}

	if len(rest) == 1 && rest[0] == "reorder" && r.Method == http.MethodPatch {
		var body struct {
			OrderedIDs []string `json:"orderedIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		cards, err := s.service.ReorderCards(r.Context(), listID, identity.UserID, body.OrderedIDs)
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": cardPayloads(cards)})
		return true
	}
	return false
}

// decodeCardPatch reads a partial card update, tracking which keys were
// actually present so null clears a field and absence leaves it alone.
func decodeCardPatch(w http.ResponseWriter, r *http.Request) (CardPatch, bool) {
	var raw map[string]json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return CardPatch{}, false
	}

	var patch CardPatch
	if value, ok := raw["title"]; ok {
		if err := json.Unmarshal(value, &patch.Title); err != nil || patch.Title == nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "title must be a string", nil)
			return CardPatch{}, false
		}
	}
	if value, ok := raw["description"]; ok {
		patch.DescriptionSet = true
		if err := json.Unmarshal(value, &patch.Description); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "description must be a string or null", nil)
			return CardPatch{}, false
		}
	}
	if value, ok := raw["dueAt"]; ok {
		patch.DueAtSet = true
		if err := json.Unmarshal(value, &patch.DueAt); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "dueAt must be an RFC 3339 timestamp or null", nil)
			return CardPatch{}, false
		}
	}
	return patch, true
}

func queryBool(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}

// --- payload shaping ---

func listPayload(list store.List) map[string]any {
	return map[string]any{
		"id":         list.ID,
		"projectId":  list.ProjectID,
		"name":       list.Name,
		"position":   list.Position,
		"isArchived": list.IsArchived,
		"createdAt":  list.CreatedAt,
		"updatedAt":  list.UpdatedAt,
	}
}

func listPayloads(lists []store.List) []map[string]any {
	payload := make([]map[string]any, 0, len(lists))
	for _, list := range lists {
		payload = append(payload, listPayload(list))
	}
	return payload
}

func cardPayload(card store.Card) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"projectId":   card.ProjectID,
		"listId":      card.ListID,
		"title":       card.Title,
		"description": card.Description,
		"position":    card.Position,
		"isArchived":  card.IsArchived,
		"dueAt":       card.DueAt,
		"createdAt":   card.CreatedAt,
		"updatedAt":   card.UpdatedAt,
	}
}

func cardPayloads(cards []store.Card) []map[string]any {
	payload := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		payload = append(payload, cardPayload(card))
	}
	return payload
}
