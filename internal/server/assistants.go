package server

import (
	"encoding/json"
	"io"
	"net/http"

	"classmind/pkg/domain"
)

type assistantRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleAssistants(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		assistants, err := s.app.ListAssistants(r.Context(), user)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": assistants, "count": len(assistants)})
	case http.MethodPost:
		var req assistantRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		assistant, err := s.app.CreateAssistant(r.Context(), user, req.Name, req.Description)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, assistant)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAssistantByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, sub := pathSegments(r.URL.Path, "/assistants/")
	if id == "" || sub != "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		assistant, err := s.app.GetAssistant(r.Context(), user, id)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, assistant)
	case http.MethodPatch:
		var req assistantRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		assistant, err := s.app.UpdateAssistant(r.Context(), user, id, req.Name, req.Description)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, assistant)
	case http.MethodDelete:
		if err := s.app.DeleteAssistant(r.Context(), user, id); err != nil {
			writeFault(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
