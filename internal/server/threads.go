package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"classmind/pkg/domain"
)

type createThreadRequest struct {
	AssistantID string `json:"assistantId"`
	Name        string `json:"name"`
}

type postMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		threads, err := s.app.ListThreads(r.Context(), user, r.URL.Query().Get("assistantId"))
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": threads, "count": len(threads)})
	case http.MethodPost:
		var req createThreadRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		thread, err := s.app.CreateThread(r.Context(), user, req.AssistantID, req.Name)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, thread)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleThreadByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, sub := pathSegments(r.URL.Path, "/threads/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			thread, err := s.app.GetThread(r.Context(), user, id)
			if err != nil {
				writeFault(w, err)
				return
			}
			writeJSON(w, http.StatusOK, thread)
		case http.MethodDelete:
			if err := s.app.DeleteThread(r.Context(), user, id); err != nil {
				writeFault(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w)
		}
	case "messages":
		switch r.Method {
		case http.MethodGet:
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					limit = n
				}
			}
			msgs, err := s.app.ListMessages(r.Context(), user, id, limit)
			if err != nil {
				writeFault(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": msgs, "count": len(msgs)})
		case http.MethodPost:
			var req postMessageRequest
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			msg, err := s.app.PostMessage(r.Context(), user, id, domain.MessageRole(req.Role), req.Content)
			if err != nil {
				writeFault(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, msg)
		default:
			methodNotAllowed(w)
		}
	case "run":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		reply, err := s.app.RunAssistant(r.Context(), user, id)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	default:
		http.NotFound(w, r)
	}
}
