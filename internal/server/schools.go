package server

import (
	"encoding/json"
	"io"
	"net/http"

	"classmind/pkg/domain"
)

type createSchoolRequest struct {
	Name     string `json:"name"`
	Tier     string `json:"tier"`
	MaxUsers int    `json:"maxUsers"`
}

func (s *Server) handleSchools(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createSchoolRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	school, err := s.app.CreateSchool(r.Context(), user, req.Name, domain.SubscriptionTier(req.Tier), req.MaxUsers)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, school)
}

func (s *Server) handleSchoolByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, sub := pathSegments(r.URL.Path, "/schools/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch sub {
	case "users":
		users, err := s.app.SchoolUsers(r.Context(), user, id)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users, "count": len(users)})
	case "stats":
		usage, err := s.app.SchoolStats(r.Context(), user, id)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, usage)
	default:
		http.NotFound(w, r)
	}
}
