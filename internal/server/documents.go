package server

import (
	"encoding/json"
	"io"
	"net/http"

	"classmind/internal/app"
	"classmind/pkg/domain"
)

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.Context(), user, r.URL.Query().Get("assistantId"))
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
	case http.MethodPost:
		s.handleUpload(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// handleUpload accepts a multipart form with a "file" part and an optional
// "assistantId" field. The body cap leaves headroom over the document limit
// for the multipart framing; exact size enforcement happens in the app.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file part")
		return
	}
	doc, err := s.app.UploadDocument(r.Context(), user, app.UploadParams{
		AssistantID: r.FormValue("assistantId"),
		Filename:    header.Filename,
		MediaType:   header.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type attachRequest struct {
	AssistantID string `json:"assistantId"`
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, sub := pathSegments(r.URL.Path, "/documents/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		doc, err := s.app.GetDocument(r.Context(), user, id)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), user, id); err != nil {
			writeFault(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case sub == "attach" && r.Method == http.MethodPost:
		var req attachRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		doc, err := s.app.AttachDocument(r.Context(), user, id, req.AssistantID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case sub != "" && sub != "attach":
		http.NotFound(w, r)
	default:
		methodNotAllowed(w)
	}
}
