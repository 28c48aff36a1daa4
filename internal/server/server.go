// Package server exposes the HTTP API: auth, schools, assistants, documents,
// threads, and messages. Handlers stay thin; all cross-resource coordination
// lives in the app package.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"classmind/internal/app"
	"classmind/internal/ratelimit"
	"classmind/internal/util"
	"classmind/pkg/domain"
	"classmind/pkg/faults"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.FixedWindowLimiter
	Proxies *util.TrustedProxies

	// MaxUploadBytes caps multipart request bodies.
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the platform.
type Server struct {
	app            *app.App
	limiter        *ratelimit.FixedWindowLimiter
	proxies        *util.TrustedProxies
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = app.DefaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		proxies:        cfg.Proxies,
		maxUploadBytes: cfg.MaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	// schools
	s.mux.Handle("/schools", s.authenticated(s.handleSchools))
	s.mux.Handle("/schools/", s.authenticated(s.handleSchoolByID))

	// assistants
	s.mux.Handle("/assistants", s.authenticated(s.handleAssistants))
	s.mux.Handle("/assistants/", s.authenticated(s.handleAssistantByID))

	// documents
	s.mux.Handle("/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/documents/", s.authenticated(s.handleDocumentByID))

	// threads
	s.mux.Handle("/threads", s.authenticated(s.handleThreads))
	s.mux.Handle("/threads/", s.authenticated(s.handleThreadByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(util.ClientIP(r, s.proxies)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.UserFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// pathSegments splits the path after prefix into at most two segments, so
// /threads/{id}/messages yields ("{id}", "messages").
func pathSegments(path, prefix string) (string, string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFault maps coordinator error classes to HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, faults.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, faults.ErrAuthorizationDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, faults.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, faults.ErrThreadFull):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, faults.ErrRemoteTransient), errors.Is(err, faults.ErrRemotePermanent):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
