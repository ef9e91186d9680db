// Package httpserver exposes the REST and SSE endpoints of the chat service.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HananKavitz/ChatGPTLike/internal/auth"
	"github.com/HananKavitz/ChatGPTLike/internal/chart"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
	"github.com/HananKavitz/ChatGPTLike/internal/relay"
	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

// Server exposes the chat application over HTTP.
type Server struct {
	store    store.Store
	relay    *relay.Relay
	tokens   *auth.Manager
	registry *provider.Registry
	catalog  *provider.Catalog
	charts   *chart.Service

	uploadDir string
	maxUpload int64

	logger *log.Logger
}

// Options carries the Server's collaborators.
type Options struct {
	Store     store.Store
	Relay     *relay.Relay
	Tokens    *auth.Manager
	Registry  *provider.Registry
	Catalog   *provider.Catalog
	Charts    *chart.Service
	UploadDir string
	MaxUpload int64
	Logger    *log.Logger
}

// New builds a Server.
func New(opts Options) *Server {
	return &Server{
		store:     opts.Store,
		relay:     opts.Relay,
		tokens:    opts.Tokens,
		registry:  opts.Registry,
		catalog:   opts.Catalog,
		charts:    opts.Charts,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUpload,
		logger:    opts.Logger,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(private chi.Router) {
			private.Use(s.requireAuth)

			private.Get("/auth/me", s.handleMe)
			private.Put("/auth/me", s.handleUpdateMe)
			private.Post("/auth/verify-key", s.handleVerifyKey)

			private.Get("/models", s.handleModels)

			private.Get("/chat/sessions", s.handleListSessions)
			private.Post("/chat/sessions", s.handleCreateSession)
			private.Get("/chat/sessions/{sessionID}", s.handleSessionDetail)
			private.Put("/chat/sessions/{sessionID}", s.handleRenameSession)
			private.Delete("/chat/sessions/{sessionID}", s.handleDeleteSession)
			private.Get("/chat/sessions/{sessionID}/messages", s.handleListMessages)
			private.Post("/chat/sessions/{sessionID}/messages", s.handleSendMessage)
			private.Put("/chat/messages/{messageID}", s.handleEditMessage)
			private.Post("/chat/messages/{messageID}/regenerate", s.handleRegenerate)

			private.Post("/files/sessions/{sessionID}", s.handleUploadFile)
			private.Get("/files/sessions/{sessionID}", s.handleListFiles)
			private.Delete("/files/{fileID}", s.handleDeleteFile)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type contextKey string

const claimsKey contextKey = "claims"

// requireAuth validates the bearer token and stashes its claims.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		claims, err := s.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *Server) claims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// pathID parses a chi URL parameter as an int64.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// ownedSession loads the session and confirms the caller owns it, writing
// the error response itself when the check fails.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return nil, false
	}
	sess, err := s.store.SessionByID(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if sess == nil {
		s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		return nil, false
	}
	if sess.UserID != s.claims(r).UserID {
		s.respondError(w, http.StatusForbidden, errors.New("session belongs to another user"))
		return nil, false
	}
	return sess, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
