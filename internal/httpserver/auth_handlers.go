package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/auth"
	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

const minPasswordLen = 8

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// maskKey hides a stored credential, keeping the tail for recognition.
// Stored keys are never echoed back in full.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "********"
	}
	return "********" + key[len(key)-4:]
}

type providerPayload struct {
	Configured bool   `json:"configured"`
	MaskedKey  string `json:"masked_key"`
	Model      string `json:"model"`
}

type userPayload struct {
	ID        int64                      `json:"id"`
	Email     string                     `json:"email"`
	Provider  string                     `json:"provider"`
	Providers map[string]providerPayload `json:"providers"`
	CreatedAt time.Time                  `json:"created_at"`
}

func toUserPayload(u *store.User) userPayload {
	return userPayload{
		ID:       u.ID,
		Email:    u.Email,
		Provider: u.Provider,
		Providers: map[string]providerPayload{
			store.ProviderOpenAI:     {Configured: u.OpenAIKey != "", MaskedKey: maskKey(u.OpenAIKey), Model: u.OpenAIModel},
			store.ProviderAnthropic:  {Configured: u.AnthropicKey != "", MaskedKey: maskKey(u.AnthropicKey), Model: u.AnthropicModel},
			store.ProviderOpenRouter: {Configured: u.OpenRouterKey != "", MaskedKey: maskKey(u.OpenRouterKey), Model: u.OpenRouterModel},
		},
		CreatedAt: u.CreatedAt,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		s.respondError(w, http.StatusBadRequest, errors.New("valid email required"))
		return
	}
	if len(req.Password) < minPasswordLen {
		s.respondError(w, http.StatusBadRequest, errors.New("password must be at least 8 characters"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Email, hash,
		store.ProviderOpenAI, s.catalog.DefaultModel(store.ProviderOpenAI))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			s.respondError(w, http.StatusConflict, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toUserPayload(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	user, err := s.store.UserByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.respondError(w, http.StatusUnauthorized, errors.New("invalid email or password"))
		return
	}
	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expires,
		"user":         toUserPayload(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.UserByID(r.Context(), s.claims(r).UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, errors.New("account no longer exists"))
		return
	}
	s.respondJSON(w, http.StatusOK, toUserPayload(user))
}

// handleUpdateMe updates provider selection, per-provider credentials and
// model choices, and optionally the password. Zero-valued fields are left
// untouched.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		Model    string `json:"model"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	user, err := s.store.UserByID(r.Context(), s.claims(r).UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, errors.New("account no longer exists"))
		return
	}

	if req.Provider != "" {
		if !store.KnownProvider(req.Provider) {
			s.respondError(w, http.StatusBadRequest, errors.New("unknown provider "+req.Provider))
			return
		}
		user.Provider = req.Provider
	}
	// Credential and model updates target the active provider.
	switch user.Provider {
	case store.ProviderAnthropic:
		if req.APIKey != "" {
			user.AnthropicKey = req.APIKey
		}
		if req.Model != "" {
			user.AnthropicModel = req.Model
		}
	case store.ProviderOpenRouter:
		if req.APIKey != "" {
			user.OpenRouterKey = req.APIKey
		}
		if req.Model != "" {
			user.OpenRouterModel = req.Model
		}
	default:
		if req.APIKey != "" {
			user.OpenAIKey = req.APIKey
		}
		if req.Model != "" {
			user.OpenAIModel = req.Model
		}
	}
	if req.Password != "" {
		if len(req.Password) < minPasswordLen {
			s.respondError(w, http.StatusBadRequest, errors.New("password must be at least 8 characters"))
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toUserPayload(user))
}

// handleVerifyKey checks a candidate credential against the provider without
// persisting it.
func (s *Server) handleVerifyKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.APIKey == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("api_key required"))
		return
	}
	client, err := s.registry.New(req.Provider, req.APIKey)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := client.Verify(r.Context()); err != nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"valid": false, "message": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "credential accepted"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"supported": s.registry.Supported(),
		"providers": s.catalog.Providers,
	})
}
