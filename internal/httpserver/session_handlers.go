package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

type sessionPayload struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	MessageCount int       `json:"message_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type messagePayload struct {
	ID             int64                  `json:"id"`
	Role           string                 `json:"role"`
	Content        string                 `json:"content"`
	Edited         bool                   `json:"edited"`
	CreatedAt      time.Time              `json:"created_at"`
	Visualizations []visualizationPayload `json:"visualizations,omitempty"`
}

type visualizationPayload struct {
	ID        int64           `json:"id"`
	ChartType string          `json:"chart_type"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.SessionsByUser(r.Context(), s.claims(r).UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]sessionPayload, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionPayload{
			ID: sess.ID, Name: sess.Name, MessageCount: sess.MessageCount,
			CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "New Chat"
	}
	sess, err := s.store.CreateSession(r.Context(), s.claims(r).UserID, name)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sessionPayload{
		ID: sess.ID, Name: sess.Name, CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt,
	})
}

// handleSessionDetail returns the session with its full message log and any
// attached visualizations.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	messages, err := s.messagesWithCharts(r, sess.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"session": sessionPayload{
			ID: sess.ID, Name: sess.Name, MessageCount: len(messages),
			CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt,
		},
		"messages": messages,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	messages, err := s.messagesWithCharts(r, sess.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) messagesWithCharts(r *http.Request, sessionID int64) ([]messagePayload, error) {
	messages, err := s.store.MessagesBySession(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]messagePayload, 0, len(messages))
	for _, m := range messages {
		payload := messagePayload{
			ID: m.ID, Role: m.Role, Content: m.Content,
			Edited: m.Edited, CreatedAt: m.CreatedAt,
		}
		if m.Role == "assistant" {
			charts, err := s.store.VisualizationsByMessage(r.Context(), m.ID)
			if err != nil {
				return nil, err
			}
			for _, v := range charts {
				payload.Visualizations = append(payload.Visualizations, visualizationPayload{
					ID: v.ID, ChartType: v.ChartType, Config: v.Config, CreatedAt: v.CreatedAt,
				})
			}
		}
		out = append(out, payload)
	}
	return out, nil
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("name required"))
		return
	}
	if err := s.store.RenameSession(r.Context(), sess.ID, name); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": sess.ID, "name": name})
}

// handleDeleteSession removes the session row, its cascaded children, and
// the uploaded file bytes on disk.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	files, err := s.store.FilesBySession(r.Context(), sess.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("[WARN] remove uploaded file %s: %v", f.Path, err)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": sess.ID})
}

// handleEditMessage replaces a message's content and marks it edited.
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.ownedMessage(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("content required"))
		return
	}
	if err := s.store.UpdateMessageContent(r.Context(), msg.ID, req.Content); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": msg.ID, "content": req.Content, "edited": true})
}

// ownedMessage loads the message and confirms the caller owns its session.
func (s *Server) ownedMessage(w http.ResponseWriter, r *http.Request) (*store.Message, bool) {
	id, err := pathID(r, "messageID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return nil, false
	}
	msg, err := s.store.MessageByID(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if msg == nil {
		s.respondError(w, http.StatusNotFound, errors.New("message not found"))
		return nil, false
	}
	sess, err := s.store.SessionByID(r.Context(), msg.SessionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if sess == nil || sess.UserID != s.claims(r).UserID {
		s.respondError(w, http.StatusForbidden, errors.New("message belongs to another user"))
		return nil, false
	}
	return msg, true
}
