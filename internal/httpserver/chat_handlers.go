package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/relay"
)

// streamFrame is one SSE data payload of a generation stream.
type streamFrame struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done"`
}

// relayStatus maps a relay validation failure to its HTTP status.
func relayStatus(err error) int {
	var storageErr *relay.StorageError
	switch {
	case errors.Is(err, relay.ErrSessionNotFound), errors.Is(err, relay.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, relay.ErrGenerationActive):
		return http.StatusConflict
	case errors.Is(err, relay.ErrNoCredential), errors.Is(err, relay.ErrNotRegenerable):
		return http.StatusBadRequest
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// handleSendMessage appends a user turn and streams the assistant reply as
// SSE. Validation failures are plain JSON errors; once streaming starts,
// failures arrive as a terminal error frame.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
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

	events, err := s.relay.NewMessage(r.Context(), s.claims(r).UserID, sess.ID, req.Content)
	if err != nil {
		s.respondError(w, relayStatus(err), err)
		return
	}
	s.streamEvents(w, r, events)
}

// handleRegenerate discards the target assistant message and its tail, then
// streams a fresh reply. Non-regenerable targets fail fast without opening a
// stream.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "messageID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.relay.Regenerate(r.Context(), s.claims(r).UserID, id)
	if err != nil {
		s.respondError(w, relayStatus(err), err)
		return
	}
	s.streamEvents(w, r, events)
}

// streamEvents forwards relay events as SSE frames, ending with a [DONE]
// sentinel so clients need not rely on connection close.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan relay.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	var tokens int
	writeFrame := func(f streamFrame) {
		payload, err := json.Marshal(f)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeFrame(streamFrame{Error: ev.Err.Error(), Done: true})
		case ev.Done:
			writeFrame(streamFrame{Done: true})
		default:
			tokens++
			writeFrame(streamFrame{Content: ev.Content})
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	s.logger.Printf("chat.stream tokens=%d total_ms=%d", tokens, time.Since(start).Milliseconds())
}
