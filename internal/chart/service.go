package chart

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

const previewRows = 5

// Service wires spreadsheet data into the chat pipeline: it contributes
// file context to the prompt and attaches chart visualizations to assistant
// messages when the user asked for one.
type Service struct {
	store store.Store
	log   *log.Logger
}

// NewService builds a chart service over the store.
func NewService(st store.Store, logger *log.Logger) *Service {
	return &Service{store: st, log: logger}
}

// FileContext summarizes the session's uploaded spreadsheets for the system
// prompt: columns, a short preview and the row count per file. Files that
// fail to parse contribute their name only.
func (s *Service) FileContext(ctx context.Context, sessionID int64) (string, error) {
	files, err := s.store.FilesBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("list session files: %w", err)
	}
	var parts []string
	for _, f := range files {
		t, err := LoadTable(f.Path)
		if err != nil {
			s.log.Printf("[WARN] read %s for context: %v", f.OriginalName, err)
			parts = append(parts, "File: "+f.OriginalName)
			continue
		}
		parts = append(parts, fmt.Sprintf(
			"File: %s\nColumns: %s\nPreview:\n%s\nTotal rows: %d",
			f.OriginalName, strings.Join(t.Names(), ", "), t.Preview(previewRows), t.Rows))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Annotate inspects the user's message for a chart instruction and, when one
// is found and the session has data, attaches a generated chart to the
// committed assistant message. Sessions without uploads are skipped quietly.
func (s *Service) Annotate(ctx context.Context, sessionID int64, userText string, assistant *store.Message) error {
	req := ParseRequest(userText)
	if req == nil {
		return nil
	}
	files, err := s.store.FilesBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list session files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	// The newest upload wins when a session holds several.
	latest := files[len(files)-1]
	t, err := LoadTable(latest.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", latest.OriginalName, err)
	}
	config, err := Generate(t, *req)
	if err != nil {
		return fmt.Errorf("generate %s chart: %w", req.Type, err)
	}
	if _, err := s.store.AddVisualization(ctx, assistant.ID, req.Type, config); err != nil {
		return fmt.Errorf("save visualization: %w", err)
	}
	s.log.Printf("[INFO] attached %s chart to message %d (file %s)", req.Type, assistant.ID, latest.OriginalName)
	return nil
}
