// Package loopback provides a deterministic in-process adapter used by tests
// and local development: it streams the last user message back word by word.
package loopback

import (
	"context"
	"strings"

	"github.com/HananKavitz/ChatGPTLike/internal/chat"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
)

const providerName = "loopback"

var _ provider.Client = (*Adapter)(nil)

// Adapter echoes the last user message back to the caller.
type Adapter struct{}

// New creates an Adapter instance.
func New() *Adapter {
	return &Adapter{}
}

// Name returns the provider identity.
func (a *Adapter) Name() string { return providerName }

// StreamCompletion fabricates a deterministic token stream for testing the
// relay pipeline.
func (a *Adapter) StreamCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindUnknown, Message: "no messages provided"}
	}

	// find last user message; default to final message if none
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == chat.RoleUser {
			message = req.Messages[i]
			break
		}
	}
	reply := "[loopback] " + strings.TrimSpace(message.Content)

	ch := make(chan provider.StreamEvent, 4)
	go func() {
		defer close(ch)
		for i, word := range strings.Fields(reply) {
			delta := word
			if i > 0 {
				delta = " " + word
			}
			select {
			case <-ctx.Done():
				ch <- provider.StreamEvent{Err: provider.TransportError(providerName, ctx.Err())}
				return
			case ch <- provider.StreamEvent{Delta: delta}:
			}
		}
		ch <- provider.StreamEvent{Done: true}
	}()
	return ch, nil
}

// Verify always succeeds; loopback needs no credential.
func (a *Adapter) Verify(ctx context.Context) error { return nil }
