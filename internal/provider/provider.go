package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/HananKavitz/ChatGPTLike/internal/chat"
)

// ErrorKind classifies a provider failure so callers can distinguish
// configuration problems from transient ones.
type ErrorKind string

const (
	KindAuth             ErrorKind = "auth"
	KindRateLimit        ErrorKind = "rate_limit"
	KindTransientNetwork ErrorKind = "transient_network"
	KindProviderError    ErrorKind = "provider_error"
	KindUnknown          ErrorKind = "unknown"
)

// Error is a classified provider failure. Adapters surface every upstream
// fault as one of these, either from StreamCompletion directly (before any
// token was produced) or as the terminal event of an open stream.
type Error struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

// Classify maps an upstream HTTP status to an error kind.
func Classify(name string, status int, message string) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status >= 500:
		kind = KindProviderError
	}
	return &Error{Provider: name, Kind: kind, Message: message}
}

// TransportError wraps a network-level failure (dial, reset, mid-stream EOF).
func TransportError(name string, err error) *Error {
	return &Error{Provider: name, Kind: KindTransientNetwork, Message: err.Error()}
}

// AsError extracts a classified error, wrapping unclassified ones as unknown.
func AsError(name string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Provider: name, Kind: KindUnknown, Message: err.Error()}
}

// Request is a canonical streaming completion request. The conversation must
// be non-empty and end with the newest user turn.
type Request struct {
	Model       string
	Messages    []chat.Message
	Temperature *float64
	MaxTokens   int
}

// StreamEvent is one element of a completion stream. Exactly one terminal
// element (Done or Err) ends the sequence; no events follow it and the
// channel is closed by the adapter.
type StreamEvent struct {
	// Delta is a non-empty text fragment to append, when set.
	Delta string
	// Done marks normal completion.
	Done bool
	// Err marks failed completion.
	Err *Error
}

// Client is the uniform contract across LLM vendors. Implementations hold no
// state between invocations beyond their HTTP client; a returned stream is
// finite and cannot be restarted.
type Client interface {
	// Name returns the provider identity ("openai", "anthropic", ...).
	Name() string
	// StreamCompletion opens a streaming completion. Pre-stream failures
	// (empty conversation, rejected request) return a classified *Error;
	// failures after the stream opened arrive as the terminal StreamEvent.
	// Cancelling ctx closes the upstream connection.
	StreamCompletion(ctx context.Context, req Request) (<-chan StreamEvent, error)
	// Verify performs a lightweight round-trip to check the credential
	// without side effects. nil means the credential is usable.
	Verify(ctx context.Context) error
}
