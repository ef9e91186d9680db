// Package anthropic implements the provider contract against the Anthropic
// messages API (Claude).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/chat"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
)

const (
	providerName      = "anthropic"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 4096
	verifyModel       = "claude-3-haiku-20240307"
)

var _ provider.Client = (*Adapter)(nil)

// Adapter sends requests to the Anthropic API.
type Adapter struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Version        string // optional API version header
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		version:    version,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider identity.
func (a *Adapter) Name() string { return providerName }

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion opens a streaming request to /v1/messages and converts
// Anthropic SSE events into canonical stream events.
func (a *Adapter) StreamCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindUnknown, Message: "no messages provided"}
	}

	messages, systemPrompt, err := convertMessages(req.Messages)
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindUnknown, Message: err.Error()}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	payload := map[string]interface{}{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     true,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(providerName, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, provider.Classify(providerName, resp.StatusCode, upstreamMessage(data, resp.StatusCode))
	}

	ch := make(chan provider.StreamEvent, 10)
	go a.readStream(ctx, resp.Body, ch)
	return ch, nil
}

func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.StreamEvent) {
	defer close(ch)
	defer body.Close()

	buf := make([]byte, 8192)
	leftover := ""
	var eventType string
	for {
		select {
		case <-ctx.Done():
			ch <- provider.StreamEvent{Err: provider.TransportError(providerName, ctx.Err())}
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			data := leftover + string(buf[:n])
			lines := strings.Split(data, "\n")
			leftover = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if strings.HasPrefix(line, "event:") {
					eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					continue
				}
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if payload == "" || payload == "{}" {
					continue
				}
				var evt streamEvent
				if perr := json.Unmarshal([]byte(payload), &evt); perr != nil {
					ch <- provider.StreamEvent{Err: &provider.Error{
						Provider: providerName,
						Kind:     provider.KindProviderError,
						Message:  fmt.Sprintf("parse stream: %v", perr),
					}}
					return
				}
				switch {
				case evt.Type == "content_block_delta" && evt.Delta.Type == "text_delta" && evt.Delta.Text != "":
					ch <- provider.StreamEvent{Delta: evt.Delta.Text}
				case evt.Type == "error":
					ch <- provider.StreamEvent{Err: &provider.Error{
						Provider: providerName,
						Kind:     classifyEventError(evt.Error.Type),
						Message:  evt.Error.Message,
					}}
					return
				case evt.Type == "message_stop" || eventType == "message_stop":
					ch <- provider.StreamEvent{Done: true}
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				ch <- provider.StreamEvent{Err: provider.TransportError(providerName, errors.New("stream ended unexpectedly"))}
				return
			}
			ch <- provider.StreamEvent{Err: provider.TransportError(providerName, err)}
			return
		}
	}
}

// Verify sends a minimal one-token message on the cheapest model.
func (a *Adapter) Verify(ctx context.Context) error {
	payload := map[string]interface{}{
		"model":      verifyModel,
		"messages":   []message{{Role: "user", Content: []contentBlock{{Type: "text", Text: "Hello"}}}},
		"max_tokens": 1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return provider.TransportError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return provider.Classify(providerName, resp.StatusCode, upstreamMessage(data, resp.StatusCode))
	}
	return nil
}

// convertMessages translates the canonical conversation into Anthropic's
// shape: system turns are folded into a separate system prompt, everything
// else becomes a user/assistant message with a text content block.
func convertMessages(in []chat.Message) ([]message, string, error) {
	var out []message
	var systemPrompt string
	for _, m := range in {
		if m.Role == chat.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += m.Content
			continue
		}
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "assistant"
		}
		out = append(out, message{
			Role:    role,
			Content: []contentBlock{{Type: "text", Text: m.Content}},
		})
	}
	if len(out) == 0 {
		return nil, "", errors.New("no user/assistant messages after filtering system messages")
	}
	return out, systemPrompt, nil
}

func classifyEventError(errType string) provider.ErrorKind {
	switch errType {
	case "authentication_error", "permission_error":
		return provider.KindAuth
	case "rate_limit_error":
		return provider.KindRateLimit
	case "overloaded_error", "api_error":
		return provider.KindProviderError
	}
	return provider.KindUnknown
}

func upstreamMessage(body []byte, status int) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("http %d", status)
}
