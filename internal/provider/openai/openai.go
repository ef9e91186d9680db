// Package openai implements the provider contract against the OpenAI chat
// completions API.
package openai

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

	"github.com/HananKavitz/ChatGPTLike/internal/provider"
)

const providerName = "openai"

// Ensure Adapter implements the provider contract.
var _ provider.Client = (*Adapter)(nil)

// Adapter sends requests to the OpenAI API.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider identity.
func (a *Adapter) Name() string { return providerName }

type chunkChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type streamChunk struct {
	Choices []chunkChoice `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// StreamCompletion opens a streaming chat completion against OpenAI and
// converts SSE chunks into canonical stream events.
func (a *Adapter) StreamCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindUnknown, Message: "no messages provided"}
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
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

// readStream parses the SSE body line by line, forwarding text deltas and
// emitting exactly one terminal event before closing the channel.
func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.StreamEvent) {
	defer close(ch)
	defer body.Close()

	buf := make([]byte, 8192)
	leftover := ""
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
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if payload == "" {
					continue
				}
				if payload == "[DONE]" {
					ch <- provider.StreamEvent{Done: true}
					return
				}
				var chunk streamChunk
				if perr := json.Unmarshal([]byte(payload), &chunk); perr != nil {
					ch <- provider.StreamEvent{Err: &provider.Error{
						Provider: providerName,
						Kind:     provider.KindProviderError,
						Message:  fmt.Sprintf("parse chunk: %v", perr),
					}}
					return
				}
				if len(chunk.Choices) == 0 {
					continue
				}
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					ch <- provider.StreamEvent{Delta: delta}
				}
				if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
					ch <- provider.StreamEvent{Done: true}
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				// Upstream closed without [DONE]; treat as interrupted.
				ch <- provider.StreamEvent{Err: provider.TransportError(providerName, errors.New("stream ended unexpectedly"))}
				return
			}
			ch <- provider.StreamEvent{Err: provider.TransportError(providerName, err)}
			return
		}
	}
}

// Verify checks the credential with a models listing round-trip.
func (a *Adapter) Verify(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

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

func upstreamMessage(body []byte, status int) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("http %d", status)
}
