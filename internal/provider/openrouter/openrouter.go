// Package openrouter implements the provider contract against OpenRouter,
// which exposes many vendors behind an OpenAI-compatible API.
package openrouter

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

const providerName = "openrouter"

var _ provider.Client = (*Adapter)(nil)

// Adapter sends requests to the OpenRouter API.
type Adapter struct {
	apiKey     string
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
}

// Config holds configuration for the OpenRouter adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://openrouter.ai/api/v1
	Referer        string // optional attribution headers
	Title          string
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		referer:    cfg.Referer,
		title:      cfg.Title,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider identity.
func (a *Adapter) Name() string { return providerName }

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// StreamCompletion opens a streaming completion. The wire format matches
// OpenAI's chat completions; only the endpoint and attribution headers differ.
func (a *Adapter) StreamCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindUnknown, Message: "no messages provided"}
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}
	// Some routed models (Gemini in particular) reject temperature.
	if req.Temperature != nil && !strings.Contains(strings.ToLower(req.Model), "gemini") {
		payload["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter: create request: %w", err)
	}
	a.setHeaders(httpReq)
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
				// OpenRouter interleaves ": OPENROUTER PROCESSING" comments.
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
				if chunk.Error != nil {
					ch <- provider.StreamEvent{Err: provider.Classify(providerName, chunk.Error.Code, chunk.Error.Message)}
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
				ch <- provider.StreamEvent{Err: provider.TransportError(providerName, errors.New("stream ended unexpectedly"))}
				return
			}
			ch <- provider.StreamEvent{Err: provider.TransportError(providerName, err)}
			return
		}
	}
}

// Verify checks the credential against the key metadata endpoint.
func (a *Adapter) Verify(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/auth/key", nil)
	if err != nil {
		return fmt.Errorf("openrouter: create request: %w", err)
	}
	a.setHeaders(httpReq)

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

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.referer != "" {
		req.Header.Set("HTTP-Referer", a.referer)
	}
	if a.title != "" {
		req.Header.Set("X-Title", a.title)
	}
}

func upstreamMessage(body []byte, status int) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("http %d", status)
}
