package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/chat"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
	"github.com/HananKavitz/ChatGPTLike/internal/testutil"
)

func newTestAdapter(t *testing.T, upstream *testutil.IPv4Server) *Adapter {
	t.Helper()
	a, err := New(Config{APIKey: "sk-ant-test", BaseURL: upstream.URL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.httpClient = upstream.Client()
	return a
}

func askRequest() provider.Request {
	return provider.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "You are a helpful AI assistant."},
			{Role: chat.RoleUser, Content: "hello"},
		},
	}
}

func collect(t *testing.T, ch <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var events []provider.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestStreamCompletionForwardsTextDeltas(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, testutil.SSEHandler(
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	ch, err := a.StreamCompletion(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Delta != "Hi" || events[1].Delta != " there" {
		t.Errorf("deltas = %q, %q", events[0].Delta, events[1].Delta)
	}
	if !events[2].Done {
		t.Errorf("terminal event = %+v, want Done", events[2])
	}
}

func TestStreamCompletionFoldsSystemIntoPrompt(t *testing.T) {
	var captured struct {
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	ch, err := a.StreamCompletion(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	collect(t, ch)

	if captured.System != "You are a helpful AI assistant." {
		t.Errorf("system prompt = %q", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", captured.Messages)
	}
}

func TestStreamCompletionErrorEvent(t *testing.T) {
	tests := []struct {
		errType string
		want    provider.ErrorKind
	}{
		{"authentication_error", provider.KindAuth},
		{"rate_limit_error", provider.KindRateLimit},
		{"overloaded_error", provider.KindProviderError},
	}
	for _, tc := range tests {
		t.Run(tc.errType, func(t *testing.T) {
			upstream := testutil.NewIPv4Server(t, testutil.SSEHandler(
				"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\""+tc.errType+"\",\"message\":\"nope\"}}\n\n",
			))
			defer upstream.Close()

			a := newTestAdapter(t, upstream)
			ch, err := a.StreamCompletion(context.Background(), askRequest())
			if err != nil {
				t.Fatalf("StreamCompletion: %v", err)
			}
			events := collect(t, ch)
			last := events[len(events)-1]
			if last.Err == nil || last.Err.Kind != tc.want {
				t.Fatalf("terminal event = %+v, want %s error", last, tc.want)
			}
		})
	}
}

func TestStreamCompletionPreStreamAuthFailure(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	_, err := a.StreamCompletion(context.Background(), askRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	pe := provider.AsError(providerName, err)
	if pe.Kind != provider.KindAuth || pe.Message != "invalid x-api-key" {
		t.Errorf("error = %+v", pe)
	}
}

func TestConvertMessagesRequiresConversation(t *testing.T) {
	_, _, err := convertMessages([]chat.Message{{Role: chat.RoleSystem, Content: "only system"}})
	if err == nil {
		t.Fatal("expected error for system-only conversation")
	}
}

func TestVerifySendsMinimalMessage(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key = %q", got)
		}
		var payload struct {
			MaxTokens int `json:"max_tokens"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		if payload.MaxTokens != 1 {
			t.Errorf("max_tokens = %d, want 1", payload.MaxTokens)
		}
		w.Write([]byte(`{"id":"msg_test"}`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	if err := a.Verify(context.Background()); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
