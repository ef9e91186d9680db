package openrouter

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
	a, err := New(Config{
		APIKey:         "sk-or-test",
		BaseURL:        upstream.URL,
		Referer:        "https://example.test",
		Title:          "chatd",
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.httpClient = upstream.Client()
	return a
}

func askRequest(model string, temp *float64) provider.Request {
	return provider.Request{
		Model:       model,
		Messages:    []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
		Temperature: temp,
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

func TestStreamCompletionSkipsKeepaliveComments(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, testutil.SSEHandler(
		": OPENROUTER PROCESSING\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"hey\"}}]}\n\n",
		": OPENROUTER PROCESSING\n\n",
		"data: [DONE]\n\n",
	))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	ch, err := a.StreamCompletion(context.Background(), askRequest("openai/gpt-4o", nil))
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 2 || events[0].Delta != "hey" || !events[1].Done {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestStreamCompletionAttributionHeaders(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.test" {
			t.Errorf("HTTP-Referer = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "chatd" {
			t.Errorf("X-Title = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	ch, err := a.StreamCompletion(context.Background(), askRequest("openai/gpt-4o", nil))
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	collect(t, ch)
}

func TestStreamCompletionGeminiSkipsTemperature(t *testing.T) {
	temp := 0.7
	tests := []struct {
		name     string
		model    string
		wantTemp bool
	}{
		{"gemini", "google/gemini-2.5-pro", false},
		{"openai", "openai/gpt-4o", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var payload map[string]any
			upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &payload)
				w.Header().Set("Content-Type", "text/event-stream")
				w.Write([]byte("data: [DONE]\n\n"))
			}))
			defer upstream.Close()

			a := newTestAdapter(t, upstream)
			ch, err := a.StreamCompletion(context.Background(), askRequest(tc.model, &temp))
			if err != nil {
				t.Fatalf("StreamCompletion: %v", err)
			}
			collect(t, ch)

			_, has := payload["temperature"]
			if has != tc.wantTemp {
				t.Errorf("temperature present = %v, want %v", has, tc.wantTemp)
			}
		})
	}
}

func TestStreamCompletionInlineErrorClassified(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, testutil.SSEHandler(
		"data: {\"error\":{\"message\":\"Rate limit exceeded\",\"code\":429}}\n\n",
	))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	ch, err := a.StreamCompletion(context.Background(), askRequest("openai/gpt-4o", nil))
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	events := collect(t, ch)
	last := events[len(events)-1]
	if last.Err == nil || last.Err.Kind != provider.KindRateLimit {
		t.Fatalf("terminal event = %+v, want rate_limit error", last)
	}
}

func TestVerifyUsesKeyEndpoint(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/key" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"label":"test"}}`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	if err := a.Verify(context.Background()); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
