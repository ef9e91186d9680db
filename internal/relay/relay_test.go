package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/chat"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
	"github.com/HananKavitz/ChatGPTLike/internal/store"
	storesqlite "github.com/HananKavitz/ChatGPTLike/internal/store/sqlite"
)

// fakeClient replays a scripted event sequence. A nil script blocks until
// the context is cancelled or release is closed.
type fakeClient struct {
	mu      sync.Mutex
	script  []provider.StreamEvent
	block   bool
	started chan struct{}
	release chan struct{}
	lastReq provider.Request
}

func (f *fakeClient) Name() string                     { return "openai" }
func (f *fakeClient) Verify(ctx context.Context) error { return nil }

func (f *fakeClient) StreamCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	f.mu.Lock()
	f.lastReq = req
	script := append([]provider.StreamEvent(nil), f.script...)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		f.started = nil
	}

	ch := make(chan provider.StreamEvent, len(script)+1)
	go func() {
		defer close(ch)
		if f.block {
			select {
			case <-ctx.Done():
				ch <- provider.StreamEvent{Err: provider.TransportError("openai", ctx.Err())}
				return
			case <-f.release:
			}
		}
		for _, ev := range script {
			select {
			case <-ctx.Done():
				ch <- provider.StreamEvent{Err: provider.TransportError("openai", ctx.Err())}
				return
			case ch <- ev:
			}
			if ev.Done || ev.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeClient) request() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func deltas(parts ...string) []provider.StreamEvent {
	events := make([]provider.StreamEvent, 0, len(parts)+1)
	for _, p := range parts {
		events = append(events, provider.StreamEvent{Delta: p})
	}
	return append(events, provider.StreamEvent{Done: true})
}

type fixture struct {
	relay     *Relay
	store     store.Store
	client    *fakeClient
	userID    int64
	sessionID int64
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st, err := storesqlite.New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	user, err := st.CreateUser(ctx, "alice@example.com", "x", store.ProviderOpenAI, "gpt-4o")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	user.OpenAIKey = "sk-test"
	if err := st.UpdateUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}
	sess, err := st.CreateSession(ctx, user.ID, "test chat")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	client := &fakeClient{}
	reg := provider.NewRegistry()
	reg.Register(store.ProviderOpenAI, func(apiKey string) (provider.Client, error) {
		return client, nil
	})
	catalog, err := provider.LoadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	return &fixture{
		relay:     New(st, reg, catalog, logger, opts),
		store:     st,
		client:    client,
		userID:    user.ID,
		sessionID: sess.ID,
	}
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining relay events")
		}
	}
}

func assembled(events []Event) string {
	var out string
	for _, ev := range events {
		out += ev.Content
	}
	return out
}

func (fx *fixture) messages(t *testing.T) []store.Message {
	t.Helper()
	msgs, err := fx.store.MessagesBySession(context.Background(), fx.sessionID)
	if err != nil {
		t.Fatalf("read messages: %v", err)
	}
	return msgs
}

func (fx *fixture) send(t *testing.T, text string) []Event {
	t.Helper()
	ch, err := fx.relay.NewMessage(context.Background(), fx.userID, fx.sessionID, text)
	if err != nil {
		t.Fatalf("NewMessage(%q): %v", text, err)
	}
	return drain(t, ch)
}

func TestNewMessagePersistsUserAndAssistantPairs(t *testing.T) {
	fx := newFixture(t, Options{})

	exchanges := []struct {
		prompt string
		reply  []string
	}{
		{"first", []string{"one"}},
		{"second", []string{"two", " parts"}},
		{"third", []string{"th", "ree", "!"}},
	}
	for i, ex := range exchanges {
		fx.client.script = deltas(ex.reply...)
		events := fx.send(t, ex.prompt)

		if got := assembled(events); got != joinAll(ex.reply) {
			t.Errorf("exchange %d streamed %q", i, got)
		}
		last := events[len(events)-1]
		if !last.Done || last.Err != nil {
			t.Fatalf("exchange %d terminal = %+v", i, last)
		}

		msgs := fx.messages(t)
		if len(msgs) != (i+1)*2 {
			t.Fatalf("after exchange %d: %d messages, want %d", i, len(msgs), (i+1)*2)
		}
		if msgs[len(msgs)-2].Role != "user" || msgs[len(msgs)-2].Content != ex.prompt {
			t.Errorf("user turn = %+v", msgs[len(msgs)-2])
		}
		if msgs[len(msgs)-1].Role != "assistant" || msgs[len(msgs)-1].Content != joinAll(ex.reply) {
			t.Errorf("assistant turn = %+v", msgs[len(msgs)-1])
		}
	}
}

func joinAll(parts []string) string {
	var out string
	for _, p := range parts {
		out += p
	}
	return out
}

func TestConversationCarriesHistoryInOrder(t *testing.T) {
	fx := newFixture(t, Options{})

	fx.client.script = deltas("Hello!")
	fx.send(t, "Hi")

	fx.client.script = deltas("4", ".")
	events := fx.send(t, "What's 2+2?")

	if got := assembled(events); got != "4." {
		t.Errorf("streamed %q, want %q", got, "4.")
	}
	msgs := fx.messages(t)
	if len(msgs) != 4 || msgs[3].Content != "4." {
		t.Fatalf("messages = %+v", msgs)
	}

	// The provider saw: system prompt, then the four turns oldest-first.
	req := fx.client.request()
	want := []chat.Message{
		{Role: chat.RoleUser, Content: "Hi"},
		{Role: chat.RoleAssistant, Content: "Hello!"},
		{Role: chat.RoleUser, Content: "What's 2+2?"},
	}
	if len(req.Messages) != len(want)+1 {
		t.Fatalf("provider got %d messages: %+v", len(req.Messages), req.Messages)
	}
	if req.Messages[0].Role != chat.RoleSystem {
		t.Errorf("first message role = %s, want system", req.Messages[0].Role)
	}
	for i, w := range want {
		got := req.Messages[i+1]
		if got.Role != w.Role || got.Content != w.Content {
			t.Errorf("message %d = %+v, want %+v", i+1, got, w)
		}
	}
	if req.Model != "gpt-4o" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestProviderErrorLeavesOnlyUserMessage(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.client.script = []provider.StreamEvent{{Err: &provider.Error{
		Provider: "openai", Kind: provider.KindRateLimit, Message: "rate limit exceeded",
	}}}

	events := fx.send(t, "doomed prompt")
	last := events[len(events)-1]
	if last.Err == nil {
		t.Fatalf("terminal = %+v, want error", last)
	}
	pe := provider.AsError("openai", last.Err)
	if pe.Kind != provider.KindRateLimit {
		t.Errorf("kind = %s", pe.Kind)
	}

	msgs := fx.messages(t)
	if len(msgs) != 1 || msgs[0].Role != "user" || msgs[0].Content != "doomed prompt" {
		t.Fatalf("messages = %+v, want just the user turn", msgs)
	}
}

func TestNoCredentialStillPersistsUserMessage(t *testing.T) {
	fx := newFixture(t, Options{})
	user, err := fx.store.UserByID(context.Background(), fx.userID)
	if err != nil {
		t.Fatal(err)
	}
	user.OpenAIKey = ""
	if err := fx.store.UpdateUser(context.Background(), user); err != nil {
		t.Fatal(err)
	}

	_, err = fx.relay.NewMessage(context.Background(), fx.userID, fx.sessionID, "hello?")
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	msgs := fx.messages(t)
	if len(msgs) != 1 || msgs[0].Content != "hello?" {
		t.Fatalf("messages = %+v, want the persisted user turn", msgs)
	}
}

func TestCancellationPersistsNoAssistantMessage(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.client.block = true
	fx.client.release = make(chan struct{})
	started := make(chan struct{})
	fx.client.started = started

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := fx.relay.NewMessage(ctx, fx.userID, fx.sessionID, "cancel me")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	<-started
	cancel()
	drain(t, ch)

	msgs := fx.messages(t)
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("messages = %+v, want only the user turn", msgs)
	}
}

func TestConcurrentGenerationConflicts(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.client.block = true
	fx.client.release = make(chan struct{})
	fx.client.script = deltas("late reply")
	started := make(chan struct{})
	fx.client.started = started

	first, err := fx.relay.NewMessage(context.Background(), fx.userID, fx.sessionID, "first")
	if err != nil {
		t.Fatalf("first NewMessage: %v", err)
	}
	done := make(chan []Event)
	go func() { done <- drain(t, first) }()
	<-started

	_, err = fx.relay.NewMessage(context.Background(), fx.userID, fx.sessionID, "second")
	if !errors.Is(err, ErrGenerationActive) {
		t.Fatalf("concurrent err = %v, want ErrGenerationActive", err)
	}

	close(fx.client.release)
	events := <-done
	if last := events[len(events)-1]; !last.Done {
		t.Fatalf("first stream terminal = %+v", last)
	}

	// The slot is released; the session accepts work again.
	fx.client.block = false
	fx.client.script = deltas("ok")
	fx.send(t, "third")
}

func TestStallTimeoutSurfacesTransientError(t *testing.T) {
	fx := newFixture(t, Options{ProgressTimeout: 50 * time.Millisecond})
	fx.client.block = true
	fx.client.release = make(chan struct{})

	events := fx.send(t, "slow provider")
	last := events[len(events)-1]
	if last.Err == nil {
		t.Fatalf("terminal = %+v, want error", last)
	}
	if pe := provider.AsError("openai", last.Err); pe.Kind != provider.KindTransientNetwork {
		t.Errorf("kind = %s, want transient_network", pe.Kind)
	}
	if msgs := fx.messages(t); len(msgs) != 1 {
		t.Fatalf("messages = %+v, want only the user turn", msgs)
	}
}

func TestRegenerateTruncatesAndReplaces(t *testing.T) {
	fx := newFixture(t, Options{})

	fx.client.script = deltas("first answer")
	fx.send(t, "q1")
	fx.client.script = deltas("second answer")
	fx.send(t, "q2")

	msgs := fx.messages(t)
	if len(msgs) != 4 {
		t.Fatalf("setup produced %d messages", len(msgs))
	}
	firstAssistant := msgs[1]

	// Regenerating the first assistant turn drops it and everything after.
	fx.client.script = deltas("regenerated")
	ch, err := fx.relay.Regenerate(context.Background(), fx.userID, firstAssistant.ID)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	events := drain(t, ch)
	if got := assembled(events); got != "regenerated" {
		t.Errorf("streamed %q", got)
	}

	msgs = fx.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("after regenerate: %+v", msgs)
	}
	if msgs[0].Content != "q1" || msgs[1].Content != "regenerated" {
		t.Errorf("history = [%q, %q]", msgs[0].Content, msgs[1].Content)
	}

	// Regenerating the fresh assistant message works the same way.
	fx.client.script = deltas("again")
	ch, err = fx.relay.Regenerate(context.Background(), fx.userID, msgs[1].ID)
	if err != nil {
		t.Fatalf("second Regenerate: %v", err)
	}
	drain(t, ch)
	msgs = fx.messages(t)
	if len(msgs) != 2 || msgs[1].Content != "again" {
		t.Fatalf("after second regenerate: %+v", msgs)
	}
}

func TestRegenerateFailureKeepsTruncatedHistory(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.client.script = deltas("answer")
	fx.send(t, "q1")
	assistantID := fx.messages(t)[1].ID

	fx.client.script = []provider.StreamEvent{{Err: &provider.Error{
		Provider: "openai", Kind: provider.KindProviderError, Message: "overloaded",
	}}}
	ch, err := fx.relay.Regenerate(context.Background(), fx.userID, assistantID)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	events := drain(t, ch)
	if last := events[len(events)-1]; last.Err == nil {
		t.Fatalf("terminal = %+v, want error", last)
	}

	// The old assistant message stays gone.
	msgs := fx.messages(t)
	if len(msgs) != 1 || msgs[0].Content != "q1" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestRegenerateValidation(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.client.script = deltas("answer")
	fx.send(t, "q1")
	msgs := fx.messages(t)

	t.Run("user message", func(t *testing.T) {
		_, err := fx.relay.Regenerate(context.Background(), fx.userID, msgs[0].ID)
		if !errors.Is(err, ErrNotRegenerable) {
			t.Errorf("err = %v, want ErrNotRegenerable", err)
		}
	})
	t.Run("missing message", func(t *testing.T) {
		_, err := fx.relay.Regenerate(context.Background(), fx.userID, 99999)
		if !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("err = %v, want ErrMessageNotFound", err)
		}
	})
}

func TestOwnershipValidation(t *testing.T) {
	fx := newFixture(t, Options{})
	intruder, err := fx.store.CreateUser(context.Background(), "mallory@example.com", "x", store.ProviderOpenAI, "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("foreign session", func(t *testing.T) {
		_, err := fx.relay.NewMessage(context.Background(), intruder.ID, fx.sessionID, "sneaky")
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("err = %v, want ErrForbidden", err)
		}
	})
	t.Run("missing session", func(t *testing.T) {
		_, err := fx.relay.NewMessage(context.Background(), fx.userID, 99999, "void")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

// failingStore simulates durable-store failure for the final commit only.
type failingStore struct {
	store.Store
	failRole string
}

func (f *failingStore) AppendMessage(ctx context.Context, sessionID int64, role, content string) (*store.Message, error) {
	if role == f.failRole {
		return nil, errors.New("disk full")
	}
	return f.Store.AppendMessage(ctx, sessionID, role, content)
}

func TestCommitFailureSurfacesStorageError(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.client.script = deltas("generated text")

	broken := &failingStore{Store: fx.store, failRole: "assistant"}
	reg := provider.NewRegistry()
	reg.Register(store.ProviderOpenAI, func(apiKey string) (provider.Client, error) {
		return fx.client, nil
	})
	catalog, _ := provider.LoadCatalog()
	r := New(broken, reg, catalog, log.New(io.Discard, "", 0), Options{CommitRetries: 2})

	ch, err := r.NewMessage(context.Background(), fx.userID, fx.sessionID, "save this")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	events := drain(t, ch)
	last := events[len(events)-1]
	var se *StorageError
	if last.Err == nil || !errors.As(last.Err, &se) {
		t.Fatalf("terminal = %+v, want StorageError", last)
	}

	// The generated tokens streamed, but no assistant row was committed.
	msgs := fx.messages(t)
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
}
