// Package relay owns the lifecycle of one generation request: admit it
// against the per-session single-flight rule, append the user turn, stream
// provider tokens to the caller, and commit the assembled assistant message
// exactly once.
package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/chat"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

const (
	defaultProgressTimeout = 90 * time.Second
	defaultCommitRetries   = 3
)

// Event is one element of the outbound stream. Content events append text;
// exactly one terminal event (Done or Err) ends the sequence and the channel
// is closed after it.
type Event struct {
	Content string
	Done    bool
	Err     error
}

// ContextSource supplies textual context derived from a session's uploaded
// files, injected into the system prompt.
type ContextSource interface {
	FileContext(ctx context.Context, sessionID int64) (string, error)
}

// Annotator runs after an assistant message is committed, attaching derived
// artifacts such as chart visualizations. Failures are logged, never
// surfaced to the stream.
type Annotator interface {
	Annotate(ctx context.Context, sessionID int64, userText string, assistant *store.Message) error
}

// Options tune a Relay. Zero values pick the defaults.
type Options struct {
	// ProgressTimeout bounds the wait for the next stream event. A silent
	// provider is terminated as a transient network failure.
	ProgressTimeout time.Duration
	// CommitRetries bounds storage retries for the final assistant write.
	CommitRetries int
	// Files, when set, contributes uploaded-file context to the prompt.
	Files ContextSource
	// Annotator, when set, post-processes committed assistant messages.
	Annotator Annotator
}

// Relay orchestrates generations. Safe for concurrent use; concurrency
// within one session is refused with ErrGenerationActive.
type Relay struct {
	store    store.Store
	registry *provider.Registry
	catalog  *provider.Catalog
	log      *log.Logger

	progressTimeout time.Duration
	commitRetries   int
	files           ContextSource
	annotator       Annotator

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New builds a Relay over the given store and provider registry.
func New(st store.Store, reg *provider.Registry, cat *provider.Catalog, logger *log.Logger, opts Options) *Relay {
	if opts.ProgressTimeout <= 0 {
		opts.ProgressTimeout = defaultProgressTimeout
	}
	if opts.CommitRetries <= 0 {
		opts.CommitRetries = defaultCommitRetries
	}
	return &Relay{
		store:           st,
		registry:        reg,
		catalog:         cat,
		log:             logger,
		progressTimeout: opts.ProgressTimeout,
		commitRetries:   opts.CommitRetries,
		files:           opts.Files,
		annotator:       opts.Annotator,
	}
}

// acquire admits a generation for the session or fails with
// ErrGenerationActive.
func (r *Relay) acquire(sessionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[sessionID]; busy {
		return ErrGenerationActive
	}
	if r.inflight == nil {
		r.inflight = make(map[int64]struct{})
	}
	r.inflight[sessionID] = struct{}{}
	return nil
}

func (r *Relay) release(sessionID int64) {
	r.mu.Lock()
	delete(r.inflight, sessionID)
	r.mu.Unlock()
}

// ownedSession loads the session and checks ownership.
func (r *Relay) ownedSession(ctx context.Context, userID, sessionID int64) (*store.Session, error) {
	sess, err := r.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, &StorageError{Op: "load session", Err: err}
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// NewMessage appends userText as a user turn and streams the assistant
// reply. Validation failures return a nil channel and an error; the user
// message, once appended, survives any later failure. The returned channel
// delivers content events followed by exactly one terminal event.
func (r *Relay) NewMessage(ctx context.Context, userID, sessionID int64, userText string) (<-chan Event, error) {
	if _, err := r.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if err := r.acquire(sessionID); err != nil {
		return nil, err
	}

	// User input is committed before the provider is consulted so a
	// failed generation never loses it.
	if _, err := r.store.AppendMessage(ctx, sessionID, string(chat.RoleUser), userText); err != nil {
		r.release(sessionID)
		return nil, &StorageError{Op: "append user message", Err: err}
	}
	if err := r.store.TouchSession(ctx, sessionID); err != nil {
		r.log.Printf("[WARN] touch session %d: %v", sessionID, err)
	}

	gen, err := r.prepare(ctx, userID, sessionID)
	if err != nil {
		r.release(sessionID)
		return nil, err
	}
	gen.userText = userText

	return r.start(ctx, gen), nil
}

// Regenerate discards the target assistant message and everything after it,
// then streams a fresh reply against the truncated history. The truncation
// is destructive and is not undone when the new generation fails.
func (r *Relay) Regenerate(ctx context.Context, userID, messageID int64) (<-chan Event, error) {
	msg, err := r.store.MessageByID(ctx, messageID)
	if err != nil {
		return nil, &StorageError{Op: "load message", Err: err}
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if _, err := r.ownedSession(ctx, userID, msg.SessionID); err != nil {
		return nil, err
	}
	if msg.Role != string(chat.RoleAssistant) {
		return nil, ErrNotRegenerable
	}
	if err := r.acquire(msg.SessionID); err != nil {
		return nil, err
	}

	if err := r.store.TruncateFrom(ctx, msg.SessionID, msg.ID); err != nil {
		r.release(msg.SessionID)
		return nil, &StorageError{Op: "truncate history", Err: err}
	}

	gen, err := r.prepare(ctx, userID, msg.SessionID)
	if err != nil {
		r.release(msg.SessionID)
		return nil, err
	}
	// The newest surviving user turn drives annotation.
	for i := len(gen.history) - 1; i >= 0; i-- {
		if gen.history[i].Role == chat.RoleUser {
			gen.userText = gen.history[i].Content
			break
		}
	}

	return r.start(ctx, gen), nil
}

// generation is the resolved state of one admitted request: the credential
// snapshot taken at admission and the conversation to send. Settings changed
// by the user mid-stream do not affect it.
type generation struct {
	sessionID int64
	userText  string
	client    provider.Client
	model     string
	history   []chat.Message
	messages  []chat.Message
}

// prepare reads the ordered history and resolves the caller's provider
// credential. The caller holds the session slot; prepare does not release it.
func (r *Relay) prepare(ctx context.Context, userID, sessionID int64) (*generation, error) {
	user, err := r.store.UserByID(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "load user", Err: err}
	}
	if user == nil || !user.HasCredential() {
		return nil, ErrNoCredential
	}
	apiKey, model := user.ActiveCredential()
	if model == "" {
		model = r.catalog.DefaultModel(user.Provider)
	}
	client, err := r.registry.New(user.Provider, apiKey)
	if err != nil {
		return nil, err
	}

	stored, err := r.store.MessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, &StorageError{Op: "read history", Err: err}
	}
	history := make([]chat.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, chat.Message{Role: chat.Role(m.Role), Content: m.Content})
	}

	fileContext := ""
	if r.files != nil {
		fileContext, err = r.files.FileContext(ctx, sessionID)
		if err != nil {
			r.log.Printf("[WARN] file context for session %d: %v", sessionID, err)
			fileContext = ""
		}
	}

	return &generation{
		sessionID: sessionID,
		client:    client,
		model:     model,
		history:   history,
		messages:  chat.BuildConversation(history, fileContext),
	}, nil
}

// start launches the generation task and returns its outbound stream. The
// session slot is released when the task ends.
func (r *Relay) start(ctx context.Context, gen *generation) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer r.release(gen.sessionID)
		r.run(ctx, gen, out)
	}()
	return out
}

// run drives one provider stream to its terminal event. It owns the token
// accumulator exclusively; the outbound channel only ever sees fragments
// already appended to it.
func (r *Relay) run(ctx context.Context, gen *generation, out chan<- Event) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := gen.client.StreamCompletion(ctx, provider.Request{
		Model:    gen.model,
		Messages: gen.messages,
	})
	if err != nil {
		out <- Event{Err: provider.AsError(gen.client.Name(), err)}
		return
	}

	var buf []byte
	timer := time.NewTimer(r.progressTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client gone or stop requested. The cancel propagates to
			// the adapter; nothing is persisted.
			return
		case <-timer.C:
			cancel()
			out <- Event{Err: &provider.Error{
				Provider: gen.client.Name(),
				Kind:     provider.KindTransientNetwork,
				Message:  "no response from provider, generation timed out",
			}}
			return
		case ev, ok := <-events:
			if !ok {
				// Closed without a terminal element. Adapters are not
				// supposed to do this; treat it as an interrupted stream.
				out <- Event{Err: &provider.Error{
					Provider: gen.client.Name(),
					Kind:     provider.KindTransientNetwork,
					Message:  "stream closed without completion",
				}}
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(r.progressTimeout)

			switch {
			case ev.Err != nil:
				out <- Event{Err: ev.Err}
				return
			case ev.Done:
				r.finish(ctx, gen, string(buf), out)
				return
			default:
				buf = append(buf, ev.Delta...)
				select {
				case out <- Event{Content: ev.Delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// finish commits the assembled assistant message and emits the terminal
// event. The commit is retried a bounded number of times; if storage still
// fails the generated text is sacrificed and the client sees an error.
func (r *Relay) finish(ctx context.Context, gen *generation, content string, out chan<- Event) {
	var (
		msg *store.Message
		err error
	)
	for attempt := 1; attempt <= r.commitRetries; attempt++ {
		msg, err = r.store.AppendMessage(ctx, gen.sessionID, string(chat.RoleAssistant), content)
		if err == nil {
			break
		}
		r.log.Printf("[WARN] commit assistant message (attempt %d/%d): %v", attempt, r.commitRetries, err)
		if attempt < r.commitRetries {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
	if err != nil {
		out <- Event{Err: &StorageError{Op: "commit assistant message", Err: err}}
		return
	}

	if err := r.store.TouchSession(ctx, gen.sessionID); err != nil {
		r.log.Printf("[WARN] touch session %d: %v", gen.sessionID, err)
	}
	if r.annotator != nil {
		if err := r.annotator.Annotate(ctx, gen.sessionID, gen.userText, msg); err != nil {
			r.log.Printf("[WARN] annotate message %d: %v", msg.ID, err)
		}
	}
	out <- Event{Done: true}
}
