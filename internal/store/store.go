// Package store defines the durable data model: users with their provider
// configuration, chat sessions, the ordered message log, visualizations and
// uploaded files. SQLite and Postgres implementations live in subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Provider identities users can select.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// KnownProvider reports whether name is a selectable provider identity.
func KnownProvider(name string) bool {
	switch name {
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter:
		return true
	}
	return false
}

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("store: email already registered")

// User is an account with per-provider credentials. Exactly one provider is
// active at a time; credentials for inactive providers stay stored so the
// user can switch without re-entering them.
type User struct {
	ID           int64
	Email        string
	PasswordHash string

	Provider        string // active provider
	OpenAIKey       string
	OpenAIModel     string
	AnthropicKey    string
	AnthropicModel  string
	OpenRouterKey   string
	OpenRouterModel string

	CreatedAt time.Time
}

// ActiveCredential returns the credential and model for the active provider.
func (u *User) ActiveCredential() (apiKey, model string) {
	switch u.Provider {
	case ProviderAnthropic:
		return u.AnthropicKey, u.AnthropicModel
	case ProviderOpenRouter:
		return u.OpenRouterKey, u.OpenRouterModel
	default:
		return u.OpenAIKey, u.OpenAIModel
	}
}

// HasCredential reports whether the active provider has a usable credential.
func (u *User) HasCredential() bool {
	key, _ := u.ActiveCredential()
	return strings.TrimSpace(key) != ""
}

// Session is one persisted conversation thread owned by a single user.
type Session struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionSummary is a session plus its message count, for listings.
type SessionSummary struct {
	Session
	MessageCount int
}

// Message is one turn of a session. Order within a session is append-only
// except for TruncateFrom, which drops a tail during regeneration.
type Message struct {
	ID        int64
	SessionID int64
	Role      string // user | assistant | system
	Content   string
	Edited    bool
	CreatedAt time.Time
}

// Visualization is a derived chart attached to an assistant message.
type Visualization struct {
	ID        int64
	MessageID int64
	ChartType string // pie | bar | line | scatter
	Config    json.RawMessage
	CreatedAt time.Time
}

// UploadedFile is a stored spreadsheet attached to a session.
type UploadedFile struct {
	ID           int64
	SessionID    int64
	StoredName   string
	OriginalName string
	Path         string
	Size         int64
	MimeType     string
	UploadedAt   time.Time
}

// Store persists the chat data model. Lookups return (nil, nil) when the row
// does not exist; only infrastructure failures surface as errors.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, email, passwordHash, provider, defaultModel string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	// Sessions.
	CreateSession(ctx context.Context, userID int64, name string) (*Session, error)
	SessionByID(ctx context.Context, id int64) (*Session, error)
	SessionsByUser(ctx context.Context, userID int64) ([]SessionSummary, error)
	RenameSession(ctx context.Context, id int64, name string) error
	TouchSession(ctx context.Context, id int64) error
	// DeleteSession cascades to messages, visualizations and file rows.
	DeleteSession(ctx context.Context, id int64) error

	// Messages.
	AppendMessage(ctx context.Context, sessionID int64, role, content string) (*Message, error)
	MessageByID(ctx context.Context, id int64) (*Message, error)
	// MessagesBySession returns the full ordered log, oldest first.
	MessagesBySession(ctx context.Context, sessionID int64) ([]Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string) error
	// TruncateFrom removes the target message and everything after it.
	// Idempotent: truncating an already-removed tail is a no-op.
	TruncateFrom(ctx context.Context, sessionID, messageID int64) error

	// Visualizations.
	AddVisualization(ctx context.Context, messageID int64, chartType string, config json.RawMessage) (*Visualization, error)
	VisualizationsByMessage(ctx context.Context, messageID int64) ([]Visualization, error)

	// Uploaded files.
	AddFile(ctx context.Context, f *UploadedFile) (*UploadedFile, error)
	FileByID(ctx context.Context, id int64) (*UploadedFile, error)
	FilesBySession(ctx context.Context, sessionID int64) ([]UploadedFile, error)
	DeleteFile(ctx context.Context, id int64) error

	Close() error
}
