// Package sqlite implements store.Store backed by SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

// Store implements store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite store at the supplied path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT 'openai',
	openai_key TEXT NOT NULL DEFAULT '',
	openai_model TEXT NOT NULL DEFAULT '',
	anthropic_key TEXT NOT NULL DEFAULT '',
	anthropic_model TEXT NOT NULL DEFAULT '',
	openrouter_key TEXT NOT NULL DEFAULT '',
	openrouter_model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	edited INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS visualizations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	chart_type TEXT NOT NULL,
	config TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS uploaded_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	stored_name TEXT NOT NULL,
	original_name TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_visualizations_message ON visualizations(message_id);
CREATE INDEX IF NOT EXISTS idx_files_session ON uploaded_files(session_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = `id, email, password_hash, provider, openai_key, openai_model,
	anthropic_key, anthropic_model, openrouter_key, openrouter_model, created_at`

func scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Provider,
		&u.OpenAIKey, &u.OpenAIModel, &u.AnthropicKey, &u.AnthropicModel,
		&u.OpenRouterKey, &u.OpenRouterModel, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts an account with the given active provider and its
// default model preselected.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, provider, defaultModel string) (*store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	modelCol := "openai_model"
	switch provider {
	case store.ProviderAnthropic:
		modelCol = "anthropic_model"
	case store.ProviderOpenRouter:
		modelCol = "openrouter_model"
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO users(email, password_hash, provider, %s) VALUES(?, ?, ?, ?)`, modelCol),
		email, passwordHash, provider, defaultModel)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, store.ErrDuplicateEmail
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.UserByID(ctx, id)
}

// UserByEmail returns the user matching the email, if present.
func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? LIMIT 1`, email)
	return scanUser(row)
}

// UserByID returns the user with the given id, if present.
func (s *Store) UserByID(ctx context.Context, id int64) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	return scanUser(row)
}

// UpdateUser persists provider configuration and password changes.
func (s *Store) UpdateUser(ctx context.Context, u *store.User) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET
		password_hash = ?, provider = ?,
		openai_key = ?, openai_model = ?,
		anthropic_key = ?, anthropic_model = ?,
		openrouter_key = ?, openrouter_model = ?
		WHERE id = ?`,
		u.PasswordHash, u.Provider,
		u.OpenAIKey, u.OpenAIModel,
		u.AnthropicKey, u.AnthropicModel,
		u.OpenRouterKey, u.OpenRouterModel,
		u.ID)
	return err
}

// CreateSession inserts a session owned by userID.
func (s *Store) CreateSession(ctx context.Context, userID int64, name string) (*store.Session, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sessions(user_id, name) VALUES(?, ?)`, userID, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.SessionByID(ctx, id)
}

// SessionByID returns the session with the given id, if present.
func (s *Store) SessionByID(ctx context.Context, id int64) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM sessions WHERE id = ? LIMIT 1`, id)
	var sess store.Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// SessionsByUser lists the user's sessions newest-activity-first with
// message counts.
func (s *Store) SessionsByUser(ctx context.Context, userID int64) ([]store.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.name, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s WHERE s.user_id = ?
		ORDER BY s.updated_at DESC, s.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SessionSummary
	for rows.Next() {
		var sum store.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Name, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RenameSession updates the display name.
func (s *Store) RenameSession(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, name, id)
	return err
}

// TouchSession bumps updated_at after new activity.
func (s *Store) TouchSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// DeleteSession removes the session; messages, visualizations and file rows
// go with it through the cascading foreign keys.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// AppendMessage inserts a message at the tail of the session log.
func (s *Store) AppendMessage(ctx context.Context, sessionID int64, role, content string) (*store.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(session_id, role, content) VALUES(?, ?, ?)`, sessionID, role, content)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.MessageByID(ctx, id)
}

// MessageByID returns the message with the given id, if present.
func (s *Store) MessageByID(ctx context.Context, id int64) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, role, content, edited, created_at FROM messages WHERE id = ? LIMIT 1`, id)
	var m store.Message
	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Edited, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// MessagesBySession returns the ordered log, oldest first. Insertion ids are
// monotonic, which makes them the ordering key.
func (s *Store) MessagesBySession(ctx context.Context, sessionID int64) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, edited, created_at FROM messages
		 WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Edited, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageContent replaces content and marks the message edited.
func (s *Store) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1 WHERE id = ?`, content, id)
	return err
}

// TruncateFrom deletes the target message and everything after it in the
// session. Running it again after the tail is gone is a no-op.
func (s *Store) TruncateFrom(ctx context.Context, sessionID, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND id >= ?`, sessionID, messageID)
	return err
}

// AddVisualization attaches a derived chart to an assistant message.
func (s *Store) AddVisualization(ctx context.Context, messageID int64, chartType string, config json.RawMessage) (*store.Visualization, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO visualizations(message_id, chart_type, config) VALUES(?, ?, ?)`,
		messageID, chartType, string(config))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, chart_type, config, created_at FROM visualizations WHERE id = ?`, id)
	return scanVisualization(row)
}

func scanVisualization(row *sql.Row) (*store.Visualization, error) {
	var v store.Visualization
	var config string
	if err := row.Scan(&v.ID, &v.MessageID, &v.ChartType, &config, &v.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	v.Config = json.RawMessage(config)
	return &v, nil
}

// VisualizationsByMessage lists charts attached to a message.
func (s *Store) VisualizationsByMessage(ctx context.Context, messageID int64) ([]store.Visualization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, chart_type, config, created_at FROM visualizations
		 WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Visualization
	for rows.Next() {
		var v store.Visualization
		var config string
		if err := rows.Scan(&v.ID, &v.MessageID, &v.ChartType, &config, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Config = json.RawMessage(config)
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddFile records an uploaded spreadsheet.
func (s *Store) AddFile(ctx context.Context, f *store.UploadedFile) (*store.UploadedFile, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO uploaded_files(session_id, stored_name, original_name, path, size, mime_type)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		f.SessionID, f.StoredName, f.OriginalName, f.Path, f.Size, f.MimeType)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.FileByID(ctx, id)
}

// FileByID returns the file row with the given id, if present.
func (s *Store) FileByID(ctx context.Context, id int64) (*store.UploadedFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, stored_name, original_name, path, size, mime_type, uploaded_at
		 FROM uploaded_files WHERE id = ? LIMIT 1`, id)
	var f store.UploadedFile
	if err := row.Scan(&f.ID, &f.SessionID, &f.StoredName, &f.OriginalName, &f.Path, &f.Size, &f.MimeType, &f.UploadedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// FilesBySession lists files uploaded to a session, oldest first.
func (s *Store) FilesBySession(ctx context.Context, sessionID int64) ([]store.UploadedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, stored_name, original_name, path, size, mime_type, uploaded_at
		 FROM uploaded_files WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.UploadedFile
	for rows.Next() {
		var f store.UploadedFile
		if err := rows.Scan(&f.ID, &f.SessionID, &f.StoredName, &f.OriginalName, &f.Path, &f.Size, &f.MimeType, &f.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFile removes a file row.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id = ?`, id)
	return err
}
