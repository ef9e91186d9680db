package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store) *store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "user@example.com", "hash", store.ProviderOpenAI, "gpt-4o")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedSession(t *testing.T, s *Store, userID int64) *store.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), userID, "chat")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateUserNormalizesAndRejectsDuplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "  Mixed@Example.COM ", "hash", store.ProviderAnthropic, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Email != "mixed@example.com" {
		t.Errorf("email = %q", u.Email)
	}
	if u.Provider != store.ProviderAnthropic || u.AnthropicModel != "claude-sonnet-4-20250514" {
		t.Errorf("provider fields = %q/%q", u.Provider, u.AnthropicModel)
	}

	_, err = s.CreateUser(ctx, "mixed@example.com", "other", store.ProviderOpenAI, "gpt-4o")
	if !errors.Is(err, store.ErrDuplicateEmail) {
		t.Errorf("duplicate err = %v", err)
	}

	found, err := s.UserByEmail(ctx, "MIXED@example.com")
	if err != nil || found == nil || found.ID != u.ID {
		t.Errorf("UserByEmail = %+v, %v", found, err)
	}
}

func TestUserLookupMissingReturnsNil(t *testing.T) {
	s := newStore(t)
	u, err := s.UserByID(context.Background(), 42)
	if err != nil || u != nil {
		t.Errorf("UserByID = %+v, %v; want nil, nil", u, err)
	}
}

func TestUpdateUserRoundTripsCredentials(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	u.Provider = store.ProviderOpenRouter
	u.OpenRouterKey = "sk-or-secret"
	u.OpenRouterModel = "anthropic/claude-sonnet-4"
	u.OpenAIKey = "sk-openai"
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	key, model := got.ActiveCredential()
	if key != "sk-or-secret" || model != "anthropic/claude-sonnet-4" {
		t.Errorf("active credential = %q/%q", key, model)
	}
	if got.OpenAIKey != "sk-openai" {
		t.Errorf("inactive key lost: %q", got.OpenAIKey)
	}
}

func TestMessagesAppendInOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)

	turns := []struct{ role, content string }{
		{"user", "Hi"},
		{"assistant", "Hello!"},
		{"user", "What's 2+2?"},
		{"assistant", "4."},
	}
	for _, turn := range turns {
		if _, err := s.AppendMessage(ctx, sess.ID, turn.role, turn.content); err != nil {
			t.Fatalf("append %q: %v", turn.content, err)
		}
	}

	msgs, err := s.MessagesBySession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(turns) {
		t.Fatalf("len = %d", len(msgs))
	}
	for i, turn := range turns {
		if msgs[i].Role != turn.role || msgs[i].Content != turn.content {
			t.Errorf("msgs[%d] = %s %q", i, msgs[i].Role, msgs[i].Content)
		}
	}
}

func TestTruncateFromDropsTailAndIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)

	var ids []int64
	for _, content := range []string{"a", "b", "c", "d"} {
		m, err := s.AppendMessage(ctx, sess.ID, "user", content)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}

	if err := s.TruncateFrom(ctx, sess.ID, ids[2]); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	msgs, _ := s.MessagesBySession(ctx, sess.ID)
	if len(msgs) != 2 || msgs[1].Content != "b" {
		t.Fatalf("after truncate: %+v", msgs)
	}

	// A second truncation at the same point is a no-op.
	if err := s.TruncateFrom(ctx, sess.ID, ids[2]); err != nil {
		t.Fatalf("repeat truncate: %v", err)
	}
	msgs, _ = s.MessagesBySession(ctx, sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("after repeat truncate: %+v", msgs)
	}
}

func TestUpdateMessageContentMarksEdited(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)
	m, err := s.AppendMessage(ctx, sess.ID, "user", "typo'd qestion")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateMessageContent(ctx, m.ID, "typo'd question"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.MessageByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "typo'd question" || !got.Edited {
		t.Errorf("message = %+v", got)
	}
}

func TestSessionSummariesCountAndOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	first := seedSession(t, s, u.ID)
	second := seedSession(t, s, u.ID)
	for i := 0; i < 3; i++ {
		if _, err := s.AppendMessage(ctx, first.ID, "user", "m"); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := s.SessionsByUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len = %d", len(summaries))
	}
	// Equal activity timestamps fall back to newest session first.
	if summaries[0].ID != second.ID || summaries[0].MessageCount != 0 {
		t.Errorf("summaries[0] = %+v", summaries[0])
	}
	if summaries[1].ID != first.ID || summaries[1].MessageCount != 3 {
		t.Errorf("summaries[1] = %+v", summaries[1])
	}
}

func TestRenameSession(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)

	if err := s.RenameSession(ctx, sess.ID, "budget questions"); err != nil {
		t.Fatal(err)
	}
	got, err := s.SessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "budget questions" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)

	m, err := s.AppendMessage(ctx, sess.ID, "assistant", "see chart")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddVisualization(ctx, m.ID, "bar", json.RawMessage(`{"title":"Sales"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddFile(ctx, &store.UploadedFile{
		SessionID:    sess.ID,
		StoredName:   "abc.xlsx",
		OriginalName: "sales.xlsx",
		Path:         "/tmp/abc.xlsx",
		Size:         128,
		MimeType:     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got, _ := s.SessionByID(ctx, sess.ID); got != nil {
		t.Errorf("session survived: %+v", got)
	}
	if msgs, _ := s.MessagesBySession(ctx, sess.ID); len(msgs) != 0 {
		t.Errorf("messages survived: %+v", msgs)
	}
	if viz, _ := s.VisualizationsByMessage(ctx, m.ID); len(viz) != 0 {
		t.Errorf("visualizations survived: %+v", viz)
	}
	if files, _ := s.FilesBySession(ctx, sess.ID); len(files) != 0 {
		t.Errorf("files survived: %+v", files)
	}
}

func TestVisualizationRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)
	m, err := s.AppendMessage(ctx, sess.ID, "assistant", "here you go")
	if err != nil {
		t.Fatal(err)
	}

	cfg := json.RawMessage(`{"title":"Sales by Region","data":[{"name":"North","value":10}]}`)
	v, err := s.AddVisualization(ctx, m.ID, "pie", cfg)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if v.ChartType != "pie" {
		t.Errorf("chart type = %q", v.ChartType)
	}

	got, err := s.VisualizationsByMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || string(got[0].Config) != string(cfg) {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestFileRoundTripAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, seedUser(t, s).ID)

	f, err := s.AddFile(ctx, &store.UploadedFile{
		SessionID:    sess.ID,
		StoredName:   "1f0e.csv",
		OriginalName: "data.csv",
		Path:         "/uploads/1f0e.csv",
		Size:         64,
		MimeType:     "text/csv",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.FileByID(ctx, f.ID)
	if err != nil || got == nil || got.OriginalName != "data.csv" {
		t.Fatalf("FileByID = %+v, %v", got, err)
	}

	if err := s.DeleteFile(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.FileByID(ctx, f.ID); got != nil {
		t.Errorf("file survived: %+v", got)
	}
}
