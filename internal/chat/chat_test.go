package chat

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	if got := SystemPrompt(""); got != defaultSystemPrompt {
		t.Errorf("bare prompt = %q", got)
	}
	if got := SystemPrompt("   "); got != defaultSystemPrompt {
		t.Errorf("whitespace context prompt = %q", got)
	}

	got := SystemPrompt("File: sales.csv\nColumns: region, sales")
	if !strings.HasPrefix(got, defaultSystemPrompt) {
		t.Errorf("prompt does not open with the base instruction: %q", got)
	}
	if !strings.Contains(got, "File: sales.csv") {
		t.Errorf("prompt missing file context: %q", got)
	}
	if !strings.Contains(got, "Do not provide code") {
		t.Errorf("prompt missing charting instruction: %q", got)
	}
}

func TestBuildConversation(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello!"},
		{Role: RoleUser, Content: "What's 2+2?"},
	}
	conv := BuildConversation(history, "")
	if len(conv) != 4 {
		t.Fatalf("len = %d", len(conv))
	}
	if conv[0].Role != RoleSystem {
		t.Errorf("conv[0] = %+v", conv[0])
	}
	for i, m := range history {
		if conv[i+1] != m {
			t.Errorf("conv[%d] = %+v, want %+v", i+1, conv[i+1], m)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.Valid() {
			t.Errorf("%s reported invalid", r)
		}
	}
	if Role("moderator").Valid() {
		t.Error("unknown role reported valid")
	}
}
