package chat

import "strings"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn of a canonical conversation in the role/content schema
// shared by every provider adapter.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const defaultSystemPrompt = "You are a helpful AI assistant."

// SystemPrompt builds the system turn for a generation. When the session has
// uploaded spreadsheets, the file context is appended together with
// instructions that keep the model describing the data instead of emitting
// charting code, since the server renders charts itself.
func SystemPrompt(fileContext string) string {
	if strings.TrimSpace(fileContext) == "" {
		return defaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(defaultSystemPrompt)
	b.WriteString("\n\nYou have access to the following data from uploaded files:\n")
	b.WriteString(fileContext)
	b.WriteString("\n\nWhen asked about charts or visualizations, analyze the data and describe")
	b.WriteString(" what the visualization shows. Do not provide code or instructions for")
	b.WriteString(" creating charts; the application generates the chart itself.")
	return b.String()
}

// BuildConversation assembles the canonical request conversation: one system
// turn followed by the prior history oldest-first.
func BuildConversation(history []Message, fileContext string) []Message {
	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: RoleSystem, Content: SystemPrompt(fileContext)})
	out = append(out, history...)
	return out
}
