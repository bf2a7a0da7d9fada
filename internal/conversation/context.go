package conversation

import "github.com/mhire/triage-assistant/internal/session"

// DefaultContextWindow is how many recent turns are scanned for context.
const DefaultContextWindow = 10

// ContextBuilder assembles the message list sent to the LLM.
type ContextBuilder struct {
	window int
}

func NewContextBuilder(window int) *ContextBuilder {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &ContextBuilder{window: window}
}

// Build returns the system prompt for org, then the user turns found among
// the last window turns of history, then current. Assistant turns are left
// out on purpose so the model does not anchor on its own earlier replies.
// history must not already contain current.
func (b *ContextBuilder) Build(org OrgType, history []session.Turn, current string) []ChatMessage {
	recent := history
	if len(recent) > b.window {
		recent = recent[len(recent)-b.window:]
	}

	messages := make([]ChatMessage, 0, len(recent)+2)
	messages = append(messages, ChatMessage{Role: ChatRoleSystem, Content: SystemPrompt(org)})
	for _, turn := range recent {
		if turn.Role != session.RoleUser {
			continue
		}
		messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: turn.Text})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: current})
	return messages
}
