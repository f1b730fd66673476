package model

import "github.com/cloudwego/eino/schema"

// Role identifies the author of a stored message. Only final user/assistant
// exchanges are persisted; tool negotiation stays in the in-flight turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one exchange unit in a session's history window. Immutable once
// stored.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToSchema converts a stored message into the provider conversation format.
func (m Message) ToSchema() *schema.Message {
	if m.Role == RoleAssistant {
		return schema.AssistantMessage(m.Content, nil)
	}
	return schema.UserMessage(m.Content)
}

// ToSchemaMessages converts a loaded history window into provider messages,
// preserving order.
func ToSchemaMessages(history []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		out = append(out, m.ToSchema())
	}
	return out
}

// RetrievedPassage is one retrieval hit. Ephemeral: produced per request,
// injected into the prompt, never persisted.
type RetrievedPassage struct {
	Text     string
	SourceID string
}
