package message

import "strings"

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single prompt turn sent to a language model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{Role: role, Content: content}
}

// System is shorthand for a system message.
func System(content string) *Message { return NewMessage(RoleSystem, content) }

// User is shorthand for a user message.
func User(content string) *Message { return NewMessage(RoleUser, content) }

// Text returns the trimmed content, tolerating nil messages.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m.Content)
}

// Split separates system instructions from the conversation turns.
// Multiple system messages are joined with a newline.
func Split(msgs []*Message) (system string, turns []*Message) {
	var parts []string
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(parts, "\n"), turns
}
