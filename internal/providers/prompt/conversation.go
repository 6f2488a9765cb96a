package prompt

import "strings"

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Retention selects how a Refiner treats its conversation context.
type Retention string

const (
	// RetainConversation accumulates every refine/shrink exchange.
	RetainConversation Retention = "conversation"
	// FreshPerCall sends each request with only the system prompt and
	// explicit style metadata, leaving the context untouched.
	FreshPerCall Retention = "fresh"
)

// ParseRetention maps a config value to a Retention, defaulting to
// RetainConversation.
func ParseRetention(v string) Retention {
	if strings.EqualFold(strings.TrimSpace(v), string(FreshPerCall)) {
		return FreshPerCall
	}
	return RetainConversation
}

// Conversation is an ordered message log seeded with a system prompt.
// It is not safe for concurrent use; Refiner guards it.
type Conversation struct {
	messages []Message
}

func NewConversation(system string) *Conversation {
	c := &Conversation{}
	if system != "" {
		c.messages = append(c.messages, Message{Role: RoleSystem, Content: system})
	}
	return c
}

// With returns the current messages followed by extra, without mutating c.
func (c *Conversation) With(extra ...Message) []Message {
	out := make([]Message, 0, len(c.messages)+len(extra))
	out = append(out, c.messages...)
	return append(out, extra...)
}

// Commit appends a completed user/assistant exchange.
func (c *Conversation) Commit(user, assistant Message) {
	c.messages = append(c.messages, user, assistant)
}

func (c *Conversation) Len() int { return len(c.messages) }

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
