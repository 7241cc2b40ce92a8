package session

import (
	"fmt"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	// DefaultTitle is the title of a conversation before its first user message.
	DefaultTitle = "新对话"

	titleLimit   = 30
	previewLimit = 50
)

// Message represents a single chat message.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation represents one persisted chat thread. Messages are in send
// order and are never reordered; UpdatedAt never decreases.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	Memo        string    `json:"memo"` // Compressed summary of older history
	LastMessage string    `json:"last_message"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Model       string    `json:"model"`
}

// New creates an empty draft conversation. Drafts are not persisted until
// their first message arrives.
func New(model string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        fmt.Sprintf("conv_%d", now.UnixNano()),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Model:     model,
	}
}

// Append adds a message and updates the derived fields.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.LastMessage = Truncate(msg.Content, previewLimit)
	if c.Title == DefaultTitle && msg.Role == RoleUser {
		c.Title = Truncate(msg.Content, titleLimit)
	}
	c.Touch()
}

// EditAndTruncate replaces the content of the message at index, discards
// every message after it, and refreshes the derived title and preview.
// Edit is delete-and-resend, never in-place history rewriting: the caller
// re-issues a completion request for the edited content afterwards.
func (c *Conversation) EditAndTruncate(index int, content string) {
	msg := &c.Messages[index]
	msg.Content = content
	msg.Timestamp = time.Now()
	c.Messages = c.Messages[:index+1]
	c.LastMessage = Truncate(content, previewLimit)
	if index == 0 || (index == 1 && c.Messages[0].Role == RoleSystem) {
		c.Title = Truncate(content, titleLimit)
	}
	c.Touch()
}

// Clone returns a deep copy whose Messages slice shares no backing array
// with the receiver. Readers outside the manager's lock get clones, never
// the live struct.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return &out
}

// Touch advances UpdatedAt, keeping it monotonically non-decreasing even if
// the wall clock steps backwards.
func (c *Conversation) Touch() {
	if now := time.Now(); now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// FirstUserMessage returns the first user-role message, if any.
func (c *Conversation) FirstUserMessage() (Message, bool) {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg, true
		}
	}
	return Message{}, false
}

// UserMessageCount counts user-role messages.
func (c *Conversation) UserMessageCount() int {
	n := 0
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			n++
		}
	}
	return n
}

// Truncate shortens s to at most limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
