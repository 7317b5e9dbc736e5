package conversation

import (
	"time"

	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
)

// DefaultTitle is the placeholder title of a new conversation.
const DefaultTitle = "New Conversation"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Metadata is attached to assistant messages.
type Metadata struct {
	IsStreaming bool                `json:"isStreaming,omitempty"`
	Event       *event.Form         `json:"event,omitempty"`
	Pet         *pet.Form           `json:"pet,omitempty"`
	AIResponse  *assistant.Response `json:"aiResponse,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// MessagePatch is a partial update of a message. Nil fields are left as is.
type MessagePatch struct {
	Content  *string   `json:"content,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Conversation is a titled, ordered list of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsPinned  bool      `json:"isPinned"`
	Tags      []string  `json:"tags"`
}

// Clone returns a deep enough copy that mutating the result never touches c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	for i := range out.Messages {
		if out.Messages[i].Metadata != nil {
			md := *out.Messages[i].Metadata
			out.Messages[i].Metadata = &md
		}
	}
	out.Tags = make([]string, len(c.Tags))
	copy(out.Tags, c.Tags)
	return out
}
