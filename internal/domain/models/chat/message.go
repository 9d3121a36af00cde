package chat

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FollowType describes how a turn relates to earlier messages.
type FollowType string

const (
	// FollowNormal is a plain user-typed turn.
	FollowNormal FollowType = "normal"
	// FollowRegenerate redoes a prior assistant answer as a sibling branch,
	// without creating a new user message.
	FollowRegenerate FollowType = "regenerate"
	// FollowUp treats a span of a prior assistant answer as the implicit
	// question of a new turn.
	FollowUp FollowType = "follow_up"
)

// FollowContext records how a message was produced. Stored as JSONB alongside
// the message so branches stay explainable after the fact.
type FollowContext struct {
	Type          FollowType     `json:"type"`
	FromMessageID *string        `json:"from_message_id,omitempty"`
	Start         *int           `json:"start,omitempty"`
	End           *int           `json:"end,omitempty"`
	Text          *string        `json:"text,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Source is a reference the generator consulted while producing an answer.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet *string `json:"snippet,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Message is one node of a conversation tree. ParentID, when set, references
// a message in the same thread; deleting a parent cascades to the subtree.
//
// An assistant message with nil Content and nil ErrorMessage is a placeholder:
// its generation job is still active. A terminal assistant message has exactly
// one of Content/ErrorMessage set.
type Message struct {
	ID            string         `json:"id"`
	ThreadID      string         `json:"thread_id"`
	Role          Role           `json:"role"`
	ParentID      *string        `json:"parent_id,omitempty"`
	Content       *string        `json:"content,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Sources       []Source       `json:"sources,omitempty"`
	FollowContext *FollowContext `json:"follow_context,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Placeholder reports whether the message is still awaiting its terminal
// write from the owning streaming session.
func (m *Message) Placeholder() bool {
	return m.Role == RoleAssistant && m.Content == nil && m.ErrorMessage == nil
}
