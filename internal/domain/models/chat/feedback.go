package chat

import "time"

// FeedbackReaction is a thumbs-up/down on an assistant message.
type FeedbackReaction string

const (
	ReactionLike    FeedbackReaction = "like"
	ReactionDislike FeedbackReaction = "dislike"
)

// MessageFeedback holds at most one reaction per message. A second submission
// for the same message replaces the first.
type MessageFeedback struct {
	ID           string           `json:"id"`
	ThreadID     string           `json:"thread_id"`
	MessageID    string           `json:"message_id"`
	Reaction     FeedbackReaction `json:"reaction"`
	FeedbackText *string          `json:"feedback_text,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
