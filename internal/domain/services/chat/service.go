// Package chat defines the service contracts between HTTP handlers and the
// conversation/streaming services.
package chat

import (
	"context"

	"meander/internal/domain/models/chat"
)

// CreateThreadRequest creates a thread; the title derives from Query.
type CreateThreadRequest struct {
	Query string `json:"query"`
}

// UpdateThreadRequest renames a thread.
type UpdateThreadRequest struct {
	Query string `json:"query"`
}

// ThreadPage is one page of threads plus the total count for pagination.
type ThreadPage struct {
	Total   int           `json:"total"`
	Threads []chat.Thread `json:"threads"`
}

// MessagePage is one chronological page of messages plus the total count.
type MessagePage struct {
	Total    int            `json:"total"`
	Messages []chat.Message `json:"messages"`
}

// FeedbackRequest records a reaction on an assistant message.
type FeedbackRequest struct {
	Reaction     chat.FeedbackReaction `json:"reaction"`
	FeedbackText *string               `json:"feedback_text,omitempty"`
}

// ChatService manages threads, messages and feedback.
type ChatService interface {
	CreateThread(ctx context.Context, req *CreateThreadRequest) (*chat.Thread, error)
	GetThread(ctx context.Context, threadID string) (*chat.Thread, error)
	ListThreads(ctx context.Context, page, pageSize int) (*ThreadPage, error)
	UpdateThreadTitle(ctx context.Context, threadID string, req *UpdateThreadRequest) (*chat.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	ListMessages(ctx context.Context, threadID string, page, pageSize int) (*MessagePage, error)
	GetMessage(ctx context.Context, threadID, messageID string) (*chat.Message, error)
	PutFeedback(ctx context.Context, threadID, messageID string, req *FeedbackRequest) (*chat.MessageFeedback, error)
	DeleteFeedback(ctx context.Context, threadID, messageID string) error
}

// StartTurnRequest starts one streaming generation turn.
type StartTurnRequest struct {
	ThreadID        string             `json:"-"`
	Query           string             `json:"query"`
	ParentMessageID *string            `json:"parent_message_id,omitempty"`
	Context         chat.FollowContext `json:"context"`
}

// Turn is a started turn: its id envelope and the ordered event stream. The
// Events channel closes after the terminal event.
type Turn struct {
	TrackID            string
	ThreadID           string
	UserMessageID      string
	AssistantMessageID string
	Events             <-chan chat.StreamEvent
}

// StreamManager starts and cancels streaming turns.
type StreamManager interface {
	// Start creates the turn's message rows durably, registers the job and
	// begins generation. ctx doubles as the client liveness signal: once it
	// is done, undelivered events are dropped and the turn fails with a
	// transport error. Setup errors return synchronously; errors after
	// Start returns travel as the stream's last event.
	Start(ctx context.Context, req *StartTurnRequest) (*Turn, error)
	// Cancel requests cooperative cancellation of the live job registered
	// under trackID. It reports false when no live job matches, which
	// covers both "already finished" and "never existed".
	Cancel(trackID string) bool
}
