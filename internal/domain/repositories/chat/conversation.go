// Package chat defines the persistence contracts for conversation threads,
// messages and feedback. Implementations live under repository/postgres.
package chat

import (
	"context"

	"meander/internal/domain/models/chat"
)

// ThreadRepository is durable CRUD over conversation threads.
type ThreadRepository interface {
	Create(ctx context.Context, thread *chat.Thread) error
	Get(ctx context.Context, threadID string) (*chat.Thread, error)
	// List returns the total thread count and one page ordered by
	// updated_at descending (most recently active first).
	List(ctx context.Context, page, pageSize int) (int, []chat.Thread, error)
	UpdateTitle(ctx context.Context, threadID, title string) (*chat.Thread, error)
	// Delete removes the thread and, via cascade, every message in it.
	// Deleting an absent thread is a no-op.
	Delete(ctx context.Context, threadID string) error
}

// FinalizeParams is the single terminal write applied to an assistant
// placeholder. Exactly one of Content/ErrorMessage must be non-nil.
type FinalizeParams struct {
	Content      *string
	ErrorMessage *string
	Sources      []chat.Source
}

// MessageRepository is durable CRUD over messages within threads.
type MessageRepository interface {
	Create(ctx context.Context, msg *chat.Message) error
	// Get returns the message only when it belongs to the given thread.
	Get(ctx context.Context, threadID, messageID string) (*chat.Message, error)
	// List returns the total message count for the thread and one page in
	// chronological order (storage is newest-first; the page is re-ordered
	// before returning).
	List(ctx context.Context, threadID string, page, pageSize int) (int, []chat.Message, error)
	// Path walks parent links from the given message up to the root and
	// returns the chain root-first.
	Path(ctx context.Context, messageID string) ([]chat.Message, error)
	// Finalize applies the terminal write to a placeholder and bumps the
	// owning thread's updated_at. Fails with domain.ErrNotFound when the
	// message does not exist in the given thread.
	Finalize(ctx context.Context, threadID, messageID string, params FinalizeParams) error
}

// FeedbackRepository stores at most one reaction per message.
type FeedbackRepository interface {
	Upsert(ctx context.Context, fb *chat.MessageFeedback) error
	Delete(ctx context.Context, threadID, messageID string) error
}
