// Package chat implements thread, message and feedback management on top of
// the conversation repositories.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"meander/internal/domain"
	chatModels "meander/internal/domain/models/chat"
	chatRepo "meander/internal/domain/repositories/chat"
	chatSvc "meander/internal/domain/services/chat"
)

// Service implements the ChatService interface.
type Service struct {
	threads  chatRepo.ThreadRepository
	messages chatRepo.MessageRepository
	feedback chatRepo.FeedbackRepository
	logger   *slog.Logger
}

// NewService creates a new chat service.
func NewService(
	threads chatRepo.ThreadRepository,
	messages chatRepo.MessageRepository,
	feedback chatRepo.FeedbackRepository,
	logger *slog.Logger,
) chatSvc.ChatService {
	return &Service{
		threads:  threads,
		messages: messages,
		feedback: feedback,
		logger:   logger,
	}
}

// CreateThread creates a thread titled after the first query.
func (s *Service) CreateThread(ctx context.Context, req *chatSvc.CreateThreadRequest) (*chatModels.Thread, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Query, validation.Required, validation.Length(1, 10000)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	thread := &chatModels.Thread{
		Title: chatModels.DeriveTitle(strings.TrimSpace(req.Query)),
	}
	if err := s.threads.Create(ctx, thread); err != nil {
		return nil, err
	}

	s.logger.Info("thread created", "id", thread.ID, "title", thread.Title)
	return thread, nil
}

// GetThread retrieves a thread by id.
func (s *Service) GetThread(ctx context.Context, threadID string) (*chatModels.Thread, error) {
	return s.threads.Get(ctx, threadID)
}

// ListThreads returns one page of threads ordered by recency.
func (s *Service) ListThreads(ctx context.Context, page, pageSize int) (*chatSvc.ThreadPage, error) {
	total, threads, err := s.threads.List(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &chatSvc.ThreadPage{Total: total, Threads: threads}, nil
}

// UpdateThreadTitle renames a thread, deriving the title the same way thread
// creation does.
func (s *Service) UpdateThreadTitle(ctx context.Context, threadID string, req *chatSvc.UpdateThreadRequest) (*chatModels.Thread, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Query, validation.Required, validation.Length(1, 10000)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	thread, err := s.threads.UpdateTitle(ctx, threadID, chatModels.DeriveTitle(strings.TrimSpace(req.Query)))
	if err != nil {
		return nil, err
	}

	s.logger.Info("thread title updated", "id", thread.ID, "title", thread.Title)
	return thread, nil
}

// DeleteThread removes a thread and its whole message tree. Already-absent
// threads delete as a no-op.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.threads.Delete(ctx, threadID); err != nil {
		return err
	}
	s.logger.Info("thread deleted", "id", threadID)
	return nil
}

// ListMessages returns one chronological page of a thread's messages.
func (s *Service) ListMessages(ctx context.Context, threadID string, page, pageSize int) (*chatSvc.MessagePage, error) {
	// Distinguish an empty thread from a missing one.
	if _, err := s.threads.Get(ctx, threadID); err != nil {
		return nil, err
	}

	total, messages, err := s.messages.List(ctx, threadID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &chatSvc.MessagePage{Total: total, Messages: messages}, nil
}

// GetMessage retrieves a message scoped to its thread.
func (s *Service) GetMessage(ctx context.Context, threadID, messageID string) (*chatModels.Message, error) {
	return s.messages.Get(ctx, threadID, messageID)
}

// PutFeedback records a like/dislike on an assistant message, replacing any
// prior reaction.
func (s *Service) PutFeedback(ctx context.Context, threadID, messageID string, req *chatSvc.FeedbackRequest) (*chatModels.MessageFeedback, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Reaction,
			validation.Required,
			validation.In(chatModels.ReactionLike, chatModels.ReactionDislike),
		),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	fb := &chatModels.MessageFeedback{
		ThreadID:     threadID,
		MessageID:    messageID,
		Reaction:     req.Reaction,
		FeedbackText: req.FeedbackText,
	}
	if err := s.feedback.Upsert(ctx, fb); err != nil {
		return nil, err
	}

	s.logger.Info("feedback recorded",
		"thread_id", threadID,
		"message_id", messageID,
		"reaction", fb.Reaction,
	)
	return fb, nil
}

// DeleteFeedback retracts the reaction on a message.
func (s *Service) DeleteFeedback(ctx context.Context, threadID, messageID string) error {
	return s.feedback.Delete(ctx, threadID, messageID)
}
