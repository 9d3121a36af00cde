package streaming

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"meander/internal/domain/models/chat"
	"meander/internal/domain/repositories"
	chatRepo "meander/internal/domain/repositories/chat"
	chatSvc "meander/internal/domain/services/chat"
)

// Session status values.
const (
	statusPending   = "pending"
	statusStreaming = "streaming"
	statusCompleted = "completed"
	statusCancelled = "cancelled"
	statusFailed    = "failed"
)

// User-facing terminal messages. These travel in the closing stream event and
// land in the assistant message's error_message column.
const (
	genErrorMessage       = "Failed to generate answer, please try again later"
	transportErrorMessage = "Stream cancelled by client: connection terminated unexpectedly"
)

// finalizeTimeout bounds the terminal database write, which runs on its own
// context because the job context may already be cancelled.
const finalizeTimeout = 10 * time.Second

// session drives one generation turn from placeholder to terminal write.
//
// Exactly one terminal path runs: completed, cancelled or failed. Each path
// finalizes the assistant message once, emits one terminal event and
// deregisters the job. Events are delivered strictly in production order to a
// single consumer; a consumer that stops reading (client disconnect) aborts
// the turn with a transport error rather than buffering unbounded output.
type session struct {
	trackID            string
	threadID           string
	userMessageID      string
	assistantMessageID string

	generator chatSvc.Generator
	genReq    *chatSvc.GenerateRequest
	messages  chatRepo.MessageRepository
	txManager repositories.TransactionManager
	registry  *Registry
	logger    *slog.Logger

	// clientCtx mirrors the consumer's liveness; jobCtx is the generation's
	// own lifetime, severed from the HTTP request.
	clientCtx context.Context
	jobCtx    context.Context

	events chan chat.StreamEvent
	status string

	response strings.Builder
	sources  []chat.Source
}

// run executes the turn to its terminal state. It owns the events channel and
// closes it on the way out.
func (s *session) run() {
	defer close(s.events)
	defer s.registry.Deregister(s.trackID)

	s.status = statusPending

	if !s.send(s.event(chat.ModeMetadata, chat.EventChunk, "")) {
		s.fail(transportErrorMessage)
		return
	}

	// The job may be cancelled before the generator produces anything.
	if s.interrupted() {
		s.cancelPartial()
		return
	}

	genEvents, err := s.generator.Stream(s.jobCtx, s.genReq)
	if err != nil {
		s.logger.Error("generator refused stream",
			"track_id", s.trackID, "error", err)
		s.fail(genErrorMessage)
		return
	}

	s.status = statusStreaming

	for {
		select {
		case <-s.jobCtx.Done():
			s.cancelPartial()
			return

		case ev, ok := <-genEvents:
			if !ok {
				// Generators terminate with Result or Err before closing; a
				// bare close means the generator died mid-answer.
				s.logger.Error("generator closed stream without terminal event",
					"track_id", s.trackID)
				s.fail(genErrorMessage)
				return
			}

			switch {
			case ev.Err != nil:
				s.logger.Error("generation failed",
					"track_id", s.trackID, "error", ev.Err)
				s.fail(genErrorMessage)
				return

			case ev.Result != nil:
				s.sources = ev.Result.Sources
				s.complete()
				return

			case ev.Fragment != nil:
				if !s.handleFragment(ev.Fragment) {
					return
				}
			}
		}
	}
}

// handleFragment forwards one fragment and folds response text into the
// aggregate. Returns false when the session reached a terminal state.
func (s *session) handleFragment(f *chatSvc.Fragment) bool {
	// A cancel that raced the fragment wins: the fragment is dropped.
	if s.interrupted() {
		s.cancelPartial()
		return false
	}

	mode := chat.ModeResponse
	if f.Kind == chatSvc.FragmentThinking {
		mode = chat.ModeThinking
	} else {
		s.response.WriteString(f.Text)
	}

	if !s.send(s.event(mode, chat.EventChunk, f.Text)) {
		s.fail(transportErrorMessage)
		return false
	}
	return true
}

// send delivers one event to the consumer. Returns false when the consumer is
// gone; the caller must then terminate the turn.
func (s *session) send(ev chat.StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.clientCtx.Done():
		return false
	}
}

// complete finalizes the turn on the success path.
func (s *session) complete() {
	content := s.response.String()
	if err := s.finalize(chatRepo.FinalizeParams{
		Content: &content,
		Sources: s.sources,
	}); err != nil {
		s.fail(genErrorMessage)
		return
	}

	s.status = statusCompleted
	s.send(s.event(chat.ModeResponse, chat.EventDone, ""))
	s.logger.Info("turn completed",
		"track_id", s.trackID,
		"thread_id", s.threadID,
		"aim_id", s.assistantMessageID,
		"response_len", len(content),
	)
}

// cancelPartial finalizes a cancelled turn, keeping whatever response text
// arrived before the cancel. A turn cancelled before its first fragment
// persists empty content, not an error.
func (s *session) cancelPartial() {
	content := s.response.String()
	if err := s.finalize(chatRepo.FinalizeParams{
		Content: &content,
		Sources: s.sources,
	}); err != nil {
		s.fail(genErrorMessage)
		return
	}

	s.status = statusCancelled
	s.send(s.event(chat.ModeResponse, chat.EventCancelled, ""))
	s.logger.Info("turn cancelled",
		"track_id", s.trackID,
		"thread_id", s.threadID,
		"aim_id", s.assistantMessageID,
		"partial_len", len(content),
	)
}

// fail finalizes the turn with a user-facing error message. The finalize
// error, if any, is logged and swallowed: there is no better terminal state
// to move to.
func (s *session) fail(message string) {
	if err := s.finalize(chatRepo.FinalizeParams{
		ErrorMessage: &message,
	}); err != nil {
		s.logger.Error("terminal write failed on error path",
			"track_id", s.trackID, "error", err)
	}

	s.status = statusFailed
	s.send(s.event(chat.ModeError, chat.EventError, message))
	s.logger.Warn("turn failed",
		"track_id", s.trackID,
		"thread_id", s.threadID,
		"aim_id", s.assistantMessageID,
		"message", message,
	)
}

// finalize performs the exactly-once terminal write on the placeholder. The
// write and its updated_at bump run in one transaction.
func (s *session) finalize(params chatRepo.FinalizeParams) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		return s.messages.Finalize(txCtx, s.threadID, s.assistantMessageID, params)
	})
	if err != nil {
		s.logger.Error("finalize assistant message",
			"track_id", s.trackID,
			"aim_id", s.assistantMessageID,
			"error", err,
		)
		return err
	}
	return nil
}

// interrupted reports, without blocking, whether the job was cancelled.
func (s *session) interrupted() bool {
	select {
	case <-s.jobCtx.Done():
		return true
	default:
		return false
	}
}

// event stamps the turn's id envelope onto a stream event.
func (s *session) event(mode chat.StreamMode, typ chat.StreamEventType, message string) chat.StreamEvent {
	return chat.StreamEvent{
		Mode:               mode,
		Type:               typ,
		Message:            message,
		ThreadID:           s.threadID,
		TrackID:            s.trackID,
		UserMessageID:      s.userMessageID,
		AssistantMessageID: s.assistantMessageID,
	}
}
