package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"meander/internal/domain/models/chat"
	chatSvc "meander/internal/domain/services/chat"
	"meander/internal/handler/sse"
	"meander/internal/httputil"
)

// StreamHandler starts streaming turns over SSE and serves cancellation.
type StreamHandler struct {
	chatService chatSvc.ChatService
	manager     chatSvc.StreamManager
	sseConfig   *sse.Config
	logger      *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(
	chatService chatSvc.ChatService,
	manager chatSvc.StreamManager,
	sseConfig *sse.Config,
	logger *slog.Logger,
) *StreamHandler {
	return &StreamHandler{
		chatService: chatService,
		manager:     manager,
		sseConfig:   sseConfig,
		logger:      logger,
	}
}

// StartStream starts one generation turn and streams its events
// POST /api/threads/{id}/stream
//
// Setup failures (bad request, missing thread, duplicate turn) respond with
// plain JSON errors before any SSE bytes are written. Once the stream is
// open, failures travel as the stream's terminal event instead.
func (h *StreamHandler) StartStream(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	var req chatSvc.StartTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ThreadID = threadID

	turn, err := h.manager.Start(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.logger.Error("SSE unsupported by response writer",
			"track_id", turn.TrackID,
		)
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Client id ties one connection's log lines together
	clientID := uuid.New().String()
	h.logger.Info("SSE stream established",
		"thread_id", turn.ThreadID,
		"track_id", turn.TrackID,
		"aim_id", turn.AssistantMessageID,
		"client_id", clientID,
	)

	keepAlive := sse.NewTickerKeepAlive(h.sseConfig.KeepAliveInterval)
	keepAlive.Start(writer, h.logger)
	defer keepAlive.Stop()

	// The session closes the channel after the terminal event. A failed
	// write means the client is gone; the session observes the request
	// context and winds the turn down on its own.
	for event := range turn.Events {
		frame, err := event.SSE()
		if err != nil {
			h.logger.Error("failed to render stream event",
				"track_id", turn.TrackID, "error", err)
			continue
		}
		if err := writer.WriteFrame(frame); err != nil {
			h.logger.Warn("SSE write failed, client disconnected",
				"track_id", turn.TrackID, "client_id", clientID, "error", err)
			return
		}
	}
}

// StopStream cancels the live generation behind a message
// POST /api/threads/{id}/messages/{mid}/stop
//
// The message id may be either side of the turn: the user message (the track
// id itself) or the assistant placeholder. Unknown messages give 404; a known
// message with no live generation gives 400.
func (h *StreamHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}
	messageID, ok := PathParam(w, r, "mid", "Message ID")
	if !ok {
		return
	}

	msg, err := h.chatService.GetMessage(r.Context(), threadID, messageID)
	if err != nil {
		handleError(w, err)
		return
	}

	trackID := msg.ID
	if msg.Role == chat.RoleAssistant && msg.ParentID != nil {
		trackID = *msg.ParentID
	}

	if !h.manager.Cancel(trackID) {
		httputil.RespondError(w, http.StatusBadRequest, "no active stream for this message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
