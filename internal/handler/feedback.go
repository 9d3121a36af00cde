package handler

import (
	"log/slog"
	"net/http"

	chatSvc "meander/internal/domain/services/chat"
	"meander/internal/httputil"
)

// FeedbackHandler handles message feedback HTTP requests
type FeedbackHandler struct {
	chatService chatSvc.ChatService
	logger      *slog.Logger
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(chatService chatSvc.ChatService, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// PutFeedback records or replaces the reaction on a message
// PUT /api/threads/{id}/messages/{mid}/feedback
func (h *FeedbackHandler) PutFeedback(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}
	messageID, ok := PathParam(w, r, "mid", "Message ID")
	if !ok {
		return
	}

	var req chatSvc.FeedbackRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	feedback, err := h.chatService.PutFeedback(r.Context(), threadID, messageID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, feedback)
}

// DeleteFeedback retracts the reaction on a message
// DELETE /api/threads/{id}/messages/{mid}/feedback
func (h *FeedbackHandler) DeleteFeedback(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}
	messageID, ok := PathParam(w, r, "mid", "Message ID")
	if !ok {
		return
	}

	if err := h.chatService.DeleteFeedback(r.Context(), threadID, messageID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
