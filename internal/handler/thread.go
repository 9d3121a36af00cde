package handler

import (
	"log/slog"
	"net/http"

	chatSvc "meander/internal/domain/services/chat"
	"meander/internal/httputil"
)

// ThreadHandler handles thread HTTP requests
// Handlers only communicate with services, never repositories
type ThreadHandler struct {
	chatService chatSvc.ChatService
	logger      *slog.Logger
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(chatService chatSvc.ChatService, logger *slog.Logger) *ThreadHandler {
	return &ThreadHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// CreateThread creates a new conversation thread
// POST /api/threads
func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req chatSvc.CreateThreadRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	thread, err := h.chatService.CreateThread(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, thread)
}

// ListThreads retrieves one page of threads, most recently active first
// GET /api/threads?page=1&page_size=20
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	page := QueryInt(r, "page", 1, 1, 10000)
	pageSize := QueryInt(r, "page_size", 20, 1, 100)

	threads, err := h.chatService.ListThreads(r.Context(), page, pageSize)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, threads)
}

// GetThread retrieves a single thread by ID
// GET /api/threads/{id}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	thread, err := h.chatService.GetThread(r.Context(), threadID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, thread)
}

// UpdateThread renames a thread; the title derives from the query text
// PATCH /api/threads/{id}
func (h *ThreadHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	var req chatSvc.UpdateThreadRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	thread, err := h.chatService.UpdateThreadTitle(r.Context(), threadID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, thread)
}

// DeleteThread removes a thread and its whole message tree
// DELETE /api/threads/{id}
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	if err := h.chatService.DeleteThread(r.Context(), threadID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMessages retrieves one chronological page of a thread's messages
// GET /api/threads/{id}/messages?page=1&page_size=50
func (h *ThreadHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	page := QueryInt(r, "page", 1, 1, 10000)
	pageSize := QueryInt(r, "page_size", 50, 1, 200)

	messages, err := h.chatService.ListMessages(r.Context(), threadID, page, pageSize)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, messages)
}

// GetMessage retrieves a single message scoped to its thread
// GET /api/threads/{id}/messages/{mid}
func (h *ThreadHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}
	messageID, ok := PathParam(w, r, "mid", "Message ID")
	if !ok {
		return
	}

	message, err := h.chatService.GetMessage(r.Context(), threadID, messageID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, message)
}
