package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Resolve handles POST /chats/resolve
// Returns the conversation with another user, opening it on first contact.
func (h *ChatHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.ResolveThreadRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.chatService.ResolveThread(r.Context(), userID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCannotChatSelf):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, "User not found")
		default:
			internalError(w, "Failed to open conversation", "Resolve thread handler: user=%s other=%s err=%v", userID, req.UserID, err)
		}
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, resp)
}

// ListThreads handles GET /chats
func (h *ChatHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	threads, err := h.chatService.ListThreads(r.Context(), userID)
	if err != nil {
		internalError(w, "Failed to list conversations", "ListThreads handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"threads": threads,
	})
}

// ListMessages handles GET /chats/{id}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	threadID := chi.URLParam(r, "id")
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	messages, err := h.chatService.ListMessages(r.Context(), threadID, userID, limit)
	if err != nil {
		writeThreadError(w, err, "ListMessages", userID, threadID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// SendMessage handles POST /chats/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	threadID := chi.URLParam(r, "id")

	var req model.SendMessageRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	msg, err := h.chatService.SendMessage(r.Context(), threadID, userID, req.Text)
	if err != nil {
		writeThreadError(w, err, "SendMessage", userID, threadID)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /chats/{id}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	threadID := chi.URLParam(r, "id")

	marked, err := h.chatService.MarkThreadRead(r.Context(), threadID, userID)
	if err != nil {
		writeThreadError(w, err, "MarkRead", userID, threadID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int64{
		"marked": marked,
	})
}

func writeThreadError(w http.ResponseWriter, err error, op, userID, threadID string) {
	switch {
	case errors.Is(err, model.ErrThreadNotFound):
		httputil.WriteNotFound(w, "Conversation not found")
	case errors.Is(err, model.ErrNotThreadParticipant):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, model.ErrMessageRequired):
		httputil.WriteBadRequest(w, err.Error())
	default:
		internalError(w, "Failed to load conversation", "%s handler: user=%s thread=%s err=%v", op, userID, threadID, err)
	}
}
