package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
)

type NotificationHandler struct {
	notifService *service.NotificationService
}

func NewNotificationHandler(notifService *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		notifService: notifService,
	}
}

// List handles GET /notifications
// Returns the newest notifications and the unread count.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	resp, err := h.notifService.List(r.Context(), userID, limit)
	if err != nil {
		internalError(w, "Failed to get notifications", "List notifications handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	notifID := chi.URLParam(r, "id")

	if err := h.notifService.MarkRead(r.Context(), notifID, userID); err != nil {
		if errors.Is(err, model.ErrNotificationNotFound) {
			httputil.WriteNotFound(w, "Notification not found")
			return
		}
		internalError(w, "Failed to mark notification as read", "MarkRead handler: user=%s notif=%s err=%v", userID, notifID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Notification marked as read",
	})
}

// MarkAllRead handles POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	marked, err := h.notifService.MarkAllRead(r.Context(), userID)
	if err != nil {
		internalError(w, "Failed to mark notifications as read", "MarkAllRead handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int64{
		"marked": marked,
	})
}

// GetUnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	count, err := h.notifService.UnreadCount(r.Context(), userID)
	if err != nil {
		internalError(w, "Failed to get unread count", "GetUnreadCount handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int{
		"unread_count": count,
	})
}

// RegisterToken handles POST /devices
// Stores an FCM registration token for push delivery.
func (h *NotificationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.RegisterTokenRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.notifService.RegisterDeviceToken(r.Context(), userID, req); err != nil {
		internalError(w, "Failed to register device", "RegisterToken handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Device registered",
	})
}

// RemoveToken handles DELETE /devices
func (h *NotificationHandler) RemoveToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.RegisterTokenRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.notifService.RemoveDeviceToken(r.Context(), userID, req.Token); err != nil {
		internalError(w, "Failed to remove device", "RemoveToken handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Device removed",
	})
}
