package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
	"projectzero/internal/transport/http/middleware"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetProfile handles GET /users/{id}
// Fields hidden by the owner's privacy settings are omitted.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	h.writeProfile(w, r, targetID, middleware.ViewerID(r.Context()))
}

// GetMe handles GET /users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.writeProfile(w, r, userID, userID)
}

func (h *UserHandler) writeProfile(w http.ResponseWriter, r *http.Request, targetID, viewerID string) {
	profile, err := h.userService.GetProfile(r.Context(), targetID, viewerID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		internalError(w, "Failed to get profile", "GetProfile handler: user=%s err=%v", targetID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// UpdateMe handles PATCH /users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.UpdateProfileRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	profile, err := h.userService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidPrivacy), errors.Is(err, model.ErrInvalidBirthDate):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, "User not found")
		default:
			internalError(w, "Failed to update profile", "UpdateMe handler: user=%s err=%v", userID, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, profile)
}

// Search handles GET /users/search?q=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	users, err := h.userService.SearchUsers(r.Context(), query, middleware.ViewerID(r.Context()))
	if err != nil {
		internalError(w, "Failed to search users", "Search handler: q=%q err=%v", query, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
	})
}

// Suggested handles GET /users/suggested
func (h *UserHandler) Suggested(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	users, err := h.userService.SuggestedUsers(r.Context(), userID)
	if err != nil {
		internalError(w, "Failed to load suggestions", "Suggested handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
	})
}
