package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
	"projectzero/internal/transport/http/middleware"
)

type FollowHandler struct {
	followService *service.FollowService
}

func NewFollowHandler(followService *service.FollowService) *FollowHandler {
	return &FollowHandler{
		followService: followService,
	}
}

// Follow handles POST /users/{id}/follow
func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	followerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	followeeID := chi.URLParam(r, "id")

	if err := h.followService.Follow(r.Context(), followerID, followeeID); err != nil {
		switch {
		case errors.Is(err, model.ErrCannotFollowSelf):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, model.ErrAlreadyFollowing):
			httputil.WriteConflict(w, err.Error())
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, err.Error())
		default:
			internalError(w, "Failed to follow user", "Follow handler: %s -> %s err=%v", followerID, followeeID, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully followed user",
	})
}

// Unfollow handles DELETE /users/{id}/follow
func (h *FollowHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	followerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	followeeID := chi.URLParam(r, "id")

	if err := h.followService.Unfollow(r.Context(), followerID, followeeID); err != nil {
		switch {
		case errors.Is(err, model.ErrNotFollowing):
			httputil.WriteNotFound(w, err.Error())
		case errors.Is(err, model.ErrCannotFollowSelf):
			httputil.WriteBadRequest(w, err.Error())
		default:
			internalError(w, "Failed to unfollow user", "Unfollow handler: %s -> %s err=%v", followerID, followeeID, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully unfollowed user",
	})
}

// GetFollowers handles GET /users/{id}/followers
//
// Query params:
//   - cursor: optional, follow timestamp of the last item (RFC3339)
//   - limit: optional, default 20, max 100
func (h *FollowHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.followService.ListFollowers, "GetFollowers")
}

// GetFollowing handles GET /users/{id}/following
// Subject to the owner's following privacy.
func (h *FollowHandler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.followService.ListFollowing, "GetFollowing")
}

func (h *FollowHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	fetch func(ctx context.Context, userID, viewerID string, cursor *string, limit int) (*model.FollowListResponse, error),
	op string,
) {
	userID := chi.URLParam(r, "id")
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	resp, err := fetch(r.Context(), userID, middleware.ViewerID(r.Context()), httputil.QueryCursor(r), limit)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, "User not found")
		case errors.Is(err, model.ErrPrivacyRestricted):
			httputil.WriteForbidden(w, err.Error())
		case errors.Is(err, model.ErrInvalidCursor):
			httputil.WriteBadRequest(w, "Invalid cursor")
		default:
			internalError(w, "Failed to list follows", "%s handler: user=%s err=%v", op, userID, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Audit handles GET /users/{id}/follow-audit
// Compares the stored counters with the follow edges.
func (h *FollowHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	report, err := h.followService.CheckConsistency(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		internalError(w, "Failed to audit follows", "Audit handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}
