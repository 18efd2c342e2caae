package handler

import (
	"errors"
	"net/http"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
	"projectzero/internal/transport/http/middleware"
)

type FeedHandler struct {
	feedService *service.FeedService
	postService *service.PostService
}

func NewFeedHandler(feedService *service.FeedService, postService *service.PostService) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
		postService: postService,
	}
}

// GetFeed handles GET /feed
// Returns posts from the people the caller follows, newest first.
//
// Query params:
//   - cursor: optional, "postID:msTimestamp" of the last post seen
//   - limit: optional, default 10, max 50
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	feed, err := h.feedService.GetFollowingFeed(r.Context(), userID, httputil.QueryCursor(r), limit)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCursor) {
			httputil.WriteBadRequest(w, "Invalid cursor")
			return
		}
		internalError(w, "Failed to get feed", "GetFeed handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, feed)
}

// GetGlobalFeed handles GET /feed/global
// Returns the most recent posts across all users.
func (h *FeedHandler) GetGlobalFeed(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	feed, err := h.postService.ListGlobalFeed(r.Context(), middleware.ViewerID(r.Context()), limit)
	if err != nil {
		internalError(w, "Failed to get feed", "GetGlobalFeed handler: err=%v", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, feed)
}
