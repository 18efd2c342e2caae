package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
	"projectzero/internal/transport/http/middleware"
)

type PostHandler struct {
	postService *service.PostService
}

func NewPostHandler(postService *service.PostService) *PostHandler {
	return &PostHandler{
		postService: postService,
	}
}

// Create handles POST /posts
// Logs a new day entry for the authenticated user.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.CreatePostRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	post, err := h.postService.CreatePost(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrEmptyPost), errors.Is(err, model.ErrInvalidEntryDate):
			httputil.WriteBadRequest(w, err.Error())
		default:
			internalError(w, "Failed to create post", "Create post handler: user=%s err=%v", userID, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, post)
}

// GetByID handles GET /posts/{id}
func (h *PostHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	post, err := h.postService.GetPost(r.Context(), postID, middleware.ViewerID(r.Context()))
	if err != nil {
		if errors.Is(err, model.ErrPostNotFound) {
			httputil.WriteNotFound(w, "Post not found")
			return
		}
		internalError(w, "Failed to get post", "Get post handler: post=%s err=%v", postID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, post)
}

// Update handles PATCH /posts/{id}
// Only the author may edit.
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID := chi.URLParam(r, "id")

	var req model.UpdatePostRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	post, err := h.postService.UpdatePost(r.Context(), postID, userID, req)
	if err != nil {
		h.writeMutationError(w, err, "Update", userID, postID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, post)
}

// Delete handles DELETE /posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID := chi.URLParam(r, "id")

	if err := h.postService.DeletePost(r.Context(), postID, userID); err != nil {
		h.writeMutationError(w, err, "Delete", userID, postID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Post deleted successfully",
	})
}

func (h *PostHandler) writeMutationError(w http.ResponseWriter, err error, op, userID, postID string) {
	switch {
	case errors.Is(err, model.ErrPostNotFound):
		httputil.WriteNotFound(w, "Post not found")
	case errors.Is(err, model.ErrUnauthorizedPostAction):
		httputil.WriteForbidden(w, "You can only change your own posts")
	case errors.Is(err, model.ErrEmptyPost), errors.Is(err, model.ErrInvalidEntryDate):
		httputil.WriteBadRequest(w, err.Error())
	default:
		internalError(w, "Failed to "+strings.ToLower(op)+" post", "%s post handler: user=%s post=%s err=%v", op, userID, postID, err)
	}
}

// ToggleLike handles POST /posts/{id}/like
// Likes the post if the caller has not, unlikes it otherwise.
func (h *PostHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID := chi.URLParam(r, "id")

	result, err := h.postService.ToggleLike(r.Context(), postID, userID)
	if err != nil {
		if errors.Is(err, model.ErrPostNotFound) {
			httputil.WriteNotFound(w, "Post not found")
			return
		}
		internalError(w, "Failed to like post", "ToggleLike handler: user=%s post=%s err=%v", userID, postID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetUserPosts handles GET /users/{id}/posts
//
// Query params:
//   - cursor: optional, "id:unixmicro" of the last post seen
//   - limit: optional, default 20, max 50
func (h *PostHandler) GetUserPosts(w http.ResponseWriter, r *http.Request) {
	authorID := chi.URLParam(r, "id")
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	posts, err := h.postService.ListPostsByAuthor(r.Context(), authorID, middleware.ViewerID(r.Context()), httputil.QueryCursor(r), limit)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCursor) {
			httputil.WriteBadRequest(w, "Invalid cursor")
			return
		}
		internalError(w, "Failed to get user posts", "Get user posts handler: user=%s err=%v", authorID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, posts)
}

// GetJourney handles GET /users/{id}/journey
func (h *PostHandler) GetJourney(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	journey, err := h.postService.GetJourney(r.Context(), userID)
	if err != nil {
		internalError(w, "Failed to get journey", "GetJourney handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, journey)
}
