package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
)

type CommentHandler struct {
	commentService *service.CommentService
}

func NewCommentHandler(commentService *service.CommentService) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
	}
}

// Create handles POST /posts/{id}/comments
// A reply names its parent with parent_comment_id, which must be on the same post.
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID := chi.URLParam(r, "id")

	var req model.CreateCommentRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	comment, err := h.commentService.AddComment(r.Context(), postID, userID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrPostNotFound):
			httputil.WriteNotFound(w, "Post not found")
		case errors.Is(err, model.ErrParentCommentMismatch):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, model.ErrContentRequired):
			httputil.WriteBadRequest(w, err.Error())
		default:
			internalError(w, "Failed to create comment", "Create comment handler: user=%s post=%s err=%v", userID, postID, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, comment)
}

// List handles GET /posts/{id}/comments
// Returns the post's comments grouped into threads.
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	comments, err := h.commentService.ListComments(r.Context(), postID)
	if err != nil {
		if errors.Is(err, model.ErrPostNotFound) {
			httputil.WriteNotFound(w, "Post not found")
			return
		}
		internalError(w, "Failed to list comments", "List comments handler: post=%s err=%v", postID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"comments": comments,
		"threads":  service.BuildCommentThreads(comments),
	})
}

// ToggleLike handles POST /comments/{id}/like
func (h *CommentHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	commentID := chi.URLParam(r, "id")

	result, err := h.commentService.ToggleCommentLike(r.Context(), commentID, userID)
	if err != nil {
		if errors.Is(err, model.ErrCommentNotFound) {
			httputil.WriteNotFound(w, "Comment not found")
			return
		}
		internalError(w, "Failed to like comment", "ToggleLike comment handler: user=%s comment=%s err=%v", userID, commentID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
