package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
)

const multipartOverhead = 1 << 20

type MediaHandler struct {
	mediaService *service.MediaService
}

func NewMediaHandler(mediaService *service.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// UploadImage handles POST /media/images
// Accepts a multipart "file" field and returns the stored image's URL for use as a
// post's image_url.
func (h *MediaHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.upload(w, r, userID, h.mediaService.UploadPostImage, http.StatusCreated)
}

// UploadAvatar handles PUT /users/me/avatar
// The image is cropped to a square JPEG and set as the caller's avatar.
func (h *MediaHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.upload(w, r, userID, h.mediaService.UploadAvatar, http.StatusOK)
}

func (h *MediaHandler) upload(
	w http.ResponseWriter,
	r *http.Request,
	userID string,
	store func(ctx context.Context, userID string, file io.Reader, size int64, contentType string) (*model.UploadResult, error),
	status int,
) {
	maxFormSize := int64(model.MaxImageSizeBytes) + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			httputil.WriteBadRequest(w, "Content-Type must be multipart/form-data")
			return
		}
		if strings.Contains(err.Error(), "request body too large") {
			httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Image exceeds 10MB limit")
			return
		}
		httputil.WriteBadRequest(w, "Invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	result, err := store(r.Context(), userID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeMediaError(w, err, userID)
		return
	}

	httputil.WriteJSON(w, status, result)
}

// Presign handles POST /media/presign
// Returns a presigned URL for uploading a post image directly to the bucket.
func (h *MediaHandler) Presign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.PresignUploadRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.mediaService.PresignPostUpload(r.Context(), userID, req)
	if err != nil {
		writeMediaError(w, err, userID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, res)
}

func writeMediaError(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, model.ErrFileTooLarge):
		httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Image exceeds 10MB limit")
	case errors.Is(err, model.ErrInvalidImageType):
		httputil.WriteBadRequestWithCode(w, model.CodeInvalidImageType, "Unsupported image type. Allowed: jpeg, png, gif, webp")
	case errors.Is(err, model.ErrStorageUnavailable), errors.Is(err, model.ErrPresignUnsupported):
		httputil.WriteServiceUnavailable(w, err.Error())
	case errors.Is(err, model.ErrUserNotFound):
		httputil.WriteNotFound(w, "User not found")
	default:
		internalError(w, "Failed to upload image", "Media handler: user=%s err=%v", userID, err)
	}
}
