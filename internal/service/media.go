package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"projectzero/internal/model"
	"projectzero/internal/storage"
)

const (
	presignExpiry      = 15 * time.Minute
	avatarJPEGQuality  = 85
	postImageCacheCtrl = "public, max-age=31536000, immutable"
)

// AvatarSetter records a new avatar URL on the user. *UserService implements it.
type AvatarSetter interface {
	SetAvatar(ctx context.Context, userID, url string) (*model.User, error)
}

// MediaService validates image uploads and hands them to the configured blob store.
type MediaService struct {
	store     storage.BlobStore // nil when no storage driver is configured
	presigner storage.Presigner // nil unless the store supports direct uploads
	avatars   AvatarSetter
}

func NewMediaService(store storage.BlobStore, presigner storage.Presigner, avatars AvatarSetter) *MediaService {
	return &MediaService{
		store:     store,
		presigner: presigner,
		avatars:   avatars,
	}
}

// UploadPostImage stores an image as-is for use as a post's image_url.
func (s *MediaService) UploadPostImage(ctx context.Context, userID string, file io.Reader, size int64, contentType string) (*model.UploadResult, error) {
	if s.store == nil {
		return nil, model.ErrStorageUnavailable
	}

	data, contentType, err := readAndValidateImage(file, size, contentType, model.MaxImageSizeBytes)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%s%s", model.PostImageFolder, userID, uuid.NewString(), model.ImageExtension(contentType))
	result, err := s.store.Put(ctx, key, bytes.NewReader(data), contentType, postImageCacheCtrl)
	if err != nil {
		return nil, err
	}

	log.Printf("[MediaService] Stored post image user=%s key=%s bytes=%d", userID, key, len(data))
	return result, nil
}

// UploadAvatar crops the image to a square JPEG, stores it and points the user's
// avatar at it.
func (s *MediaService) UploadAvatar(ctx context.Context, userID string, file io.Reader, size int64, contentType string) (*model.UploadResult, error) {
	if s.store == nil {
		return nil, model.ErrStorageUnavailable
	}

	data, _, err := readAndValidateImage(file, size, contentType, model.MaxImageSizeBytes)
	if err != nil {
		return nil, err
	}

	jpegBytes, err := resizeToJPEG(data, model.AvatarSize, model.AvatarSize, avatarJPEGQuality)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%s.jpg", model.AvatarFolder, userID, uuid.NewString())
	result, err := s.store.Put(ctx, key, bytes.NewReader(jpegBytes), model.ContentTypeJPEG, model.AvatarCacheControl)
	if err != nil {
		return nil, err
	}

	if _, err := s.avatars.SetAvatar(ctx, userID, result.URL); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			log.Printf("[MediaService] Failed to clean up avatar %s: %v", key, delErr)
		}
		return nil, err
	}
	return result, nil
}

// PresignPostUpload lets the client PUT a post image straight to the bucket.
func (s *MediaService) PresignPostUpload(ctx context.Context, userID string, req model.PresignUploadRequest) (*model.PresignUploadResponse, error) {
	if s.presigner == nil {
		return nil, model.ErrPresignUnsupported
	}

	contentType := normalizeContentType(req.ContentType)
	if !model.IsAllowedImageType(contentType) {
		return nil, model.ErrInvalidImageType
	}
	if req.FileSize > model.MaxImageSizeBytes {
		return nil, model.ErrFileTooLarge
	}

	key := fmt.Sprintf("%s/%s/%s%s", model.PostImageFolder, userID, uuid.NewString(), model.ImageExtension(contentType))
	uploadURL, publicURL, err := s.presigner.PresignPut(ctx, key, contentType, presignExpiry)
	if err != nil {
		return nil, err
	}

	return &model.PresignUploadResponse{
		UploadURL:  uploadURL,
		PublicURL:  publicURL,
		Key:        key,
		ExpiresInS: int(presignExpiry.Seconds()),
	}, nil
}

// readAndValidateImage loads the upload into memory with size and type checks. An
// empty declared type is sniffed from the content.
func readAndValidateImage(file io.Reader, size int64, contentType string, maxSize int64) ([]byte, string, error) {
	if size > maxSize {
		return nil, "", model.ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, "", model.ErrFileTooLarge
	}

	contentType = normalizeContentType(contentType)
	if (contentType == "" || contentType == "application/octet-stream") && len(data) > 0 {
		contentType = normalizeContentType(http.DetectContentType(data[:min(len(data), 512)]))
	}
	if !model.IsAllowedImageType(contentType) {
		return nil, "", model.ErrInvalidImageType
	}

	return data, contentType, nil
}

func normalizeContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// resizeToJPEG center-crops to the target size and encodes as JPEG.
func resizeToJPEG(data []byte, width, height, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidImageType, err)
	}

	resized := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
