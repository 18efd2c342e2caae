package model

import "errors"

const (
	MaxImageSizeBytes  = 10 * 1024 * 1024
	AvatarSize         = 400
	AvatarFolder       = "avatars"
	PostImageFolder    = "posts"
	AvatarCacheControl = "public, max-age=31536000"
)

const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeGIF  = "image/gif"
	ContentTypeWebP = "image/webp"
)

var imageExtensions = map[string]string{
	ContentTypeJPEG: ".jpg",
	ContentTypePNG:  ".png",
	ContentTypeGIF:  ".gif",
	ContentTypeWebP: ".webp",
}

const (
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInvalidImageType = "INVALID_IMAGE_TYPE"
)

var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrInvalidImageType   = errors.New("invalid image type")
	ErrStorageUnavailable = errors.New("image storage is not configured")
	ErrPresignUnsupported = errors.New("direct uploads are not supported by the configured storage")
)

// UploadResult is where a stored blob can be fetched from. Key is what the store
// needs to delete it again.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

type PresignUploadRequest struct {
	ContentType string `json:"content_type" validate:"required"`
	FileSize    int64  `json:"file_size" validate:"omitempty,min=1"`
}

type PresignUploadResponse struct {
	UploadURL  string `json:"upload_url"`
	PublicURL  string `json:"public_url"`
	Key        string `json:"key"`
	ExpiresInS int    `json:"expires_in"`
}

// IsAllowedImageType reports whether contentType may be uploaded.
func IsAllowedImageType(contentType string) bool {
	_, ok := imageExtensions[contentType]
	return ok
}

// ImageExtension returns the file extension for an allowed content type.
func ImageExtension(contentType string) string {
	return imageExtensions[contentType]
}
