// Package storage puts and removes blobs (post images, avatars) in the
// configured backend.
package storage

import (
	"context"
	"io"
	"time"

	"projectzero/internal/model"
)

// BlobStore stores a blob under key, e.g. "avatars/<uuid>.jpg".
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) (*model.UploadResult, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by stores that accept direct client uploads.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (uploadURL, publicURL string, err error)
}
