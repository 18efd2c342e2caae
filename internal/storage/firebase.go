package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"

	"projectzero/internal/model"
)

// FirebaseStore writes to a Firebase Storage (GCS) bucket. Objects are served
// from the public storage.googleapis.com host.
type FirebaseStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

func NewFirebaseStore(ctx context.Context, app *firebase.App, bucketName string) (*FirebaseStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("missing FIREBASE_STORAGE_BUCKET")
	}

	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firebase storage client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketName, err)
	}

	return &FirebaseStore{bucket: bucket, bucketName: bucketName}, nil
}

func (s *FirebaseStore) Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) (*model.UploadResult, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return nil, fmt.Errorf("write firebase object: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize firebase object: %w", err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key)
	return &model.UploadResult{URL: url, Key: key}, nil
}

func (s *FirebaseStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete firebase object: %w", err)
	}
	return nil
}
