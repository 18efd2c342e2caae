package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"projectzero/internal/model"
)

type memBlobStore struct {
	blobs   map[string][]byte
	types   map[string]string
	deleted []string
	putErr  error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}, types: map[string]string{}}
}

func (s *memBlobStore) Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) (*model.UploadResult, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	s.blobs[key] = data
	s.types[key] = contentType
	return &model.UploadResult{URL: "https://cdn.test/" + key, Key: key}, nil
}

func (s *memBlobStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.blobs, key)
	return nil
}

type fakePresigner struct{ key string }

func (p *fakePresigner) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, string, error) {
	p.key = key
	return "https://upload.test/" + key, "https://cdn.test/" + key, nil
}

type failingAvatarSetter struct{}

func (failingAvatarSetter) SetAvatar(ctx context.Context, userID, url string) (*model.User, error) {
	return nil, model.ErrUserNotFound
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadPostImage(t *testing.T) {
	ctx := context.Background()
	pngBytes := testPNG(t, 8, 8)

	tests := []struct {
		name        string
		data        []byte
		size        int64
		contentType string
		wantErr     error
		wantType    string
	}{
		{"declared png", pngBytes, int64(len(pngBytes)), "image/png", nil, model.ContentTypePNG},
		{"sniffed png", pngBytes, int64(len(pngBytes)), "application/octet-stream", nil, model.ContentTypePNG},
		{"type with params", pngBytes, int64(len(pngBytes)), "Image/PNG; charset=binary", nil, model.ContentTypePNG},
		{"text file", []byte("hello"), 5, "text/plain", model.ErrInvalidImageType, ""},
		{"declared too large", pngBytes, model.MaxImageSizeBytes + 1, "image/png", model.ErrFileTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemBlobStore()
			svc := NewMediaService(store, nil, nil)

			res, err := svc.UploadPostImage(ctx, "u1", bytes.NewReader(tt.data), tt.size, tt.contentType)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}
			if !strings.HasPrefix(res.Key, "posts/u1/") || !strings.HasSuffix(res.Key, ".png") {
				t.Errorf("unexpected key %s", res.Key)
			}
			if store.types[res.Key] != tt.wantType {
				t.Errorf("stored as %s, want %s", store.types[res.Key], tt.wantType)
			}
		})
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	svc := NewMediaService(newMemBlobStore(), nil, nil)
	body := bytes.NewReader(make([]byte, model.MaxImageSizeBytes+10))

	// The declared size lies; the reader is capped anyway.
	_, err := svc.UploadPostImage(context.Background(), "u1", body, 10, "image/png")
	if !errors.Is(err, model.ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestUploadAvatar(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser("u1", "Ada")
	store := newMemBlobStore()
	svc := NewMediaService(store, nil, f.userSvc)

	data := testPNG(t, 640, 480)
	res, err := svc.UploadAvatar(ctx, "u1", bytes.NewReader(data), int64(len(data)), "image/png")
	if err != nil {
		t.Fatalf("UploadAvatar: %v", err)
	}

	if store.types[res.Key] != model.ContentTypeJPEG {
		t.Errorf("expected a JPEG, got %s", store.types[res.Key])
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(store.blobs[res.Key]))
	if err != nil {
		t.Fatalf("decode stored avatar: %v", err)
	}
	if cfg.Width != model.AvatarSize || cfg.Height != model.AvatarSize {
		t.Errorf("expected %dx%d, got %dx%d", model.AvatarSize, model.AvatarSize, cfg.Width, cfg.Height)
	}

	u, _ := f.users.GetByID(ctx, "u1")
	if u.AvatarURL == nil || *u.AvatarURL != res.URL {
		t.Errorf("expected avatar url to be recorded, got %v", u.AvatarURL)
	}
}

func TestUploadAvatarCleansUpOnFailure(t *testing.T) {
	store := newMemBlobStore()
	svc := NewMediaService(store, nil, failingAvatarSetter{})

	data := testPNG(t, 16, 16)
	_, err := svc.UploadAvatar(context.Background(), "ghost", bytes.NewReader(data), int64(len(data)), "")
	if !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if len(store.deleted) != 1 || len(store.blobs) != 0 {
		t.Errorf("expected the orphaned blob to be removed, deleted=%v", store.deleted)
	}
}

func TestMediaWithoutStorage(t *testing.T) {
	svc := NewMediaService(nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.UploadPostImage(ctx, "u1", strings.NewReader("x"), 1, "image/png"); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := svc.PresignPostUpload(ctx, "u1", model.PresignUploadRequest{ContentType: "image/png"}); !errors.Is(err, model.ErrPresignUnsupported) {
		t.Errorf("expected ErrPresignUnsupported, got %v", err)
	}
}

func TestPresignPostUpload(t *testing.T) {
	presigner := &fakePresigner{}
	svc := NewMediaService(newMemBlobStore(), presigner, nil)
	ctx := context.Background()

	resp, err := svc.PresignPostUpload(ctx, "u1", model.PresignUploadRequest{ContentType: "image/webp", FileSize: 1024})
	if err != nil {
		t.Fatalf("PresignPostUpload: %v", err)
	}
	if resp.Key != presigner.key || !strings.HasSuffix(resp.Key, ".webp") || resp.ExpiresInS != 900 {
		t.Errorf("unexpected response %+v", resp)
	}

	if _, err := svc.PresignPostUpload(ctx, "u1", model.PresignUploadRequest{ContentType: "video/mp4"}); !errors.Is(err, model.ErrInvalidImageType) {
		t.Errorf("expected ErrInvalidImageType, got %v", err)
	}
	if _, err := svc.PresignPostUpload(ctx, "u1", model.PresignUploadRequest{ContentType: "image/png", FileSize: model.MaxImageSizeBytes + 1}); !errors.Is(err, model.ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}
