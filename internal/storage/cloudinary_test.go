package storage

import "testing"

func TestPublicID(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"avatars/abc.jpg", "avatars/abc"},
		{"posts/u1/x.y.webp", "posts/u1/x.y"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := publicID(tt.key); got != tt.want {
			t.Errorf("publicID(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
