package repository

import (
	"errors"
	"testing"
	"time"

	"projectzero/internal/model"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	id := "5f0c2a4e-1d2b-4c1a-9e0f-3b7a8c6d5e4f"

	gotAt, gotID, err := parseCursor(formatCursor(at, id))
	if err != nil {
		t.Fatalf("parseCursor() error = %v", err)
	}
	if !gotAt.Equal(at) {
		t.Errorf("time = %v, want %v", gotAt, at)
	}
	if gotID != id {
		t.Errorf("id = %q, want %q", gotID, id)
	}
}

func TestParseCursorInvalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"empty", ""},
		{"no separator", "abc"},
		{"missing id", ":123"},
		{"missing time", "abc:"},
		{"non numeric time", "abc:yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseCursor(tt.cursor)
			if !errors.Is(err, model.ErrInvalidCursor) {
				t.Errorf("parseCursor(%q) error = %v, want ErrInvalidCursor", tt.cursor, err)
			}
		})
	}
}
