package service

import "testing"

func TestSanitizer(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name string
		in   string
		text string
		line string
	}{
		{"plain", "Day 1 complete", "Day 1 complete", "Day 1 complete"},
		{"script stripped", `<script>alert(1)</script>hello`, "hello", "hello"},
		{"tags stripped", "<b>bold</b> move", "bold move", "bold move"},
		{"entities kept readable", "Tom & Jerry <3", "Tom & Jerry <3", "Tom & Jerry <3"},
		{"trim and newlines", "  first\nsecond  ", "first\nsecond", "first second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Text(tt.in); got != tt.text {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.text)
			}
			if got := s.Line(tt.in); got != tt.line {
				t.Errorf("Line(%q) = %q, want %q", tt.in, got, tt.line)
			}
		})
	}
}
