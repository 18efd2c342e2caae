package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer reduces user input to plain text before it is stored.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text strips every tag, decodes entities and trims the result. Line breaks
// inside the text are kept.
func (s *Sanitizer) Text(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// Line is Text with all whitespace runs collapsed to one space, for names and
// other single-line fields.
func (s *Sanitizer) Line(in string) string {
	return strings.Join(strings.Fields(s.Text(in)), " ")
}

func (s *Sanitizer) TextPtr(in *string) *string {
	if in == nil {
		return nil
	}
	out := s.Text(*in)
	return &out
}
