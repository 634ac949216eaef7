package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSafeUTF8Truncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxBytes int
		want     string
	}{
		{"within limit", "bonjour", 10, "bonjour"},
		{"ascii cut", "bonjour", 3, "bon"},
		{"multi-byte boundary respected", "théorie", 3, "th"},
		{"zero", "texte", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeUTF8Truncate(tt.in, tt.maxBytes)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result %q is not valid UTF-8", got)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("éléphant", 3); got != "élé" {
		t.Errorf("got %q, want %q", got, "élé")
	}
	if got := TruncateRunes("court", 100); got != "court" {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("texte", 0); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	valid := "résumé"
	if got := SanitizeUTF8(valid); got != valid {
		t.Errorf("valid string altered: %q", got)
	}

	invalid := "ab" + string([]byte{0xff, 0xfe}) + "cd"
	got := SanitizeUTF8(invalid)
	if !utf8.ValidString(got) {
		t.Errorf("result still invalid: %q", got)
	}
	if got != "abcd" {
		t.Errorf("got %q, want %q", got, "abcd")
	}
}

func TestCollapseBlankLines(t *testing.T) {
	in := "  ligne une  \n\n\n\nligne deux\n"
	got := CollapseBlankLines(in, 1000)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs survived: %q", got)
	}
	if !strings.HasPrefix(got, "ligne une") {
		t.Errorf("leading whitespace kept: %q", got)
	}

	long := strings.Repeat("x", 50)
	short := CollapseBlankLines(long, 10)
	if !strings.HasSuffix(short, "...") {
		t.Errorf("truncation marker missing: %q", short)
	}
}
