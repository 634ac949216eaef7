// Package utils contains small text helpers shared by the ingestion and
// retrieval paths.
package utils

import (
	"strings"
	"unicode/utf8"
)

// SafeUTF8Truncate truncates a UTF-8 string to a maximum number of bytes
// without breaking multi-byte character boundaries.
//
// The truncation point never falls in the middle of a multi-byte sequence;
// strings already within the limit return unchanged.
func SafeUTF8Truncate(str string, maxBytes int) string {
	if len(str) <= maxBytes {
		return str
	}

	for i := maxBytes; i >= 0 && i > maxBytes-4; i-- {
		if utf8.ValidString(str[:i]) {
			return str[:i]
		}
	}

	// Fall back to rune-level truncation.
	var b strings.Builder
	for _, r := range str {
		if b.Len()+utf8.RuneLen(r) > maxBytes {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TruncateRunes right-truncates a string to at most maxRunes characters.
// Inference inputs are cut this way before they reach the model context.
func TruncateRunes(str string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(str) <= maxRunes {
		return str
	}
	runes := []rune(str)
	return string(runes[:maxRunes])
}

// SanitizeUTF8 removes invalid UTF-8 byte sequences from a string so it is
// safe for storage and display.
func SanitizeUTF8(str string) string {
	if utf8.ValidString(str) {
		return str
	}

	var buf strings.Builder
	buf.Grow(len(str))

	for len(str) > 0 {
		r, size := utf8.DecodeRuneInString(str)
		if r == utf8.RuneError && size == 1 {
			str = str[1:]
			continue
		}
		buf.WriteRune(r)
		str = str[size:]
	}

	return buf.String()
}

// CollapseBlankLines trims the content and squeezes runs of blank lines down
// to a single separator. A longer result is cut to maxLength bytes and gets a
// "..." marker appended.
func CollapseBlankLines(content string, maxLength int) string {
	content = strings.TrimSpace(content)

	lines := strings.Split(content, "\n")
	cleaned := make([]string, 0, len(lines))

	lastWasEmpty := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !lastWasEmpty {
				cleaned = append(cleaned, "")
			}
			lastWasEmpty = true
			continue
		}
		cleaned = append(cleaned, trimmed)
		lastWasEmpty = false
	}

	result := strings.Join(cleaned, "\n")
	if len(result) > maxLength {
		result = SafeUTF8Truncate(result, maxLength) + "..."
	}

	return SanitizeUTF8(result)
}
