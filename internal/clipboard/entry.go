// Package clipboard watches the system clipboard and keeps a bounded,
// persisted history of copied text.
package clipboard

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Content types assigned by detectContentType.
const (
	TypeText  = "text"
	TypeURL   = "url"
	TypeEmail = "email"
	TypePhone = "phone"
)

const (
	previewLimit = 100
	previewKeep  = 97
)

// Entry is one clipboard history item. The JSON layout is shared with
// history files written by earlier desktop builds.
type Entry struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	OriginalContent string    `json:"original_content"`
	IsCleaned       bool      `json:"is_cleaned"`
	Timestamp       time.Time `json:"timestamp"`
	CharCount       int       `json:"char_count"`
	LineCount       int       `json:"line_count"`
	HasFormatting   bool      `json:"has_formatting"`
	ContentType     string    `json:"content_type"`
	Preview         string    `json:"preview"`
}

// NewEntry builds an entry for content. original defaults to content when empty.
func NewEntry(content string, isCleaned bool, original string) Entry {
	if original == "" {
		original = content
	}
	return Entry{
		ID:              uuid.NewString(),
		Content:         content,
		OriginalContent: original,
		IsCleaned:       isCleaned,
		Timestamp:       time.Now().UTC(),
		CharCount:       utf8.RuneCountInString(content),
		LineCount:       countLines(content),
		HasFormatting:   hasFormatting(content),
		ContentType:     detectContentType(content),
		Preview:         preview(content),
	}
}

// MatchesSearch reports whether query occurs in the content or the content type, ignoring case.
func (e Entry) MatchesSearch(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(e.Content), q) ||
		strings.Contains(strings.ToLower(e.ContentType), q)
}

func detectContentType(content string) string {
	switch {
	case strings.HasPrefix(content, "http://"), strings.HasPrefix(content, "https://"):
		return TypeURL
	case strings.Contains(content, "@") && strings.Contains(content, ".") && !strings.Contains(content, "\n"):
		return TypeEmail
	case isPhoneLike(content):
		return TypePhone
	default:
		return TypeText
	}
}

func isPhoneLike(content string) bool {
	for _, r := range content {
		if unicode.IsNumber(r) || unicode.IsSpace(r) || strings.ContainsRune("-+().", r) {
			continue
		}
		return false
	}
	return true
}

func hasFormatting(content string) bool {
	for _, r := range content {
		if r != ' ' && unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// countLines counts lines the way a line iterator does: a trailing newline
// does not open another line.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewKeep]) + "..."
}
