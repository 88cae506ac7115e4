package rss

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryan-buckman/groupsfeed/internal/model"
)

// UnknownAuthor is shown when a topic has no author name.
const UnknownAuthor = "Unknown"

var (
	tagRe = regexp.MustCompile(`<[^>]+>`)

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// HTMLToText strips tags and decodes the five standard entities.
func HTMLToText(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	return strings.TrimSpace(s)
}

// truncate cuts s to maxLen runes and appends "..." when it was longer.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

// timeLayouts are tried in order. Fractional seconds of any precision are
// accepted after the seconds field by time.Parse.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTime parses an ISO-8601 timestamp. Times without a zone are UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ResolveUpdatedTime is the recency of a topic: updated_at, else created_at,
// else now. It is both the sort key and the pubDate.
func ResolveUpdatedTime(t model.Topic, now time.Time) time.Time {
	if ts, ok := ParseTime(t.UpdatedAt); ok {
		return ts
	}
	if ts, ok := ParseTime(t.CreatedAt); ok {
		return ts
	}
	return now
}

// ResolveAuthorName is the topic author, or UnknownAuthor.
func ResolveAuthorName(t model.Topic) string {
	if name := strings.TrimSpace(t.AuthorName); name != "" {
		return name
	}
	return UnknownAuthor
}

// formatRFC822 formats t the way RSS 2.0 date elements expect.
func formatRFC822(t time.Time) string {
	return t.Format(time.RFC1123Z)
}
