package rss

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed"
)

// Validate parses doc back as a feed and checks it is RSS with wantItems
// items. A negative wantItems skips the count check.
func Validate(doc []byte, wantItems int) (*gofeed.Feed, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse rendered feed: %w", err)
	}
	if parsed.FeedType != "rss" {
		return nil, fmt.Errorf("rendered feed type %q, want rss", parsed.FeedType)
	}
	if wantItems >= 0 && len(parsed.Items) != wantItems {
		return nil, fmt.Errorf("rendered feed has %d items, want %d", len(parsed.Items), wantItems)
	}
	return parsed, nil
}
