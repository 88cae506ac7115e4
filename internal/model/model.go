// Package model defines shared data structures.
package model

import "time"

// Group is a subscribed mailing-list group.
type Group struct {
	ID              int64
	Name            string // e.g. "parkslopeparents+Advice"
	NiceName        string
	ArchivesVisible bool
}

// Topic is one discussion thread, stamped with the group it came from.
type Topic struct {
	ID             int64
	Subject        string
	Summary        string // HTML
	FullBody       string // HTML, empty if not fetched
	AuthorName     string
	NumMessages    int
	HasAttachments bool
	UpdatedAt      string // ISO-8601, may be empty
	CreatedAt      string // ISO-8601
	GroupID        int64
	GroupName      string
}

// HasFullBody reports whether the first message body was fetched.
func (t Topic) HasFullBody() bool {
	return t.FullBody != ""
}

// FeedMeta describes the channel of the rendered feed.
type FeedMeta struct {
	Title       string
	Link        string // site root, no trailing slash
	Description string
}

// SelfLink is the URL the feed is served from.
func (m FeedMeta) SelfLink() string {
	return m.Link + "/feed.xml"
}

// Document is one rendered feed. It is never mutated after creation.
type Document struct {
	ID          string
	XML         []byte
	GeneratedAt time.Time
	Topics      int
}
