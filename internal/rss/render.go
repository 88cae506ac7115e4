package rss

import (
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/groups"
	"github.com/bryan-buckman/groupsfeed/internal/model"
)

const (
	atomNamespace = "http://www.w3.org/2005/Atom"
	feedLanguage  = "en-us"
	rssMediaType  = "application/rss+xml"

	fullPreviewLen    = 200
	summaryPreviewLen = 500
)

// Document is the root of an RSS 2.0 document.
type Document struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	AtomNS  string   `xml:"xmlns:atom,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel holds feed metadata and items.
type Channel struct {
	Title         string   `xml:"title"`
	Link          string   `xml:"link"`
	Description   string   `xml:"description"`
	Language      string   `xml:"language"`
	LastBuildDate string   `xml:"lastBuildDate"`
	AtomLink      AtomLink `xml:"atom:link"`
	Items         []Item   `xml:"item"`
}

// AtomLink is the self reference of the channel.
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// Item is one topic.
type Item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        GUID   `xml:"guid"`
	Author      string `xml:"author"`
	Category    string `xml:"category"`
}

// GUID is the item identifier.
type GUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// AliasLookup returns the memoized URL alias of a group.
type AliasLookup interface {
	Alias(groupID int64) (string, bool)
}

// Renderer turns topics into RSS 2.0 XML.
type Renderer struct {
	meta    model.FeedMeta
	aliases AliasLookup
	now     func() time.Time
}

// NewRenderer creates a renderer. aliases may be nil.
func NewRenderer(meta model.FeedMeta, aliases AliasLookup) *Renderer {
	return &Renderer{
		meta:    meta,
		aliases: aliases,
		now:     time.Now,
	}
}

// Render produces the feed with one item per topic, in the given order.
func (r *Renderer) Render(topics []model.Topic) ([]byte, error) {
	now := r.now()

	doc := Document{
		Version: "2.0",
		AtomNS:  atomNamespace,
		Channel: Channel{
			Title:         r.meta.Title,
			Link:          r.meta.Link,
			Description:   r.meta.Description,
			Language:      feedLanguage,
			LastBuildDate: formatRFC822(now),
			AtomLink: AtomLink{
				Href: r.meta.SelfLink(),
				Rel:  "self",
				Type: rssMediaType,
			},
			Items: make([]Item, 0, len(topics)),
		},
	}

	for _, t := range topics {
		link := r.TopicLink(t)
		doc.Channel.Items = append(doc.Channel.Items, Item{
			Title:       fmt.Sprintf("[%s] %s", t.GroupName, t.Subject),
			Link:        link,
			Description: describe(t),
			PubDate:     formatRFC822(ResolveUpdatedTime(t, now)),
			GUID:        GUID{IsPermaLink: "true", Value: link},
			Author:      ResolveAuthorName(t),
			Category:    t.GroupName,
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// TopicLink is the public web address of a topic.
func (r *Renderer) TopicLink(t model.Topic) string {
	alias := ""
	if r.aliases != nil {
		alias, _ = r.aliases.Alias(t.GroupID)
	}
	if alias == "" {
		alias = groups.FallbackAlias(t.GroupName)
	}
	return r.meta.Link + "/g/" + alias + "/topic/" + strconv.FormatInt(t.ID, 10)
}

// describe builds the item description. With a full body it is HTML with a
// collapsible message, otherwise plain text from the summary.
func describe(t model.Topic) string {
	author := ResolveAuthorName(t)
	summary := HTMLToText(t.Summary)

	var b strings.Builder
	if t.HasFullBody() {
		b.WriteString("<p><em>Posted by ")
		b.WriteString(html.EscapeString(author))
		if t.NumMessages > 1 {
			fmt.Fprintf(&b, " • %d replies", t.NumMessages)
		}
		if t.HasAttachments {
			b.WriteString(" • 📎 Attachments")
		}
		b.WriteString("</em></p>")
		b.WriteString("<p><strong>Preview:</strong> ")
		b.WriteString(html.EscapeString(truncate(summary, fullPreviewLen)))
		b.WriteString("</p>")
		b.WriteString("<details><summary><strong>▶ Read full message</strong></summary><hr>")
		b.WriteString(t.FullBody)
		b.WriteString("</details>")
		return b.String()
	}

	b.WriteString(truncate(summary, summaryPreviewLen))
	fmt.Fprintf(&b, "\n\nPosted by: %s\nMessages: %d", author, t.NumMessages)
	if t.HasAttachments {
		b.WriteString("\nHas attachments")
	}
	return b.String()
}
