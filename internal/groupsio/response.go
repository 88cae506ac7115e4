package groupsio

import "encoding/json"

// listResponse is the envelope of every list endpoint.
type listResponse[T any] struct {
	Object        string      `json:"object"`
	TotalCount    int         `json:"total_count"`
	HasMore       bool        `json:"has_more"`
	NextPageToken json.Number `json:"next_page_token"`
	Data          []T         `json:"data"`
}

// Perms is the subset of member permissions we care about.
type Perms struct {
	ArchivesVisible bool `json:"archives_visible"`
}

// Subscription is one entry of getsubs.
type Subscription struct {
	GroupID       int64  `json:"group_id"`
	GroupName     string `json:"group_name"`
	NiceGroupName string `json:"nice_group_name"`
	Perms         Perms  `json:"perms"`
}

// GroupInfo is the getgroup response.
type GroupInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	GroupURL string `json:"group_url"`
}

// Topic is one entry of gettopics.
type Topic struct {
	ID             int64  `json:"id"`
	Subject        string `json:"subject"`
	Summary        string `json:"summary"`
	Name           string `json:"name"`
	NumMessages    int    `json:"num_messages"`
	HasAttachments bool   `json:"has_attachments"`
	Updated        string `json:"updated,omitempty"`
	Created        string `json:"created"`
}

// Message is one entry of gettopic.
type Message struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}
