// Package groupsiotest provides an in-process fake of the groups.io API.
package groupsiotest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/bryan-buckman/groupsfeed/internal/groupsio"
)

// APIKey is the bearer token the fake accepts.
const APIKey = "test-key"

// Server serves getsubs, getgroup, gettopics and gettopic from in-memory
// fixtures. Fixtures may be changed while the server runs.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	subs      []groupsio.Subscription
	groupURLs map[int64]string
	topics    map[int64][]groupsio.Topic
	bodies    map[int64]string
	failing   map[string]bool
	failIDs   map[string]map[int64]bool
	calls     map[string]int
	subsPage  int
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		groupURLs: make(map[int64]string),
		topics:    make(map[int64][]groupsio.Topic),
		bodies:    make(map[int64]string),
		failing:   make(map[string]bool),
		failIDs:   make(map[string]map[int64]bool),
		calls:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Client returns a groupsio client pointed at the fake.
func (s *Server) Client(opts ...groupsio.Option) *groupsio.Client {
	return groupsio.NewClient(s.URL, APIKey, opts...)
}

// AddGroup registers a subscription and its canonical URL ("" for none).
func (s *Server) AddGroup(sub groupsio.Subscription, groupURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	if groupURL != "" {
		s.groupURLs[sub.GroupID] = groupURL
	}
}

// SetTopics replaces the topics of a group, most recent first.
func (s *Server) SetTopics(groupID int64, topics ...groupsio.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[groupID] = topics
}

// SetBody sets the first-message body of a topic.
func (s *Server) SetBody(topicID int64, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[topicID] = body
}

// SetSubsPageSize enables getsubs pagination with n entries per page.
func (s *Server) SetSubsPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsPage = n
}

// Fail makes every call to endpoint return HTTP 500 while fail is true.
func (s *Server) Fail(endpoint string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[endpoint] = fail
}

// FailID makes calls to endpoint for one group or topic id return HTTP 500.
func (s *Server) FailID(endpoint string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[endpoint] == nil {
		s.failIDs[endpoint] = make(map[int64]bool)
	}
	s.failIDs[endpoint][id] = true
}

// Calls returns how many requests endpoint has received.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++

	if r.Header.Get("Authorization") != "Bearer "+APIKey {
		http.Error(w, `{"object":"error","type":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if s.failing[endpoint] {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	id := func(key string) int64 {
		v, _ := strconv.ParseInt(q.Get(key), 10, 64)
		return v
	}

	switch endpoint {
	case groupsio.EndpointSubscriptions:
		s.writeSubs(w, q.Get("page_token"))
	case groupsio.EndpointGroup:
		gid := id("group_id")
		u, ok := s.groupURLs[gid]
		if !ok || s.failIDs[endpoint][gid] {
			http.Error(w, `{"object":"error","type":"inadequate_permissions"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, groupsio.GroupInfo{ID: gid, GroupURL: u})
	case groupsio.EndpointTopics:
		gid := id("group_id")
		if s.failIDs[endpoint][gid] {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		topics := s.topics[gid]
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit < len(topics) {
			topics = topics[:limit]
		}
		writeJSON(w, map[string]any{"object": "list", "data": nonNil(topics)})
	case groupsio.EndpointTopic:
		tid := id("topic_id")
		body, ok := s.bodies[tid]
		if !ok || s.failIDs[endpoint][tid] {
			http.Error(w, "no such topic", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"object": "list",
			"data":   []groupsio.Message{{ID: tid * 10, Body: body}},
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeSubs(w http.ResponseWriter, pageToken string) {
	subs := s.subs
	if s.subsPage <= 0 {
		writeJSON(w, map[string]any{"object": "list", "data": nonNil(subs)})
		return
	}
	start, _ := strconv.Atoi(pageToken)
	if start > len(subs) {
		start = len(subs)
	}
	end := start + s.subsPage
	if end > len(subs) {
		end = len(subs)
	}
	resp := map[string]any{
		"object":   "list",
		"data":     nonNil(subs[start:end]),
		"has_more": end < len(subs),
	}
	if end < len(subs) {
		resp["next_page_token"] = end
	}
	writeJSON(w, resp)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
