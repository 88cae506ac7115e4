package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/cache"
	"github.com/bryan-buckman/groupsfeed/internal/groups"
	"github.com/bryan-buckman/groupsfeed/internal/groupsio"
	"github.com/bryan-buckman/groupsfeed/internal/groupsio/groupsiotest"
	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
	"github.com/bryan-buckman/groupsfeed/internal/rss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetNop()
	os.Exit(m.Run())
}

type stubCache struct {
	doc      *model.Document
	err      error
	status   cache.Status
	triggers atomic.Int32
}

func (s *stubCache) Feed(context.Context) (*model.Document, error) { return s.doc, s.err }

func (s *stubCache) TriggerRefresh() bool {
	return s.triggers.Add(1) == 1
}

func (s *stubCache) Status() cache.Status { return s.status }

func newTestServer(t *testing.T, c FeedCache) *Server {
	t.Helper()
	s, err := New(c, ":0", "Test Feed")
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestFeed_ServesCachedDocument(t *testing.T) {
	generated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &stubCache{doc: &model.Document{ID: "g1", XML: []byte("<rss/>"), GeneratedAt: generated}}
	s := newTestServer(t, c)

	rec := do(s, http.MethodGet, "/feed.xml")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rssContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "Wed, 01 May 2024 12:00:00 GMT", rec.Header().Get("Last-Modified"))
	assert.Equal(t, "<rss/>", rec.Body.String())
}

func TestFeed_Error(t *testing.T) {
	s := newTestServer(t, &stubCache{err: errors.New("render failed")})

	rec := do(s, http.MethodGet, "/feed.xml")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefresh_AcknowledgesImmediately(t *testing.T) {
	c := &stubCache{}
	s := newTestServer(t, c)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := do(s, method, "/refresh")
		assert.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "refreshing", body["status"])
		assert.Equal(t, "Feed refresh started in background", body["message"])
	}
	assert.Equal(t, int32(2), c.triggers.Load())
}

func TestStatus(t *testing.T) {
	c := &stubCache{status: cache.Status{
		Cached:          true,
		LastUpdated:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		GenerationID:    "g1",
		Topics:          42,
		RefreshInterval: 30 * time.Minute,
	}}
	s := newTestServer(t, c)

	rec := do(s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, true, body["feed_cached"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["last_updated"])
	assert.Equal(t, float64(30), body["refresh_interval_minutes"])
	assert.Equal(t, "g1", body["generation_id"])
	assert.Equal(t, float64(42), body["topics"])
	assert.NotContains(t, body, "last_error")
}

func TestStatus_Empty(t *testing.T) {
	s := newTestServer(t, &stubCache{status: cache.Status{RefreshInterval: time.Hour, LastError: "boom"}})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(do(s, http.MethodGet, "/status").Body.Bytes(), &body))
	assert.Equal(t, false, body["feed_cached"])
	assert.Contains(t, body, "last_updated")
	assert.Nil(t, body["last_updated"])
	assert.Equal(t, float64(60), body["refresh_interval_minutes"])
	assert.Equal(t, "boom", body["last_error"])
}

func TestHome(t *testing.T) {
	s := newTestServer(t, &stubCache{status: cache.Status{
		Cached:          true,
		LastUpdated:     time.Now().Add(-5 * time.Minute),
		Topics:          7,
		RefreshInterval: 30 * time.Minute,
	}})

	rec := do(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Test Feed</title>")
	assert.Contains(t, body, "5m ago")
	assert.Contains(t, body, "7 topics")
	assert.Contains(t, body, `href="/feed.xml"`)
}

func TestHome_NeverUpdated(t *testing.T) {
	s := newTestServer(t, &stubCache{status: cache.Status{RefreshInterval: 30 * time.Minute}})

	body := do(s, http.MethodGet, "/").Body.String()
	assert.Contains(t, body, "Last updated: Never")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, &stubCache{})
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodPost, "/feed.xml").Code)
}

func TestTimeAgo(t *testing.T) {
	assert.Equal(t, "just now", timeAgo(time.Now()))
	assert.Equal(t, "3h ago", timeAgo(time.Now().Add(-3*time.Hour-time.Minute)))
	assert.Equal(t, "2d ago", timeAgo(time.Now().Add(-49*time.Hour)))
}

func TestEndToEnd(t *testing.T) {
	fake := groupsiotest.NewServer()
	defer fake.Close()
	fake.AddGroup(groupsio.Subscription{
		GroupID: 1, GroupName: "psp+Classifieds", NiceGroupName: "Classifieds",
		Perms: groupsio.Perms{ArchivesVisible: true},
	}, "https://groups.example.com/g/Classifieds")
	fake.SetTopics(1,
		groupsio.Topic{ID: 10, Subject: "Crib", Name: "Dee", NumMessages: 2, Updated: "2024-04-01T00:00:00Z", Created: "2024-03-01T00:00:00Z"},
	)
	fake.SetBody(10, "<p>Crib for sale</p>")

	client := fake.Client()
	gen := rss.NewGenerator(groups.NewResolver(client), client, rss.Options{
		Meta:           model.FeedMeta{Title: "All Groups", Link: "https://groups.example.com", Description: "d"},
		TopicsPerGroup: 10,
		FetchFullBody:  true,
		Concurrency:    1,
	})
	ctrl := cache.New(gen, time.Hour)
	defer ctrl.Stop()

	s := newTestServer(t, ctrl)

	rec := do(s, http.MethodGet, "/feed.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	parsed, err := rss.Validate(rec.Body.Bytes(), 1)
	require.NoError(t, err)
	assert.Equal(t, "[psp+Classifieds] Crib", parsed.Items[0].Title)
	assert.Equal(t, "https://groups.example.com/g/Classifieds/topic/10", parsed.Items[0].Link)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(do(s, http.MethodGet, "/status").Body.Bytes(), &status))
	assert.Equal(t, true, status["feed_cached"])
	assert.Equal(t, float64(1), status["topics"])

	fake.SetTopics(1,
		groupsio.Topic{ID: 10, Subject: "Crib", Name: "Dee", Updated: "2024-04-01T00:00:00Z"},
		groupsio.Topic{ID: 11, Subject: "Stroller", Name: "Eve", Updated: "2024-04-02T00:00:00Z"},
	)
	do(s, http.MethodPost, "/refresh")
	require.Eventually(t, func() bool {
		return ctrl.Current() != nil && ctrl.Current().Topics == 2
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(s, http.MethodGet, "/feed.xml")
	assert.True(t, strings.Contains(rec.Body.String(), "Stroller"))
}

func TestEndToEnd_ColdStartFailureServesEmptyFeed(t *testing.T) {
	fake := groupsiotest.NewServer()
	defer fake.Close()
	fake.Fail(groupsio.EndpointSubscriptions, true)

	client := fake.Client()
	gen := rss.NewGenerator(groups.NewResolver(client), client, rss.Options{
		Meta:           model.FeedMeta{Title: "All Groups", Link: "https://groups.example.com", Description: "d"},
		TopicsPerGroup: 10,
		Concurrency:    1,
	})
	ctrl := cache.New(gen, time.Hour)
	defer ctrl.Stop()
	s := newTestServer(t, ctrl)

	rec := do(s, http.MethodGet, "/feed.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := rss.Validate(rec.Body.Bytes(), 0)
	require.NoError(t, err)
	assert.Nil(t, ctrl.Current())
}
