// Package groupsio is a read-only client for the groups.io REST API.
package groupsio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://groups.io/api/v1"

const (
	defaultTimeout = 10 * time.Second
	// maxBodyBytes caps a single response body.
	maxBodyBytes = 16 << 20

	subsPageSize = 100
	maxSubsPages = 20
)

// Endpoints consumed by this client.
const (
	EndpointSubscriptions = "getsubs"
	EndpointGroup         = "getgroup"
	EndpointTopics        = "gettopics"
	EndpointTopic         = "gettopic"
)

// ErrRequest is returned for every failed call: transport error, timeout,
// non-2xx status or a body that is not the expected JSON.
var ErrRequest = errors.New("groupsio: request failed")

// Client issues authenticated GET requests. It never retries.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit paces requests to rps per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient creates a client for baseURL authenticated with apiKey.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request performs GET {baseURL}/{endpoint}?{params} and returns the raw JSON
// body. Any failure is logged and reported as ErrRequest.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	body, err := c.do(ctx, endpoint, params)
	if err != nil {
		logger.Warnf("[groupsio] %s %s: %v", endpoint, params.Encode(), err)
		return nil, fmt.Errorf("%w: %s: %v", ErrRequest, endpoint, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("malformed JSON body")
	}
	return body, nil
}

// get requests endpoint and decodes the body into v.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, v any) error {
	body, err := c.Request(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		logger.Warnf("[groupsio] %s: unexpected response shape: %v", endpoint, err)
		return fmt.Errorf("%w: %s: decode: %v", ErrRequest, endpoint, err)
	}
	return nil
}

// Subscriptions returns every group the caller is subscribed to, following
// pagination.
func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	pageToken := ""
	for page := 0; page < maxSubsPages; page++ {
		params := url.Values{"limit": {strconv.Itoa(subsPageSize)}}
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		var resp listResponse[Subscription]
		if err := c.get(ctx, EndpointSubscriptions, params, &resp); err != nil {
			return nil, err
		}
		subs = append(subs, resp.Data...)

		next := resp.NextPageToken.String()
		if !resp.HasMore || next == "" || next == "0" || next == pageToken {
			return subs, nil
		}
		pageToken = next
	}
	logger.Warnf("[groupsio] getsubs: stopped after %d pages", maxSubsPages)
	return subs, nil
}

// Group returns the detail record of one group.
func (c *Client) Group(ctx context.Context, groupID int64) (*GroupInfo, error) {
	var info GroupInfo
	params := url.Values{"group_id": {strconv.FormatInt(groupID, 10)}}
	if err := c.get(ctx, EndpointGroup, params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Topics returns up to limit most recent topics of a group.
func (c *Client) Topics(ctx context.Context, groupID int64, limit int) ([]Topic, error) {
	var resp listResponse[Topic]
	params := url.Values{
		"group_id": {strconv.FormatInt(groupID, 10)},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, EndpointTopics, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) > limit {
		resp.Data = resp.Data[:limit]
	}
	return resp.Data, nil
}

// TopicMessages returns the messages of a topic, first message first.
func (c *Client) TopicMessages(ctx context.Context, topicID int64) ([]Message, error) {
	var resp listResponse[Message]
	params := url.Values{"topic_id": {strconv.FormatInt(topicID, 10)}}
	if err := c.get(ctx, EndpointTopic, params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FirstMessageBody returns the HTML body of a topic's first message.
func (c *Client) FirstMessageBody(ctx context.Context, topicID int64) (string, error) {
	msgs, err := c.TopicMessages(ctx, topicID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("%w: %s: topic %d has no messages", ErrRequest, EndpointTopic, topicID)
	}
	return msgs[0].Body, nil
}
