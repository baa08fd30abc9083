// Package xapi is the HTTP client for the X API v2. It implements
// provider.Provider and reports x-rate-limit-* response headers to an
// observer so the gateway can account for platform quota.
package xapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.x.com"

// maxResponseBodySize caps how much of a response body is read.
const maxResponseBodySize = 10 * 1024 * 1024

// Endpoint names reported in errors and rate-limit observations. They are
// the keys the gateway's platform quota is tracked under.
const (
	EndpointGetTweet          = "get_tweet"
	EndpointGetUserByUsername = "get_user_by_username"
	EndpointGetUserByID       = "get_user_by_id"
	EndpointGetMe             = "get_me"
	EndpointSearch            = "search"
	EndpointMentions          = "mentions"
	EndpointHomeTimeline      = "home_timeline"
	EndpointUserTweets        = "user_tweets"
	EndpointFollowers         = "followers"
	EndpointFollowing         = "following"
	EndpointPost              = "post"
	EndpointDelete            = "delete"
	EndpointLike              = "like"
	EndpointUnlike            = "unlike"
	EndpointFollow            = "follow"
	EndpointUnfollow          = "unfollow"
	EndpointRetweet           = "retweet"
	EndpointUnretweet         = "unretweet"
	EndpointBookmark          = "bookmark"
	EndpointUnbookmark        = "unbookmark"
	EndpointUploadMedia       = "upload_media"
)

// Client calls the X API v2 with a user-context OAuth2 bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	observe    provider.RateLimitObserver
	now        func() time.Time
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimitObserver registers fn to receive parsed rate-limit headers.
func WithRateLimitObserver(fn provider.RateLimitObserver) ClientOption {
	return func(c *Client) {
		c.observe = fn
	}
}

// WithClock overrides the clock used to compute retry-after hints.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for baseURL. Requests are authorized with the
// current token from tokens; refreshing it is the token source's job.
func NewClient(baseURL string, tokens oauth2.TokenSource, logger *slog.Logger, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tokens: tokens,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call is one API request.
type call struct {
	endpoint    string
	method      string
	path        string
	query       url.Values
	body        any
	rawBody     io.Reader
	contentType string
}

// do sends req and decodes a successful JSON response into out (if non-nil).
// Every failure comes back as a *provider.Error.
func (c *Client) do(ctx context.Context, req call, out any) error {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	body := req.rawBody
	contentType := req.contentType
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return &provider.Error{Kind: provider.KindInvalidInput, Endpoint: req.endpoint, Message: "encode request body", Err: err}
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return &provider.Error{Kind: provider.KindUnknown, Endpoint: req.endpoint, Message: "build request", Err: err}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	tok, err := c.tokens.Token()
	if err != nil {
		return &provider.Error{Kind: provider.KindAuthExpired, Endpoint: req.endpoint, Message: "no usable access token", Err: err}
	}
	tok.SetAuthHeader(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, req.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return c.transportError(ctx, req.endpoint, err)
	}
	c.logger.Debug("x api call",
		"endpoint", req.endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	info, hasInfo := parseRateLimit(req.endpoint, resp.Header)
	if hasInfo && c.observe != nil {
		c.observe(info)
	}

	if resp.StatusCode >= 300 {
		return c.statusError(req.endpoint, resp, data, info, hasInfo)
	}
	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &provider.Error{Kind: provider.KindUnknown, Endpoint: req.endpoint, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	if pe := partialError(req.endpoint, out); pe != nil {
		return pe
	}
	return nil
}

// transportError maps a failure below HTTP to a network error. A canceled
// context keeps its error in the chain so callers can tell it apart.
func (c *Client) transportError(ctx context.Context, endpoint string, err error) error {
	pe := &provider.Error{Kind: provider.KindNetwork, Endpoint: endpoint, Message: "request failed", Err: err}
	if ctxErr := ctx.Err(); ctxErr != nil {
		pe.Err = errors.Join(ctxErr, err)
		return pe
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		pe.Message = "request timed out"
	}
	return pe
}

// statusError classifies a non-2xx response.
func (c *Client) statusError(endpoint string, resp *http.Response, body []byte, info provider.RateLimitInfo, hasInfo bool) *provider.Error {
	pe := &provider.Error{Endpoint: endpoint, Status: resp.StatusCode, Message: problemMessage(body, resp.Status)}
	switch s := resp.StatusCode; {
	case s == http.StatusTooManyRequests:
		pe.Kind = provider.KindRateLimited
		pe.RetryAfter = c.retryAfter(resp.Header, info, hasInfo)
	case s == http.StatusUnauthorized:
		pe.Kind = provider.KindAuthExpired
	case s == http.StatusForbidden:
		pe.Kind = provider.KindForbidden
	case s == http.StatusNotFound:
		pe.Kind = provider.KindNotFound
	case s == http.StatusRequestEntityTooLarge:
		pe.Kind = provider.KindPayloadTooLarge
	case s == http.StatusUnsupportedMediaType:
		pe.Kind = provider.KindUnsupportedMedia
	case s == http.StatusBadRequest || s == http.StatusUnprocessableEntity:
		pe.Kind = provider.KindInvalidInput
	case s >= 500:
		pe.Kind = provider.KindNetwork
	default:
		pe.Kind = provider.KindUnknown
	}
	return pe
}

// retryAfter prefers the Retry-After header, then the rate-limit reset time.
func (c *Client) retryAfter(h http.Header, info provider.RateLimitInfo, hasInfo bool) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if hasInfo && !info.Reset.IsZero() {
		if d := info.Reset.Sub(c.now()); d > 0 {
			return d
		}
	}
	return time.Minute
}

// parseRateLimit reads the x-rate-limit-* headers. It reports false when the
// response does not carry them.
func parseRateLimit(endpoint string, h http.Header) (provider.RateLimitInfo, bool) {
	limit, errL := strconv.Atoi(h.Get("x-rate-limit-limit"))
	remaining, errR := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	reset, errT := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if errL != nil || errR != nil || errT != nil {
		return provider.RateLimitInfo{}, false
	}
	return provider.RateLimitInfo{
		Endpoint:  endpoint,
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0).UTC(),
	}, true
}

// problemMessage extracts a readable message from an error body. The API
// answers with either a problem document or an errors array.
func problemMessage(body []byte, fallback string) string {
	var p struct {
		Title  string     `json:"title"`
		Detail string     `json:"detail"`
		Errors []apiError `json:"errors"`
	}
	if json.Unmarshal(body, &p) != nil {
		return fallback
	}
	switch {
	case p.Detail != "":
		return p.Detail
	case len(p.Errors) > 0 && p.Errors[0].Message != "":
		return p.Errors[0].Message
	case len(p.Errors) > 0 && p.Errors[0].Detail != "":
		return p.Errors[0].Detail
	case p.Title != "":
		return p.Title
	}
	return fallback
}

// partialError reports a 200 response that carries only errors, which is how
// the API answers lookups of deleted or protected resources.
func partialError(endpoint string, out any) *provider.Error {
	env, ok := out.(interface{ apiErrors() ([]apiError, bool) })
	if !ok {
		return nil
	}
	errs, hasData := env.apiErrors()
	if hasData || len(errs) == 0 {
		return nil
	}
	e := errs[0]
	pe := &provider.Error{Endpoint: endpoint, Status: http.StatusOK, Message: fmt.Sprintf("%s: %s", e.Title, e.Detail)}
	switch {
	case strings.Contains(e.Type, "resource-not-found"):
		pe.Kind = provider.KindNotFound
	case strings.Contains(e.Type, "not-authorized"):
		pe.Kind = provider.KindForbidden
	default:
		pe.Kind = provider.KindUnknown
	}
	return pe
}

var _ provider.Provider = (*Client)(nil)
