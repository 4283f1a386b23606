package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/telemetry"
)

// RefreshPath is the backend endpoint that mints a new access token from the
// refresh cookie. A 401 from it is always terminal.
const RefreshPath = "/api/auth/refresh"

// RequestIDHeader correlates a request with its retry in backend logs.
const RequestIDHeader = "X-Request-ID"

const (
	refreshFlightKey      = "refresh"
	defaultRefreshTimeout = 30 * time.Second
)

// TokenStore is the holder of the current access token.
type TokenStore interface {
	Get() string
	Set(token string)
}

// Refresher obtains a fresh access token, normally by calling the refresh
// endpoint. It is called at most once at a time per Client.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
}

// State is the refresh protocol state.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRefreshing:
		return "REFRESHING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request describes one API call relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// NoRefresh makes a 401 terminal instead of starting a refresh.
	NoRefresh bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the http.Client used to send requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRefresher sets the refresher used when a request receives a 401.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithRefreshTimeout bounds a refresh call. The refresh runs detached from
// the cancellation of the request that started it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// WithSessionInvalidated registers a hook called once per failed refresh,
// before any waiting request is released. Hooks must not issue requests
// through the same Client.
func WithSessionInvalidated(fn func(error)) Option {
	return func(c *Client) { c.invalidated = append(c.invalidated, fn) }
}

// Client sends API requests with bearer authentication and resolves expired
// access tokens by refreshing once and retrying the original request.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	tokens         TokenStore
	refreshTimeout time.Duration
	metrics        *telemetry.Metrics

	mu          sync.RWMutex
	refresher   Refresher
	invalidated []func(error)

	flights singleflight.Group
	state   atomic.Int32
}

// New creates a client for the backend at baseURL.
func New(baseURL string, tokens TokenStore, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:        u,
		http:           http.DefaultClient,
		tokens:         tokens,
		refreshTimeout: defaultRefreshTimeout,
		metrics:        telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// UseRefresher sets the refresher after construction. The session layer is
// built on top of the client, so it can only be attached once both exist.
func (c *Client) UseRefresher(r Refresher) {
	c.mu.Lock()
	c.refresher = r
	c.mu.Unlock()
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// State returns the current refresh protocol state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// call is one logical request, shared between the first attempt and its retry.
type call struct {
	req       *Request
	url       string
	body      []byte
	requestID string
	retry     bool
}

// Do sends req and decodes a 2xx JSON response into out, which may be nil.
//
// Errors are *apierror.AuthError, *apierror.RequestError,
// *apierror.NetworkError, or match apierror.ErrCanceled.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	cl, err := c.newCall(req)
	if err != nil {
		return err
	}

	token := c.tokens.Get()
	resp, err := c.send(ctx, cl, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp, err = c.handleUnauthorized(ctx, cl, token, resp)
		if err != nil {
			return err
		}
	}

	return decode(ctx, resp, out)
}

// handleUnauthorized runs the refresh protocol for a 401 response and returns
// the response of the single retry.
func (c *Client) handleUnauthorized(ctx context.Context, cl *call, sent string, resp *http.Response) (*http.Response, error) {
	reqErr := apierror.FromResponse(resp)
	_ = resp.Body.Close()

	c.mu.RLock()
	refresher := c.refresher
	c.mu.RUnlock()

	switch {
	case cl.req.NoRefresh || isRefreshPath(cl.req.Path) || refresher == nil:
		return nil, &apierror.AuthError{StatusCode: reqErr.StatusCode, Message: reqErr.Message}
	case cl.retry:
		log.Debug().
			Str("request_id", cl.requestID).
			Str("path", cl.req.Path).
			Msg("retried request rejected again, giving up")
		return nil, reqErr
	}

	token := c.tokens.Get()
	if token == "" || token == sent {
		var err error
		token, err = c.refresh(ctx, refresher)
		if err != nil {
			return nil, err
		}
	} else {
		log.Debug().
			Str("request_id", cl.requestID).
			Msg("access token already replaced, retrying without refresh")
	}

	cl.retry = true
	c.metrics.RequestRetriesTotal.Add(ctx, 1)

	retried, err := c.send(ctx, cl, token)
	if err != nil {
		return nil, err
	}
	if retried.StatusCode == http.StatusUnauthorized {
		return c.handleUnauthorized(ctx, cl, token, retried)
	}

	return retried, nil
}

// refresh joins the in-flight refresh or starts one. Every caller joined to a
// flight observes the same token or the same error.
func (c *Client) refresh(ctx context.Context, refresher Refresher) (string, error) {
	ch := c.flights.DoChan(refreshFlightKey, func() (any, error) {
		return c.runRefresh(context.WithoutCancel(ctx), refresher)
	})

	select {
	case <-ctx.Done():
		return "", apierror.Canceled(ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.metrics.RefreshWaitersTotal.Add(ctx, 1)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) runRefresh(ctx context.Context, refresher Refresher) (string, error) {
	c.state.Store(int32(StateRefreshing))
	c.metrics.RefreshTotal.Add(ctx, 1)

	if c.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
		defer cancel()
	}

	started := time.Now()
	token, err := refresher.RefreshAccessToken(ctx)
	if err == nil && token == "" {
		err = &apierror.AuthError{StatusCode: http.StatusUnauthorized, Message: "refresh returned no access token"}
	}

	if err != nil {
		c.tokens.Set("")
		c.state.Store(int32(StateError))
		c.metrics.RefreshFailuresTotal.Add(ctx, 1)

		log.Debug().Err(err).Dur("duration", time.Since(started)).Msg("access token refresh failed")

		c.mu.RLock()
		hooks := append([]func(error){}, c.invalidated...)
		c.mu.RUnlock()
		for _, fn := range hooks {
			fn(err)
		}

		return "", err
	}

	c.tokens.Set(token)
	c.state.Store(int32(StateIdle))

	log.Debug().Dur("duration", time.Since(started)).Msg("access token refreshed")

	return token, nil
}

func (c *Client) newCall(req *Request) (*call, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	cl := &call{
		req:       req,
		url:       u.String(),
		requestID: uuid.NewString(),
	}

	if req.Body != nil {
		body, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		cl.body = body
	}

	return cl, nil
}

func (c *Client) send(ctx context.Context, cl *call, token string) (*http.Response, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, cl.req.Method, cl.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, cl.requestID)
	if cl.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	attrs := metric.WithAttributes(attribute.String("method", cl.req.Method))
	started := time.Now()

	resp, err := c.http.Do(httpReq)
	c.metrics.RequestsTotal.Add(ctx, 1, attrs)
	c.metrics.RequestDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, apierror.Canceled(ctx.Err())
		}
		c.metrics.RequestErrorsTotal.Add(ctx, 1, attrs)
		return nil, &apierror.NetworkError{Method: cl.req.Method, URL: cl.url, Err: err}
	}

	return resp, nil
}

func decode(ctx context.Context, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierror.FromResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return apierror.Canceled(ctx.Err())
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func isRefreshPath(p string) bool {
	return path.Clean("/"+p) == RefreshPath
}
