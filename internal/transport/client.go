package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/safety"
)

// Request describes one API call. Path is relative to the versioned API root,
// e.g. "/content_types". A non-nil Body is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Version        string
	UserAgent      string
	APIKey         string
	AccessToken    string
	MaxAttempts    int           // total attempts for 429/5xx, 0 defaults to 5
	BaseDelay      time.Duration // 0 defaults to 100ms
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Client issues authenticated API calls and retries rate-limited and
// server-side failures with exponential backoff.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	version     string
	logger      *slog.Logger
	userAgent   string
	maxAttempts int
	baseDelay   time.Duration
	maxBody     int64

	headerMu sync.RWMutex
	header   http.Header

	// newBackOff builds the delay schedule for one call; tests swap in a
	// zero-delay schedule.
	newBackOff func() backoff.BackOff
	// onRetry is invoked before each retry sleep.
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewClient creates a new API client with the given logger.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := safety.ValidateAPIHost(opts.BaseURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "transport.new", err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "stacksync/0.1.0"
	}

	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("api_key", opts.APIKey)
	}
	if opts.AccessToken != "" {
		header.Set("access_token", opts.AccessToken)
	}
	header.Set("X-User-Agent", opts.UserAgent)

	c := &Client{
		httpClient:  safety.NewHTTPClient(opts.RequestTimeout),
		baseURL:     base,
		version:     strings.Trim(opts.Version, "/"),
		logger:      logger,
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxBody:     opts.MaxBodyBytes,
		header:      header,
	}
	c.newBackOff = func() backoff.BackOff { return NewRetryBackOff(c.baseDelay) }
	return c, nil
}

// SetHeader sets a header sent with every subsequent call, e.g. a session
// authtoken obtained after login. An empty value removes the header.
func (c *Client) SetHeader(key, value string) {
	c.headerMu.Lock()
	defer c.headerMu.Unlock()
	if value == "" {
		c.header.Del(key)
		return
	}
	c.header.Set(key, value)
}

// MaxAttempts returns the retry ceiling for transient failures.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}

// NewRetryBackOff returns the delay schedule base*sqrt(2)^attempt for
// attempt = 1, 2, ... with no jitter and no elapsed-time cap. The attempt
// ceiling is applied separately by the caller.
func NewRetryBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(float64(base) * math.Sqrt2)
	b.Multiplier = math.Sqrt2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Call performs the request. 2xx/3xx responses are returned; 429 and 5xx are
// retried up to the attempt ceiling; everything else fails immediately.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	op := fmt.Sprintf("%s %s", methodOf(req), req.Path)

	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUpstreamPermanent, op, fmt.Errorf("encoding request body: %w", err))
		}
		payload = data
	}

	attempts := 0
	var resp *Response
	operation := func() error {
		attempts++
		r, err := c.attempt(ctx, req, payload)
		if err == nil {
			r.Attempts = attempts
			resp = r
			return nil
		}
		err = classify(op, err)
		if apperr.IsRetryable(err) {
			c.logger.Warn("transient api failure", "op", op, "attempt", attempts, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, schedule, func(err error, delay time.Duration) {
		c.logger.Debug("retrying api call", "op", op, "attempt", attempts, "delay", delay)
		if c.onRetry != nil {
			c.onRetry(attempts, delay, err)
		}
	})
	if err == nil {
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperr.Wrap(apperr.CodeCancelled, op, ctxErr)
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Transient():
			return nil, &apperr.Error{
				Code:    apperr.CodeMaxRetriesExceeded,
				Op:      op,
				Message: fmt.Sprintf("giving up after %d attempts", attempts),
				Err:     httpErr,
			}
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return nil, apperr.Wrap(apperr.CodeAuth, op, httpErr)
		default:
			return nil, apperr.Wrap(apperr.CodeUpstreamPermanent, op, httpErr)
		}
	}
	if apperr.CodeOf(err) != "" {
		return nil, err
	}
	return nil, apperr.Wrap(apperr.CodeUpstream, op, err)
}

// classify marks rate-limited and server-side responses as transient.
func classify(op string, err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Transient() {
		return apperr.Wrap(apperr.CodeUpstreamTransient, op, err)
	}
	return err
}

// CallJSON performs the request and decodes the JSON response into out.
func (c *Client) CallJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperr.Wrap(apperr.CodeUpstreamPermanent, fmt.Sprintf("%s %s", methodOf(req), req.Path), fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// attempt performs a single HTTP round trip.
func (c *Client) attempt(ctx context.Context, req Request, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, methodOf(req), c.url(req), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.headerMu.RLock()
	for k, vs := range c.header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	c.headerMu.RUnlock()
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := safety.ReadAllWithLimit(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(data),
		}
	}

	if msg, ok := embeddedError(data); ok {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       msg,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) url(req Request) string {
	u := *c.baseURL
	path := "/" + strings.TrimLeft(req.Path, "/")
	if c.version != "" {
		path = "/" + c.version + path
	}
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

func methodOf(req Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return req.Method
}

// embeddedError detects the API's habit of reporting failures inside a
// successful response body.
func embeddedError(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var probe struct {
		ErrorCode    json.RawMessage `json:"error_code"`
		ErrorMessage string          `json:"error_message"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return "", false
	}
	if len(probe.ErrorCode) == 0 && probe.ErrorMessage == "" {
		return "", false
	}
	return string(trimmed), true
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http error %d: %s: %s", e.StatusCode, e.Status, truncate(e.Body, 256))
	}
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// Transient reports whether the status is worth retrying: 429 or any 5xx.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
