package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single request when no http.Client is supplied
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 8 << 20
)

// Client talks to the fleet backend. Every call funnels through Do.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
	userAgent  string
}

// Option configures a Client
type Option func(*Client)

// WithJar sets the cookie jar that holds the session
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.httpClient.Jar = jar
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger attaches a logger for request tracing
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client for the backend rooted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", baseURL)
	}

	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Jar:     jar,
		},
		logger:    zap.NewNop(),
		userAgent: "fleet-cli",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c, nil
}

// Jar returns the cookie jar holding the session
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Do sends a JSON request and decodes a JSON response into out. body and
// out may be nil. path may carry a query string.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api_request_failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	c.logger.Debug("api_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", req.Header.Get("X-Request-ID")),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	// The backend answers 401 JSON instead of a login redirect only for
	// requests that declare a JSON body type, so it is set on every call.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) resolve(path string) string {
	p, rawQuery, _ := strings.Cut(path, "?")
	u := c.baseURL.JoinPath(p)
	u.RawQuery = rawQuery
	return u.String()
}

// statusError builds an *Error from a non-2xx response. A redirect to the
// login page counts as 401.
func statusError(method, path string, resp *http.Response, data []byte) error {
	apiErr := &Error{Method: method, Path: path, Status: resp.StatusCode}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if strings.Contains(loc, "login") {
			apiErr.Status = http.StatusUnauthorized
			apiErr.LoginURL = loc
			apiErr.Message = "session expired"
			return apiErr
		}
	}

	var payload struct {
		Error    string `json:"error"`
		Message  string `json:"message"`
		LoginURL string `json:"login_url"`
	}
	if json.Unmarshal(data, &payload) == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
		apiErr.LoginURL = payload.LoginURL
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func query(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}
