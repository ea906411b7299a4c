package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Login posts the login form. The backend redirects on success and
// re-renders the form with 200 on bad credentials.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &ValidationError{Field: "username", Reason: "required"}
	}
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("/auth/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		if strings.Contains(resp.Header.Get("Location"), "/login") {
			return ErrBadCredentials
		}
		return nil
	case resp.StatusCode == http.StatusOK:
		return ErrBadCredentials
	default:
		return statusError(http.MethodPost, "/auth/login", resp, data)
	}
}

// Logout ends the server session. The redirect that follows is ignored.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/auth/logout"), nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return statusError(http.MethodGet, "/auth/logout", resp, nil)
	}
	return nil
}

// Cookies returns the session cookies held for the server
func (c *Client) Cookies() []*http.Cookie {
	return c.httpClient.Jar.Cookies(c.baseURL)
}

// SetCookies restores previously saved session cookies
func (c *Client) SetCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.httpClient.Jar.SetCookies(c.baseURL, cookies)
}
