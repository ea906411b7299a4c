package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Validate checks a new user the way the backend does
func (in UserInput) Validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(in.Username))
	if n < 3 || n > 80 {
		return &ValidationError{Field: "username", Reason: "must be 3 to 80 characters"}
	}
	if len(in.Password) < 6 {
		return &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	return nil
}

// ListUsers returns one page of users, optionally filtered
func (c *Client) ListUsers(ctx context.Context, page, perPage int, search string) (*UserPage, error) {
	v := url.Values{}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		v.Set("per_page", strconv.Itoa(perPage))
	}
	if search != "" {
		v.Set("search", search)
	}
	var out UserPage
	if err := c.Do(ctx, "GET", "/api/users"+query(v), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUser adds an account. Requires admin.
func (c *Client) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var resp struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, "POST", "/api/users", in, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// UserStatus is returned when an account is enabled or disabled
type UserStatus struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

// ToggleUser enables or disables an account. Requires admin; the backend
// answers 403 for the caller's own account.
func (c *Client) ToggleUser(ctx context.Context, id int) (*UserStatus, error) {
	var res UserStatus
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/users/%d/toggle-status", id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteUser removes an account. Requires admin; the caller's own account
// cannot be deleted.
func (c *Client) DeleteUser(ctx context.Context, id int) (string, error) {
	var resp messageResponse
	if err := c.Do(ctx, "DELETE", fmt.Sprintf("/api/users/%d", id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Profile returns the logged-in user
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, "GET", "/api/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// ProfileInput changes the logged-in user's email or password. The
// password changes only when both password fields are set.
type ProfileInput struct {
	Email           *string `json:"email,omitempty"`
	CurrentPassword string  `json:"current_password,omitempty"`
	NewPassword     string  `json:"new_password,omitempty"`
}

// UpdateProfile applies a profile change
func (c *Client) UpdateProfile(ctx context.Context, in ProfileInput) (*User, error) {
	if in.NewPassword != "" {
		if in.CurrentPassword == "" {
			return nil, &ValidationError{Field: "current_password", Reason: "required to change password"}
		}
		if len(in.NewPassword) < 6 {
			return nil, &ValidationError{Field: "new_password", Reason: "must be at least 6 characters"}
		}
	}
	var resp struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, "PUT", "/api/profile", in, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}
