package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoSession is returned when no session has been saved
var ErrNoSession = errors.New("not logged in")

// Session is the persisted login: the backend's cookies for one server
type Session struct {
	Server   string    `yaml:"server"`
	Username string    `yaml:"username"`
	SavedAt  time.Time `yaml:"saved_at"`
	Cookies  []Cookie  `yaml:"cookies"`
}

// Cookie is the part of an http.Cookie worth keeping between runs
type Cookie struct {
	Name    string    `yaml:"name"`
	Value   string    `yaml:"value"`
	Path    string    `yaml:"path,omitempty"`
	Expires time.Time `yaml:"expires,omitempty"`
}

// NewSession captures cookies for server
func NewSession(server, username string, cookies []*http.Cookie, now time.Time) Session {
	s := Session{Server: server, Username: username, SavedAt: now}
	for _, c := range cookies {
		s.Cookies = append(s.Cookies, Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return s
}

// HTTPCookies converts the saved cookies back, dropping expired ones
func (s Session) HTTPCookies(now time.Time) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range s.Cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Path: path, Expires: c.Expires})
	}
	return out
}

// LoadSession reads the session file. It returns ErrNoSession when the
// file is missing.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to parse session: %w", err)
	}
	return s, nil
}

// SaveSession writes the session file readable by the owner only
func SaveSession(path string, s Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// RemoveSession deletes the session file if present
func RemoveSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
