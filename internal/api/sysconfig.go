package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ListSystemConfigs returns settings grouped by category
func (c *Client) ListSystemConfigs(ctx context.Context) (*SystemConfigList, error) {
	var list SystemConfigList
	if err := c.Do(ctx, "GET", "/api/system-configs", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// UpdateSystemConfig sets a value. An empty description is left unchanged.
// The previous value is returned.
func (c *Client) UpdateSystemConfig(ctx context.Context, id int, value, description string) (*SystemConfig, string, error) {
	body := map[string]string{"value": value}
	if description != "" {
		body["description"] = description
	}
	var resp struct {
		Config   SystemConfig `json:"config"`
		OldValue string       `json:"old_value"`
	}
	if err := c.Do(ctx, "PUT", fmt.Sprintf("/api/system-configs/%d", id), body, &resp); err != nil {
		return nil, "", err
	}
	return &resp.Config, resp.OldValue, nil
}

// CreateSystemConfig adds a setting
func (c *Client) CreateSystemConfig(ctx context.Context, in SystemConfigInput) (*SystemConfig, error) {
	if strings.TrimSpace(in.Key) == "" {
		return nil, &ValidationError{Field: "key", Reason: "required"}
	}
	var resp struct {
		Config SystemConfig `json:"config"`
	}
	if err := c.Do(ctx, "POST", "/api/system-configs", in, &resp); err != nil {
		return nil, err
	}
	return &resp.Config, nil
}

// DeleteSystemConfig removes a setting
func (c *Client) DeleteSystemConfig(ctx context.Context, id int) (string, error) {
	var resp messageResponse
	if err := c.Do(ctx, "DELETE", fmt.Sprintf("/api/system-configs/%d", id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ExportEnv renders the settings as an env file
func (c *Client) ExportEnv(ctx context.Context) (*EnvExport, error) {
	var out EnvExport
	if err := c.Do(ctx, "GET", "/api/system-configs/export-env", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BackupEnv backs up the server's env file and rewrites it from settings
func (c *Client) BackupEnv(ctx context.Context) (*EnvBackup, error) {
	var out EnvBackup
	if err := c.Do(ctx, "POST", "/api/system-configs/backup-env", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncFromEnv imports the server's env file into settings
func (c *Client) SyncFromEnv(ctx context.Context) (*EnvSync, error) {
	var out EnvSync
	if err := c.Do(ctx, "POST", "/api/system-configs/sync-from-env", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestSystemConfig asks the backend to probe the service behind key
func (c *Client) TestSystemConfig(ctx context.Context, key string) (*ConfigTest, error) {
	var out ConfigTest
	path := "/api/system-configs/test-config/" + url.PathEscape(key)
	if err := c.Do(ctx, "POST", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Find looks a key up across categories
func (l *SystemConfigList) Find(key string) (SystemConfig, bool) {
	for _, cfgs := range l.Configs {
		for _, cfg := range cfgs {
			if cfg.Key == key {
				return cfg, true
			}
		}
	}
	return SystemConfig{}, false
}
