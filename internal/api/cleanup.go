package api

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ParseScheduleTime parses a daily "HH:MM" schedule
func ParseScheduleTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, &ValidationError{Field: "schedule_time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the next occurrence of schedule after now: today if the
// time is still ahead, otherwise tomorrow.
func NextRun(schedule string, now time.Time) (time.Time, error) {
	hour, minute, err := ParseScheduleTime(schedule)
	if err != nil {
		return time.Time{}, err
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// ValidateCleanupTypes rejects empty or unknown cleanup types
func ValidateCleanupTypes(types []string) error {
	if len(types) == 0 {
		return &ValidationError{Field: "cleanup_types", Reason: "at least one type is required"}
	}
	for _, t := range types {
		if !slices.Contains(CleanupTypes, t) {
			return &ValidationError{
				Field:  "cleanup_types",
				Reason: fmt.Sprintf("unknown type %q (want %s)", t, strings.Join(CleanupTypes, ", ")),
			}
		}
	}
	return nil
}

// ValidateCreate checks a new task before it is sent
func (in CleanupTaskInput) ValidateCreate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if _, _, err := ParseScheduleTime(in.ScheduleTime); err != nil {
		return err
	}
	return ValidateCleanupTypes(in.CleanupTypes)
}

// ValidateUpdate checks only the fields being changed
func (in CleanupTaskInput) ValidateUpdate() error {
	if in.ScheduleTime != "" {
		if _, _, err := ParseScheduleTime(in.ScheduleTime); err != nil {
			return err
		}
	}
	if in.CleanupTypes != nil {
		return ValidateCleanupTypes(in.CleanupTypes)
	}
	return nil
}

// ListCleanupTasks returns every cleanup task
func (c *Client) ListCleanupTasks(ctx context.Context) ([]CleanupTask, error) {
	var tasks []CleanupTask
	if err := c.Do(ctx, "GET", "/api/cleanup-tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateCleanupTask schedules a new task
func (c *Client) CreateCleanupTask(ctx context.Context, in CleanupTaskInput) (*CleanupTask, error) {
	if err := in.ValidateCreate(); err != nil {
		return nil, err
	}
	var resp struct {
		Task CleanupTask `json:"task"`
	}
	if err := c.Do(ctx, "POST", "/api/cleanup-tasks", in, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// UpdateCleanupTask edits a task
func (c *Client) UpdateCleanupTask(ctx context.Context, id int, in CleanupTaskInput) (*CleanupTask, error) {
	if err := in.ValidateUpdate(); err != nil {
		return nil, err
	}
	var resp struct {
		Task CleanupTask `json:"task"`
	}
	if err := c.Do(ctx, "PUT", fmt.Sprintf("/api/cleanup-tasks/%d", id), in, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// DeleteCleanupTask removes a task
func (c *Client) DeleteCleanupTask(ctx context.Context, id int) (string, error) {
	var resp messageResponse
	if err := c.Do(ctx, "DELETE", fmt.Sprintf("/api/cleanup-tasks/%d", id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ToggleCleanupTask flips is_enabled
func (c *Client) ToggleCleanupTask(ctx context.Context, id int) (*CleanupTask, error) {
	var resp struct {
		Task CleanupTask `json:"task"`
	}
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/cleanup-tasks/%d/toggle", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// ExecuteCleanupTask runs a task now
func (c *Client) ExecuteCleanupTask(ctx context.Context, id int) (*CleanupRun, error) {
	var run CleanupRun
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/cleanup-tasks/%d/execute", id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CleanupTargets lists machines a task may target
func (c *Client) CleanupTargets(ctx context.Context) ([]CleanupTargetOption, error) {
	var opts []CleanupTargetOption
	if err := c.Do(ctx, "GET", "/api/cleanup-tasks/configs", nil, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}
