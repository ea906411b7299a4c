package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Target defaults applied by the backend when a field is omitted
const (
	DefaultDuration = 30
	DefaultMaxNum   = 3

	// MaxPerPage is the largest page the backend will serve
	MaxPerPage = 100
)

// ListOptions selects a page of targets
type ListOptions struct {
	Page            int
	PerPage         int
	IncludeInactive bool
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		per := o.PerPage
		if per > MaxPerPage {
			per = MaxPerPage
		}
		v.Set("per_page", strconv.Itoa(per))
	}
	if o.IncludeInactive {
		v.Set("include_inactive", "true")
	}
	return v
}

// Validate checks a create payload
func (in TargetInput) Validate() error {
	if in.MachineID <= 0 {
		return &ValidationError{Field: "config_id", Reason: "required"}
	}
	if strings.TrimSpace(in.URL) == "" {
		return &ValidationError{Field: "url", Reason: "required"}
	}
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if in.Duration < 0 {
		return &ValidationError{Field: "duration", Reason: "must not be negative"}
	}
	if in.MaxNum < 0 {
		return &ValidationError{Field: "max_num", Reason: "must not be negative"}
	}
	return nil
}

// CreateTarget adds a target to a machine
func (c *Client) CreateTarget(ctx context.Context, in TargetInput) (*Target, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Duration == 0 {
		in.Duration = DefaultDuration
	}
	if in.MaxNum == 0 {
		in.MaxNum = DefaultMaxNum
	}
	var resp struct {
		Target Target `json:"url_data"`
	}
	if err := c.Do(ctx, "POST", "/api/url", in, &resp); err != nil {
		return nil, err
	}
	return &resp.Target, nil
}

// GetTarget returns one target
func (c *Client) GetTarget(ctx context.Context, id int) (*Target, error) {
	var resp struct {
		Target Target `json:"url_data"`
	}
	if err := c.Do(ctx, "GET", fmt.Sprintf("/api/url/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Target, nil
}

// UpdateTarget edits a target. config_id is never sent.
func (c *Client) UpdateTarget(ctx context.Context, id int, in TargetInput) (*Target, error) {
	in.MachineID = 0
	var resp struct {
		Target Target `json:"url_data"`
	}
	if err := c.Do(ctx, "PUT", fmt.Sprintf("/api/url/%d", id), in, &resp); err != nil {
		return nil, err
	}
	return &resp.Target, nil
}

// DeleteTarget removes a target
func (c *Client) DeleteTarget(ctx context.Context, id int) error {
	return c.Do(ctx, "DELETE", fmt.Sprintf("/api/url/%d", id), nil, nil)
}

// ExecuteTarget records one execution. The backend rejects targets that
// reached max_num with 400.
func (c *Client) ExecuteTarget(ctx context.Context, id int) (*ExecuteResult, error) {
	var res ExecuteResult
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/url/%d/execute", id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResetTarget zeroes a target's execution count
func (c *Client) ResetTarget(ctx context.Context, id int) (string, error) {
	var resp messageResponse
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/url/%d/reset", id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ListTargets returns one page of a machine's targets
func (c *Client) ListTargets(ctx context.Context, machineID int, opts ListOptions) (*TargetPage, error) {
	var page TargetPage
	path := fmt.Sprintf("/api/config/%d/urls", machineID) + query(opts.values())
	if err := c.Do(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllTargets follows pagination and returns every target. The counts of
// the returned page are those of the last page fetched.
func (c *Client) ListAllTargets(ctx context.Context, machineID int, includeInactive bool) (*TargetPage, error) {
	var all *TargetPage
	for page := 1; ; page++ {
		p, err := c.ListTargets(ctx, machineID, ListOptions{
			Page:            page,
			PerPage:         MaxPerPage,
			IncludeInactive: includeInactive,
		})
		if err != nil {
			return nil, err
		}
		if all == nil {
			all = p
		} else {
			all.Targets = append(all.Targets, p.Targets...)
			all.Pagination = p.Pagination
			all.Total, all.Active, all.Inactive = p.Total, p.Active, p.Inactive
			all.Available, all.Running = p.Available, p.Running
		}
		if !p.Pagination.HasNext || len(p.Targets) == 0 {
			return all, nil
		}
	}
}

// ConfigStatus returns the dashboard summary for a machine
func (c *Client) ConfigStatus(ctx context.Context, machineID int) (*ConfigStatus, error) {
	var status ConfigStatus
	if err := c.Do(ctx, "GET", fmt.Sprintf("/api/config/%d/status", machineID), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ResetAllTargets zeroes every target's count on a machine
func (c *Client) ResetAllTargets(ctx context.Context, machineID int) (string, error) {
	var resp messageResponse
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/config/%d/reset", machineID), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// StartAllTargets marks every available target running
func (c *Client) StartAllTargets(ctx context.Context, machineID int) (*RunCount, error) {
	return c.runCount(ctx, fmt.Sprintf("/api/config/%d/start-all", machineID))
}

// StopAllTargets marks every running target stopped
func (c *Client) StopAllTargets(ctx context.Context, machineID int) (*RunCount, error) {
	return c.runCount(ctx, fmt.Sprintf("/api/config/%d/stop-all", machineID))
}

// StartTargets is StartAllTargets with a url_started push per target
func (c *Client) StartTargets(ctx context.Context, machineID int) (*RunCount, error) {
	return c.runCount(ctx, fmt.Sprintf("/api/config/%d/start-urls", machineID))
}

// StopTargets is StopAllTargets with a url_stopped push per target
func (c *Client) StopTargets(ctx context.Context, machineID int) (*RunCount, error) {
	return c.runCount(ctx, fmt.Sprintf("/api/config/%d/stop-urls", machineID))
}

func (c *Client) runCount(ctx context.Context, path string) (*RunCount, error) {
	var rc RunCount
	if err := c.Do(ctx, "POST", path, nil, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// RunningStatus groups a machine's targets by run state
func (c *Client) RunningStatus(ctx context.Context, machineID int) (*RunningStatus, error) {
	var rs RunningStatus
	if err := c.Do(ctx, "GET", fmt.Sprintf("/api/config/%d/running-status", machineID), nil, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// RunningDurations lists elapsed time of running targets
func (c *Client) RunningDurations(ctx context.Context, machineID int) (*RunningDurations, error) {
	var rd RunningDurations
	if err := c.Do(ctx, "GET", fmt.Sprintf("/api/config/%d/running-durations", machineID), nil, &rd); err != nil {
		return nil, err
	}
	return &rd, nil
}
