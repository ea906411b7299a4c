package api

import (
	"context"
	"fmt"
	"strings"
)

// ListMachines returns every configured machine
func (c *Client) ListMachines(ctx context.Context) ([]Machine, error) {
	var machines []Machine
	if err := c.Do(ctx, "GET", "/api/machines", nil, &machines); err != nil {
		return nil, err
	}
	return machines, nil
}

// GetMachine returns one machine
func (c *Client) GetMachine(ctx context.Context, id int) (*Machine, error) {
	var resp struct {
		Machine Machine `json:"machine"`
	}
	if err := c.Do(ctx, "GET", fmt.Sprintf("/api/machines/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Machine, nil
}

// ValidateCreate checks the fields the backend requires on creation
func (in MachineInput) ValidateCreate() error {
	required := []struct {
		field string
		value *string
	}{
		{"message", in.Message},
		{"pade_code", in.PadeCode},
		{"name", in.Name},
		{"description", in.Description},
	}
	for _, r := range required {
		if r.value == nil || strings.TrimSpace(*r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "required"}
		}
	}
	if in.SuccessTimeMin != nil && in.SuccessTimeMax != nil && *in.SuccessTimeMin > *in.SuccessTimeMax {
		return &ValidationError{Field: "success_time", Reason: "min exceeds max"}
	}
	return nil
}

// CreateMachine creates a machine. A duplicate pade_code yields ErrConflict.
func (c *Client) CreateMachine(ctx context.Context, in MachineInput) (*Machine, error) {
	if err := in.ValidateCreate(); err != nil {
		return nil, err
	}
	var resp struct {
		Machine Machine `json:"machine"`
	}
	if err := c.Do(ctx, "POST", "/api/machines", in, &resp); err != nil {
		return nil, err
	}
	return &resp.Machine, nil
}

// UpdateMachine applies a partial update
func (c *Client) UpdateMachine(ctx context.Context, id int, in MachineInput) (*Machine, error) {
	var resp struct {
		Machine Machine `json:"machine"`
	}
	if err := c.Do(ctx, "PUT", fmt.Sprintf("/api/machines/%d", id), in, &resp); err != nil {
		return nil, err
	}
	return &resp.Machine, nil
}

// DeleteMachine removes a machine and its targets
func (c *Client) DeleteMachine(ctx context.Context, id int) (string, error) {
	var resp messageResponse
	if err := c.Do(ctx, "DELETE", fmt.Sprintf("/api/machines/%d", id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ToggleMachine flips is_active
func (c *Client) ToggleMachine(ctx context.Context, id int) (*Machine, error) {
	var resp struct {
		Machine Machine `json:"machine"`
	}
	if err := c.Do(ctx, "POST", fmt.Sprintf("/api/machines/%d/toggle", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Machine, nil
}

// MachineStats returns execution counters for a machine
func (c *Client) MachineStats(ctx context.Context, id int) (*MachineStats, error) {
	var stats MachineStats
	if err := c.Do(ctx, "GET", fmt.Sprintf("/api/machines/%d/stats", id), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// BatchStartMachines starts the app on every listed machine
func (c *Client) BatchStartMachines(ctx context.Context, ids []int) (*BatchResponse, error) {
	return c.batch(ctx, "/api/machines/batch-start", ids)
}

// BatchStopMachines stops the app on every listed machine
func (c *Client) BatchStopMachines(ctx context.Context, ids []int) (*BatchResponse, error) {
	return c.batch(ctx, "/api/machines/batch-stop", ids)
}

func (c *Client) batch(ctx context.Context, path string, ids []int) (*BatchResponse, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "machine_ids", Reason: "at least one machine is required"}
	}
	body := map[string][]int{"machine_ids": ids}
	var resp BatchResponse
	if err := c.Do(ctx, "POST", path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDevices compares the provider's devices with configured machines
func (c *Client) ListDevices(ctx context.Context) (*DeviceList, error) {
	var list DeviceList
	if err := c.Do(ctx, "GET", "/api/machines/vmos-list", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SyncNewDevices creates machines for provider devices not yet configured
func (c *Client) SyncNewDevices(ctx context.Context) (*SyncResult, error) {
	var res SyncResult
	if err := c.Do(ctx, "POST", "/api/machines/sync-new", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartMachine launches the automation app on the device with padeCode
func (c *Client) StartMachine(ctx context.Context, padeCode string) (*PowerResult, error) {
	return c.power(ctx, "/api/start", padeCode)
}

// StopMachine stops the automation app on the device with padeCode
func (c *Client) StopMachine(ctx context.Context, padeCode string) (*PowerResult, error) {
	return c.power(ctx, "/api/stop", padeCode)
}

func (c *Client) power(ctx context.Context, path, padeCode string) (*PowerResult, error) {
	if strings.TrimSpace(padeCode) == "" {
		return nil, &ValidationError{Field: "pade_code", Reason: "required"}
	}
	var res PowerResult
	if err := c.Do(ctx, "POST", path, map[string]string{"pade_code": padeCode}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
