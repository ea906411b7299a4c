package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Time decodes the backend's zone-less ISO timestamps as local time.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// ParseTime parses a backend timestamp
func ParseTime(s string) (Time, error) {
	for _, layout := range timeLayouts {
		if layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, s); err == nil {
				return Time{t}, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Time{t}, nil
		}
	}
	return Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", s, err)
	}
	parsed, err := ParseTime(unquoted)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format("2006-01-02T15:04:05"))
}

// FlexString accepts a JSON string, number or null.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := string(b)
	switch {
	case s == "null":
		*f = ""
	case len(s) > 0 && s[0] == '"':
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		*f = FlexString(unquoted)
	default:
		*f = FlexString(s)
	}
	return nil
}

// Machine is an automation device profile
type Machine struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Message     string   `json:"message"`
	PadeCode    string   `json:"pade_code"`
	Description string   `json:"description"`
	IsActive    bool     `json:"is_active"`
	SuccessTime []int    `json:"success_time"`
	ResetTime   int      `json:"reset_time"`
	CreatedAt   Time     `json:"created_at"`
	UpdatedAt   Time     `json:"updated_at"`
	Targets     []Target `json:"urldata"`
}

// Label is what the backend itself shows for a machine: its name, or its
// message when unnamed.
func (m Machine) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Message
}

// MachineInput is a create or partial update payload. Nil fields are
// omitted so the backend leaves them unchanged.
type MachineInput struct {
	Name           *string `json:"name,omitempty"`
	Message        *string `json:"message,omitempty"`
	PadeCode       *string `json:"pade_code,omitempty"`
	Description    *string `json:"description,omitempty"`
	SuccessTimeMin *int    `json:"success_time_min,omitempty"`
	SuccessTimeMax *int    `json:"success_time_max,omitempty"`
	ResetTime      *int    `json:"reset_time,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

// MachineStats summarises one machine's targets
type MachineStats struct {
	MachineID             int `json:"machine_id"`
	TotalURLs             int `json:"total_urls"`
	ActiveURLs            int `json:"active_urls"`
	AvailableURLs         int `json:"available_urls"`
	CompletedURLs         int `json:"completed_urls"`
	TotalExecutions       int `json:"total_executions"`
	MaxPossibleExecutions int `json:"max_possible_executions"`
}

// BatchResult is one machine's outcome in a batch start or stop
type BatchResult struct {
	MachineID   int    `json:"machine_id"`
	MachineName string `json:"machine_name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// OK reports whether the backend marked the result successful
func (r BatchResult) OK() bool {
	return r.Status == "success"
}

// BatchResponse is returned by batch start and stop
type BatchResponse struct {
	Message string        `json:"message"`
	Results []BatchResult `json:"results"`
}

// Device is a VMOS cloud phone as listed by the provider
type Device struct {
	PadCode  string     `json:"padCode"`
	PadName  string     `json:"padName"`
	GoodName string     `json:"goodName"`
	Status   FlexString `json:"status"`
}

// DeviceList compares provider devices against configured machines
type DeviceList struct {
	TotalDevices    int      `json:"total_vmos_machines"`
	ExistingCount   int      `json:"existing_machines_count"`
	NewCount        int      `json:"new_machines_count"`
	NewDevices      []Device `json:"new_machines"`
	ExistingDevices []Device `json:"existing_machines"`
}

// SyncResult is returned after importing new devices as machines
type SyncResult struct {
	Message         string    `json:"message"`
	NewCount        int       `json:"new_machines_count"`
	ExistingCount   int       `json:"existing_machines_count"`
	TotalMachines   int       `json:"total_machines"`
	CreatedMachines []Machine `json:"created_machines"`
}

// PowerResult is returned by the start and stop endpoints
type PowerResult struct {
	Message  string `json:"message"`
	PadeCode string `json:"padcode"`
}

// Target is a messaging target ("group chat") belonging to a machine
type Target struct {
	ID              int    `json:"id"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	OriginalName    string `json:"original_name"`
	Label           string `json:"label"`
	Duration        int    `json:"duration"`
	LastTime        Time   `json:"Last_time"`
	MaxNum          int    `json:"max_num"`
	CurrentCount    int    `json:"current_count"`
	IsActive        bool   `json:"is_active"`
	CanExecute      bool   `json:"can_execute"`
	TelegramChannel string `json:"telegram_channel"`
	IsRunning       bool   `json:"is_running"`
	StartedAt       Time   `json:"started_at"`
	StoppedAt       Time   `json:"stopped_at"`
	RunningDuration int    `json:"running_duration"`
	Status          string `json:"status"`
	PadeCode        string `json:"pade_code,omitempty"`
}

// BaseName returns the name without the label suffix
func (t Target) BaseName() string {
	if t.OriginalName != "" {
		return t.OriginalName
	}
	return t.Name
}

// Progress returns current/max in [0,1]
func (t Target) Progress() float64 {
	if t.MaxNum <= 0 {
		return 0
	}
	p := float64(t.CurrentCount) / float64(t.MaxNum)
	if p > 1 {
		return 1
	}
	return p
}

// TargetInput creates or updates a target
type TargetInput struct {
	MachineID int    `json:"config_id,omitempty"`
	URL       string `json:"url,omitempty"`
	Name      string `json:"name,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	MaxNum    int    `json:"max_num,omitempty"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

// ExecuteResult is returned after a single target execution
type ExecuteResult struct {
	Message      string `json:"message"`
	URL          string `json:"url"`
	CurrentCount int    `json:"current_count"`
	Remaining    int    `json:"remaining"`
	LastTime     Time   `json:"last_time"`
}

// Pagination describes one page of a listing
type Pagination struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// TargetPage is one page of a machine's targets with counts
type TargetPage struct {
	MachineID  int        `json:"config_id"`
	Targets    []Target   `json:"urls"`
	Pagination Pagination `json:"pagination"`
	Total      int        `json:"total"`
	Active     int        `json:"active"`
	Inactive   int        `json:"inactive"`
	Available  int        `json:"available"`
	Running    int        `json:"running"`
}

// ConfigStatus is the dashboard summary for one machine
type ConfigStatus struct {
	Machine               Machine `json:"config"`
	TotalURLs             int     `json:"total_urls"`
	AvailableURLs         int     `json:"available_urls"`
	CompletedURLs         int     `json:"completed_urls"`
	RunningURLs           int     `json:"running_urls"`
	TotalExecutions       int     `json:"total_executions"`
	MaxPossibleExecutions int     `json:"max_possible_executions"`
	TotalRunningTime      int     `json:"total_running_time"`
}

// RunCount is returned by the start and stop target endpoints
type RunCount struct {
	Message        string `json:"message"`
	TotalAvailable int    `json:"total_available"`
	TotalRunning   int    `json:"total_running"`
	Started        int    `json:"started"`
	Stopped        int    `json:"stopped"`
}

// RunningStatus groups a machine's active targets by run state
type RunningStatus struct {
	MachineID   int    `json:"config_id"`
	MachineName string `json:"config_name"`
	Summary     struct {
		Total            int `json:"total"`
		Running          int `json:"running"`
		Completed        int `json:"completed"`
		Pending          int `json:"pending"`
		TotalRunningTime int `json:"total_running_time"`
	} `json:"summary"`
	Details struct {
		Running   []Target `json:"running_urls"`
		Completed []Target `json:"completed_urls"`
		Pending   []Target `json:"pending_urls"`
	} `json:"details"`
}

// RunningDuration is one running target's elapsed time
type RunningDuration struct {
	TargetID        int    `json:"url_id"`
	Name            string `json:"name"`
	StartedAt       Time   `json:"started_at"`
	RunningDuration int    `json:"running_duration"`
}

// RunningDurations lists running targets of a machine
type RunningDurations struct {
	MachineID        int               `json:"config_id"`
	RunningCount     int               `json:"running_urls_count"`
	Durations        []RunningDuration `json:"durations"`
	TotalRunningTime int               `json:"total_running_time"`
}

// Cleanup types accepted by the backend
const (
	CleanupStatus = "status"
	CleanupLabel  = "label"
	CleanupCounts = "counts"
)

// CleanupTypes lists the valid cleanup types in display order
var CleanupTypes = []string{CleanupStatus, CleanupLabel, CleanupCounts}

// CleanupTask is a daily maintenance job
type CleanupTask struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	ScheduleTime  string   `json:"schedule_time"`
	IsEnabled     bool     `json:"is_enabled"`
	CleanupTypes  []string `json:"cleanup_types"`
	TargetConfigs []int    `json:"target_configs"`
	LastRun       Time     `json:"last_run"`
	NextRun       Time     `json:"next_run"`
	CreatedAt     Time     `json:"created_at"`
	UpdatedAt     Time     `json:"updated_at"`
}

// CleanupTaskInput creates or updates a cleanup task. TargetConfigs is
// left out when nil; pointing it at a nil slice sends null, which means
// every machine.
type CleanupTaskInput struct {
	Name          string   `json:"name,omitempty"`
	Description   *string  `json:"description,omitempty"`
	ScheduleTime  string   `json:"schedule_time,omitempty"`
	IsEnabled     *bool    `json:"is_enabled,omitempty"`
	CleanupTypes  []string `json:"cleanup_types,omitempty"`
	TargetConfigs *[]int   `json:"target_configs,omitempty"`
}

// Machines sets the machines a task cleans up. No ids means all machines.
func (in *CleanupTaskInput) Machines(ids []int) {
	if len(ids) == 0 {
		ids = nil
	}
	in.TargetConfigs = &ids
}

// CleanupRun is returned after executing a task immediately
type CleanupRun struct {
	Message      string      `json:"message"`
	AffectedRows int         `json:"affected_rows"`
	Task         CleanupTask `json:"task"`
}

// CleanupTargetOption is a machine selectable as a cleanup target
type CleanupTargetOption struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	PadeCode string `json:"pade_code"`
}

// HiddenValue is what the backend returns in place of sensitive values
const HiddenValue = "***HIDDEN***"

// SystemConfig is a key/value setting mirrored to the env file
type SystemConfig struct {
	ID          int    `json:"id"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsSensitive bool   `json:"is_sensitive"`
	CreatedAt   Time   `json:"created_at"`
	UpdatedAt   Time   `json:"updated_at"`
}

// SystemConfigList groups settings by category
type SystemConfigList struct {
	Configs    map[string][]SystemConfig `json:"configs"`
	Categories map[string]string         `json:"categories"`
}

// SystemConfigInput creates a setting
type SystemConfigInput struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	IsSensitive bool   `json:"is_sensitive"`
}

// EnvExport is the rendered env file
type EnvExport struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// EnvBackup reports a server-side env file backup
type EnvBackup struct {
	Message       string `json:"message"`
	BackupCreated bool   `json:"backup_created"`
	BackupPath    string `json:"backup_path"`
	EnvUpdated    bool   `json:"env_updated"`
}

// EnvSync reports an import of the server's env file
type EnvSync struct {
	Message        string `json:"message"`
	CreatedCount   int    `json:"created_count"`
	UpdatedCount   int    `json:"updated_count"`
	TotalProcessed int    `json:"total_processed"`
}

// ConfigTest is the result of a connectivity test for one key
type ConfigTest struct {
	Key    string `json:"config_key"`
	Result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	} `json:"test_result"`
}

// User is a dashboard account
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	IsActive  bool   `json:"is_active"`
	CreatedAt Time   `json:"created_at"`
	LastLogin Time   `json:"last_login"`
}

// UserInput creates a user
type UserInput struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

// UserPage is one page of users
type UserPage struct {
	Users      []User     `json:"users"`
	Pagination Pagination `json:"pagination"`
}

// messageResponse is the common {"message": ...} acknowledgement
type messageResponse struct {
	Message string `json:"message"`
}
