package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		schedule string
		want     time.Time
	}{
		{"15:00", time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)},
		{"14:30", time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC)},
		{"02:00", time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC)},
		{"9:05", time.Date(2024, 3, 11, 9, 5, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			got, err := NextRun(tt.schedule, now)
			if err != nil {
				t.Fatalf("NextRun: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun(%q) = %v, want %v", tt.schedule, got, tt.want)
			}
		})
	}
}

func TestParseScheduleTimeRejects(t *testing.T) {
	for _, s := range []string{"", "25:00", "12:60", "noon", "12-30"} {
		if _, _, err := ParseScheduleTime(s); err == nil {
			t.Errorf("ParseScheduleTime(%q) expected error", s)
		}
	}
}

func TestValidateCleanupTypes(t *testing.T) {
	tests := []struct {
		name    string
		types   []string
		wantErr bool
	}{
		{"all valid", []string{"status", "label", "counts"}, false},
		{"single", []string{"counts"}, false},
		{"empty", nil, true},
		{"unknown", []string{"status", "logs"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCleanupTypes(tt.types)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateCleanupTaskValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"message":"ok","task":{"id":5,"name":"nightly","schedule_time":"03:00","cleanup_types":["counts"],"target_configs":null}}`)
	})

	_, err := c.CreateCleanupTask(context.Background(), CleanupTaskInput{Name: "nightly", ScheduleTime: "3am", CleanupTypes: []string{"counts"}})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "schedule_time" {
		t.Fatalf("expected schedule_time validation error, got %v", err)
	}

	task, err := c.CreateCleanupTask(context.Background(), CleanupTaskInput{Name: "nightly", ScheduleTime: "03:00", CleanupTypes: []string{"counts"}})
	if err != nil {
		t.Fatalf("CreateCleanupTask: %v", err)
	}
	if task.ID != 5 || task.TargetConfigs != nil {
		t.Errorf("unexpected task %+v", task)
	}
}

func TestUpdateCleanupTaskTargetConfigs(t *testing.T) {
	tests := []struct {
		name     string
		in       func() CleanupTaskInput
		wantKey  bool
		wantBody string
	}{
		{"untouched", func() CleanupTaskInput { return CleanupTaskInput{Name: "nightly"} }, false, ""},
		{"all machines", func() CleanupTaskInput {
			in := CleanupTaskInput{}
			in.Machines(nil)
			return in
		}, true, "null"},
		{"fixed list", func() CleanupTaskInput {
			in := CleanupTaskInput{}
			in.Machines([]int{2, 4})
			return in
		}, true, "[2,4]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]json.RawMessage
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode body: %v", err)
				}
				io.WriteString(w, `{"message":"ok","task":{"id":5}}`)
			})

			if _, err := c.UpdateCleanupTask(context.Background(), 5, tt.in()); err != nil {
				t.Fatalf("UpdateCleanupTask: %v", err)
			}
			raw, ok := body["target_configs"]
			if ok != tt.wantKey {
				t.Fatalf("target_configs present = %v, want %v (body %v)", ok, tt.wantKey, body)
			}
			if ok && string(raw) != tt.wantBody {
				t.Errorf("target_configs = %s, want %s", raw, tt.wantBody)
			}
		})
	}
}
