package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestToggleUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/users/4/toggle-status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"message":"User \"bob\" deactivated successfully","user":{"id":4,"username":"bob","is_active":false}}`)
	})

	res, err := c.ToggleUser(context.Background(), 4)
	if err != nil {
		t.Fatalf("ToggleUser: %v", err)
	}
	if res.User.ID != 4 || res.User.IsActive {
		t.Errorf("unexpected user %+v", res.User)
	}
	if res.Message == "" {
		t.Error("expected the backend message")
	}
}

func TestDeleteUser(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{"deleted", http.StatusOK, `{"message":"User \"bob\" deleted successfully"}`, `User "bob" deleted successfully`, nil},
		{"self", http.StatusForbidden, `{"error":"Cannot delete yourself"}`, "", ErrForbidden},
		{"missing", http.StatusNotFound, `{"error":"User not found"}`, "", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete || r.URL.Path != "/api/users/4" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			msg, err := c.DeleteUser(context.Background(), 4)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeleteUser: %v", err)
			}
			if msg != tt.want {
				t.Errorf("message = %q, want %q", msg, tt.want)
			}
		})
	}
}
