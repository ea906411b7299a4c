package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Server != def.Server {
		t.Errorf("Server = %q, want %q", cfg.Server, def.Server)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.ExecuteGap != 200*time.Millisecond {
		t.Errorf("ExecuteGap = %s", cfg.ExecuteGap)
	}
	if cfg.MachineID != 1 {
		t.Errorf("MachineID = %d", cfg.MachineID)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server: http://fleet.internal:8080\nmachine_id: 3\npoll_interval: 10s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLEET_MACHINE_ID", "7")
	t.Setenv("FLEET_EXECUTE_GAP", "1s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != "http://fleet.internal:8080" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if cfg.MachineID != 7 {
		t.Errorf("MachineID = %d, want env override 7", cfg.MachineID)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.ExecuteGap != time.Second {
		t.Errorf("ExecuteGap = %s", cfg.ExecuteGap)
	}
	if cfg.ToastDuration != 5*time.Second {
		t.Errorf("ToastDuration default lost: %s", cfg.ToastDuration)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("FLEET_POLL_INTERVAL", "soon")
	if _, err := Load(filepath.Join(t.TempDir(), "c.yaml")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadDoesNotValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("server: ftp://old\nmachine_id: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Validate() == nil {
		t.Fatal("loaded config should still fail Validate")
	}

	cfg.Server = "http://127.0.0.1:5000"
	cfg.MachineID = 2
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate after overrides: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad scheme", func(c *Config) { c.Server = "ftp://x" }, true},
		{"no host", func(c *Config) { c.Server = "http://" }, true},
		{"zero machine", func(c *Config) { c.MachineID = 0 }, true},
		{"fast poll", func(c *Config) { c.PollInterval = 100 * time.Millisecond }, true},
		{"negative gap", func(c *Config) { c.ExecuteGap = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Set("server", "https://fleet.example.com/"); err != nil {
		t.Fatalf("Set server: %v", err)
	}
	if err := cfg.Set("poll_interval", "30s"); err != nil {
		t.Fatalf("Set poll_interval: %v", err)
	}
	if err := cfg.Set("colour", "blue"); err == nil {
		t.Error("expected unknown key error")
	}
	if err := cfg.Set("machine_id", "abc"); err == nil {
		t.Error("expected invalid machine_id error")
	}
	cfg.MachineID = 1

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.Server != "https://fleet.example.com" || got.PollInterval != 30*time.Second {
		t.Errorf("round trip = %+v", got)
	}
	if v := got.Values()["poll_interval"]; v != "30s" {
		t.Errorf("Values poll_interval = %q", v)
	}
}

func TestSessionPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if _, err := LoadSession(path); err != ErrNoSession {
		t.Fatalf("LoadSession missing = %v, want ErrNoSession", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession("http://127.0.0.1:5000", "admin", []*http.Cookie{
		{Name: "session", Value: "abc"},
		{Name: "old", Value: "x", Path: "/", Expires: now.Add(-time.Hour)},
	}, now)
	if err := SaveSession(path, s); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("session file mode = %o, want 600", perm)
	}

	loaded, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Username != "admin" || !loaded.SavedAt.Equal(now) {
		t.Errorf("loaded = %+v", loaded)
	}
	cookies := loaded.HTTPCookies(now)
	if len(cookies) != 1 || cookies[0].Name != "session" || cookies[0].Path != "/" {
		t.Errorf("HTTPCookies = %+v", cookies)
	}

	if err := RemoveSession(path); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if err := RemoveSession(path); err != nil {
		t.Errorf("second RemoveSession: %v", err)
	}
}
