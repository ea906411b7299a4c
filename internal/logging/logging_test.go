package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewDisabled(t *testing.T) {
	for _, file := range []string{"", Disabled} {
		logger, err := New(Options{File: file})
		if err != nil {
			t.Fatalf("New(%q): %v", file, err)
		}
		if logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("New(%q) should return a no-op logger", file)
		}
	}
}

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fleet.log")
	logger, err := New(Options{File: path, Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden_event")
	logger.Info("batch_execute", zap.Int("machine_id", 3))
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["msg"] != "batch_execute" || entry["machine_id"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestVerboseEnablesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.log")
	logger, err := New(Options{File: path, Level: "warn", Verbose: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should enable debug")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
