package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/harshul/fleet-cli/internal/config"
	"github.com/harshul/fleet-cli/internal/ui"
)

// runCLI runs the root command against srv with a throwaway config and
// returns what the print helpers wrote.
func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLEET_LOG_FILE", "-")
	t.Setenv("FLEET_SESSION_FILE", filepath.Join(dir, "session.yaml"))

	var out bytes.Buffer
	prev := ui.Stdout
	ui.Stdout = &out
	t.Cleanup(func() { ui.Stdout = prev })

	resetFlags(rootCmd)

	base := []string{"--config", filepath.Join(dir, "config.yaml")}
	if srv != nil {
		base = append(base, "--server", srv.URL)
	}
	rootCmd.SetArgs(append(base, args...))
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags puts every flag back to its default so one run does not leak
// into the next
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []int
		wantErr bool
	}{
		{"single", []string{"4"}, []int{4}, false},
		{"several", []string{"4", "9"}, []int{4, 9}, false},
		{"comma list", []string{"1,2, 3"}, []int{1, 2, 3}, false},
		{"trailing comma", []string{"7,"}, []int{7}, false},
		{"zero", []string{"0"}, nil, true},
		{"negative", []string{"-2"}, nil, true},
		{"not a number", []string{"abc"}, nil, true},
		{"empty", []string{","}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIDs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseIDs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseIDs(%v) = %v, want %v", tt.args, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseIDs(%v)[%d] = %d, want %d", tt.args, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPosition(t *testing.T) {
	if i, err := position("3"); err != nil || i != 2 {
		t.Errorf("position(3) = %d, %v; want 2, nil", i, err)
	}
	for _, arg := range []string{"0", "-1", "x"} {
		if _, err := position(arg); err == nil {
			t.Errorf("position(%q) should fail", arg)
		}
	}
}

func TestForEachContinuesAfterFailure(t *testing.T) {
	var out bytes.Buffer
	prev := ui.Stdout
	ui.Stdout = &out
	defer func() { ui.Stdout = prev }()

	var seen []int
	err := forEach("delete", []int{1, 2, 3}, func(id int) (string, error) {
		seen = append(seen, id)
		if id == 2 {
			return "", io.ErrUnexpectedEOF
		}
		return "", nil
	})

	if err == nil {
		t.Fatal("expected an error when one item failed")
	}
	if !strings.Contains(err.Error(), "failed: 1") {
		t.Errorf("error = %q, want the tally", err)
	}
	if len(seen) != 3 {
		t.Errorf("fn called for %v, want all three ids", seen)
	}
	text := out.String()
	for _, want := range []string{"#1: delete ok", "#2:", "#3: delete ok", "success: 2 / failed: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestURLsListFiltersByLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config/3/urls" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"config_id": 3,
			"urls": []map[string]any{
				{"id": 1, "name": "alpha (vip)", "original_name": "alpha", "label": "vip", "max_num": 3, "is_active": true, "can_execute": true},
				{"id": 2, "name": "beta", "max_num": 3, "current_count": 3, "is_active": true},
			},
			"pagination": map[string]any{"page": 1, "pages": 1, "has_next": false},
			"total":      2,
			"available":  1,
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "-m", "3", "urls", "list", "--label", "vip")
	if err != nil {
		t.Fatalf("urls list: %v", err)
	}
	if !strings.Contains(out, "alpha") {
		t.Errorf("output should list alpha:\n%s", out)
	}
	if strings.Contains(out, "beta") {
		t.Errorf("output should not list beta:\n%s", out)
	}
	if !strings.Contains(out, `1 match "vip"`) {
		t.Errorf("output should count matches:\n%s", out)
	}
}

func TestURLsExecuteReportsFailures(t *testing.T) {
	var mu sync.Mutex
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/url/5/execute":
			writeJSON(w, http.StatusOK, map[string]any{"message": "executed", "current_count": 1, "remaining": 2})
		case "/api/url/6/execute":
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "max_num reached"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "-m", "3", "urls", "execute", "5", "6")
	if err == nil {
		t.Fatal("expected an error when one execution failed")
	}
	if !strings.Contains(out, "executed (count 1, 2 remaining)") {
		t.Errorf("output missing the success line:\n%s", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 2 {
		t.Errorf("requests = %v, want one per id", hits)
	}
}

func TestMessagesAddSavesTemplates(t *testing.T) {
	var saved string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/machines/3" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"machine": map[string]any{"id": 3, "name": "phone", "message": "hello"}})
		case http.MethodPut:
			var body struct {
				Message *string `json:"message"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == nil {
				t.Errorf("PUT body should carry message: %v", err)
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad body"})
				return
			}
			saved = *body.Message
			writeJSON(w, http.StatusOK, map[string]any{"machine": map[string]any{"id": 3, "message": saved}})
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "-m", "3", "messages", "add", "goodbye")
	if err != nil {
		t.Fatalf("messages add: %v", err)
	}
	if want := "hello\n--------\ngoodbye"; saved != want {
		t.Errorf("saved = %q, want %q", saved, want)
	}
	if !strings.Contains(out, "Added template 2") {
		t.Errorf("output = %q", out)
	}
}

func TestSysconfigDiff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/system-configs" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"configs": map[string]any{
				"general": []map[string]any{
					{"id": 1, "key": "SITE_NAME", "value": "old", "category": "general"},
					{"id": 2, "key": "REGION", "value": "eu", "category": "general"},
				},
			},
			"categories": map[string]string{"general": "General"},
		})
	}))
	defer srv.Close()

	envPath := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nSITE_NAME=new\nREGION=eu\nNEW_TOKEN=abcdef\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, srv, "sysconfig", "diff", envPath)
	if err != nil {
		t.Fatalf("sysconfig diff: %v", err)
	}
	for _, want := range []string{"1 create, 1 update, 1 unchanged", "SITE_NAME", "NEW_TOKEN", "security"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "REGION") {
		t.Errorf("unchanged keys should be hidden without --all:\n%s", out)
	}
}

func TestConfigSetWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")

	_, err := runCLI(t, nil, "--config", path, "config", "set", "poll_interval", "10s")
	if err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("poll_interval = %s, want 10s", cfg.PollInterval)
	}

	if _, err := runCLI(t, nil, "--config", path, "config", "set", "poll_interval", "10ms"); err == nil {
		t.Error("a poll_interval under 1s should be rejected")
	}
}

func TestURLsGetShowsTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/url/5" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url_data": map[string]any{
			"id": 5, "url": "https://t.me/alpha", "name": "alpha (vip)", "original_name": "alpha", "label": "vip",
			"duration": 30, "max_num": 3, "current_count": 1, "is_active": true, "can_execute": true,
		}})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "-m", "3", "urls", "get", "5")
	if err != nil {
		t.Fatalf("urls get: %v", err)
	}
	for _, want := range []string{"Target #5 alpha", "https://t.me/alpha", "vip", "1 / 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestURLsStartAllMarkOnly(t *testing.T) {
	var mu sync.Mutex
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method != http.MethodPost || r.URL.Path != "/api/config/3/start-all" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Started 2 URLs", "started": 2, "total_available": 2})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "-m", "3", "--yes", "urls", "start-all", "--mark-only")
	if err != nil {
		t.Fatalf("urls start-all --mark-only: %v", err)
	}
	if !strings.Contains(out, "Started 2 URLs") {
		t.Errorf("output missing the backend message:\n%s", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 1 {
		t.Errorf("requests = %v, want the single start-all call", hits)
	}
}

// batchBackend serves one machine with two available targets, of which
// target 2 fails to execute
func batchBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/config/3/urls":
			writeJSON(w, http.StatusOK, map[string]any{
				"config_id": 3,
				"urls": []map[string]any{
					{"id": 1, "name": "alpha", "max_num": 3, "is_active": true, "can_execute": true},
					{"id": 2, "name": "beta", "max_num": 3, "is_active": true, "can_execute": true},
				},
				"pagination": map[string]any{"page": 1, "pages": 1, "has_next": false},
			})
		case "/api/url/1/execute":
			writeJSON(w, http.StatusOK, map[string]any{"message": "executed", "current_count": 1, "remaining": 2})
		case "/api/url/2/execute":
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "max_num reached"})
		case "/api/config/3/status":
			writeJSON(w, http.StatusOK, map[string]any{"config": map[string]any{"id": 3, "pade_code": "AC1"}})
		case "/api/start":
			writeJSON(w, http.StatusOK, map[string]any{"message": "started", "padcode": "AC1"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestURLsExecuteAvailablePushesBatchMetrics(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		pushed = map[string]float64{}
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		dec := expfmt.NewDecoder(r.Body, expfmt.ResponseFormat(r.Header))
		for {
			mf := &dto.MetricFamily{}
			if err := dec.Decode(mf); err != nil {
				if !errors.Is(err, io.EOF) {
					t.Errorf("decode push: %v", err)
				}
				return
			}
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "result" {
						pushed[mf.GetName()+"/"+l.GetValue()] = m.GetCounter().GetValue()
					}
				}
			}
		}
	}))
	defer gateway.Close()
	t.Setenv("FLEET_PUSHGATEWAY_URL", gateway.URL)

	out, err := runCLI(t, batchBackend(t), "-m", "3", "--yes", "urls", "execute-available")
	if err == nil {
		t.Fatal("expected an error when one execution failed")
	}
	if !strings.Contains(out, "success: 1 / failed: 1") {
		t.Errorf("output missing the tally:\n%s", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/metrics/job/fleet_batch") || !strings.Contains(path, "/action/execute_available") {
		t.Errorf("push path = %q", path)
	}
	if pushed["fleet_batch_executions_total/success"] != 1 || pushed["fleet_batch_executions_total/failed"] != 1 {
		t.Errorf("pushed counters = %v, want one success and one failure", pushed)
	}
}

func TestUsersToggleAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /api/users/4/toggle-status":
			writeJSON(w, http.StatusOK, map[string]any{
				"message": `User "bob" deactivated successfully`,
				"user":    map[string]any{"id": 4, "username": "bob", "is_active": false},
			})
		case "DELETE /api/users/4":
			writeJSON(w, http.StatusOK, map[string]any{"message": `User "bob" deleted successfully`})
		case "DELETE /api/users/1":
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "Cannot delete yourself"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "--yes", "users", "toggle", "4")
	if err != nil {
		t.Fatalf("users toggle: %v", err)
	}
	if !strings.Contains(out, "deactivated successfully") {
		t.Errorf("toggle output = %q", out)
	}

	out, err = runCLI(t, srv, "--yes", "users", "delete", "4", "1")
	if err == nil {
		t.Fatal("deleting your own account should fail")
	}
	for _, want := range []string{"#4:", "Cannot delete yourself", "success: 1 / failed: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("delete output missing %q:\n%s", want, out)
		}
	}
}

func TestFlagsOverrideInvalidConfigFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config/3/status" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": map[string]any{"id": 3, "name": "phone"}, "total_urls": 4})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte("server: ftp://broken\nmachine_id: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, nil, "--config", path, "urls", "status"); err == nil {
		t.Fatal("the broken file alone should be rejected")
	}
	out, err := runCLI(t, srv, "--config", path, "-m", "3", "urls", "status")
	if err != nil {
		t.Fatalf("urls status with overrides: %v", err)
	}
	if !strings.Contains(out, "Machine #3") {
		t.Errorf("output = %q", out)
	}
}

func TestCleanupUpdateAllMachines(t *testing.T) {
	var body map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/cleanup-tasks/5" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": map[string]any{"id": 5, "name": "nightly"}})
	}))
	defer srv.Close()

	if _, err := runCLI(t, srv, "cleanup", "update", "5", "--all-machines"); err != nil {
		t.Fatalf("cleanup update: %v", err)
	}
	raw, ok := body["target_configs"]
	if !ok || string(raw) != "null" {
		t.Errorf("target_configs = %s (present %v), want null", raw, ok)
	}
	if _, ok := body["name"]; ok {
		t.Errorf("unchanged fields should be left out: %v", body)
	}
}

func TestMessagesShow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/machines/3" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"machine": map[string]any{"id": 3, "name": "phone", "message": `hi\nthere`}})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "-m", "3", "messages", "show", "1")
	if err != nil {
		t.Fatalf("messages show: %v", err)
	}
	for _, want := range []string{"Template 1 of 1", "hi", "there"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, srv, "-m", "3", "messages", "show", "1", "--raw")
	if err != nil {
		t.Fatalf("messages show --raw: %v", err)
	}
	if out != "hi\nthere\n" {
		t.Errorf("raw output = %q, want the unescaped text", out)
	}
}
