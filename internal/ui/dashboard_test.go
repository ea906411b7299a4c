package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// fakeBackend serves a fixed machine and records every call
type fakeBackend struct {
	mu        sync.Mutex
	targets   []api.Target
	calls     []string
	statusErr error
}

func (f *fakeBackend) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeBackend) called(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == s {
			return true
		}
	}
	return false
}

func (f *fakeBackend) ConfigStatus(ctx context.Context, machineID int) (*api.ConfigStatus, error) {
	f.record("status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &api.ConfigStatus{
		Machine:               api.Machine{ID: machineID, Name: "phone-7", PadeCode: "AC01"},
		TotalURLs:             len(f.targets),
		AvailableURLs:         1,
		CompletedURLs:         1,
		TotalExecutions:       3,
		MaxPossibleExecutions: 6,
	}, nil
}

func (f *fakeBackend) ListAllTargets(ctx context.Context, machineID int, includeInactive bool) (*api.TargetPage, error) {
	f.record("list")
	return &api.TargetPage{MachineID: machineID, Targets: append([]api.Target(nil), f.targets...)}, nil
}

func (f *fakeBackend) ExecuteTarget(ctx context.Context, id int) (*api.ExecuteResult, error) {
	f.record(fmt.Sprintf("execute %d", id))
	return &api.ExecuteResult{Message: "ok", CurrentCount: 1, Remaining: 2}, nil
}

func (f *fakeBackend) ResetTarget(ctx context.Context, id int) (string, error) {
	f.record(fmt.Sprintf("reset %d", id))
	return "count reset", nil
}

func (f *fakeBackend) ResetAllTargets(ctx context.Context, machineID int) (string, error) {
	f.record("reset all")
	return "all counts reset", nil
}

func (f *fakeBackend) StartMachine(ctx context.Context, padeCode string) (*api.PowerResult, error) {
	f.record("start " + padeCode)
	return &api.PowerResult{PadeCode: padeCode}, nil
}

func (f *fakeBackend) StopMachine(ctx context.Context, padeCode string) (*api.PowerResult, error) {
	f.record("stop " + padeCode)
	return &api.PowerResult{PadeCode: padeCode}, nil
}

func testTargets() []api.Target {
	return []api.Target{
		{ID: 1, Name: "alpha (vip)", OriginalName: "alpha", Label: "vip", URL: "https://t.me/alpha", Duration: 30, MaxNum: 3, CanExecute: true, IsActive: true},
		{ID: 2, Name: "beta", URL: "https://t.me/beta", Duration: 30, MaxNum: 3, CurrentCount: 3, CanExecute: false, IsActive: true},
	}
}

func newTestDashboard(t *testing.T) (*DashboardModel, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{targets: testTargets()}
	runner := fleet.NewRunner(fb, fleet.NewTracker(7), time.Millisecond, nil)
	m := NewDashboard(DashboardConfig{Runner: runner})
	m.Update(tea.WindowSizeMsg{Width: 160, Height: 50})
	return m, fb
}

// poll runs one poll and hands the result to the dashboard
func poll(m *DashboardModel, fb *fakeBackend) tea.Cmd {
	p := fleet.NewPoller(fb, m.tracker, time.Second, nil)
	_, cmd := m.Update(pollMsg(p.Poll(context.Background())))
	return cmd
}

func press(m *DashboardModel, k string) tea.Cmd {
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	_, cmd := m.Update(msg)
	return cmd
}

// drain runs cmd and feeds finished actions back into the model until
// nothing is left. Commands that block, such as the update listener, are
// skipped.
func drain(t *testing.T, m *DashboardModel, cmd tea.Cmd) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		done := make(chan tea.Msg, 1)
		go func() { done <- c() }()

		var msg tea.Msg
		select {
		case msg = <-done:
		case <-time.After(time.Second):
			continue
		}

		switch msg := msg.(type) {
		case tea.BatchMsg:
			queue = append(queue, msg...)
		case actionMsg:
			_, next := m.Update(msg)
			queue = append(queue, next)
		}
	}
}

func activeToasts(m *DashboardModel, kind notify.Kind) []notify.Toast {
	var out []notify.Toast
	for _, t := range m.notifier.Active(time.Now()) {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func TestNewDashboard(t *testing.T) {
	m, _ := newTestDashboard(t)

	if m.selectedIndex != 0 {
		t.Errorf("expected selectedIndex 0, got %d", m.selectedIndex)
	}
	if m.GetUpdateChannel() == nil {
		t.Error("expected update channel")
	}
	if m.runner.OnProgress == nil {
		t.Error("expected the runner's progress hook to be wired")
	}
	if !strings.Contains(m.View(), "loading") {
		t.Error("expected a loading placeholder before the first poll")
	}
}

func TestDefaultStyles(t *testing.T) {
	styles := DefaultStyles()
	if styles == nil {
		t.Fatal("expected non-nil styles")
	}
}

func TestDashboardPollPopulatesView(t *testing.T) {
	m, fb := newTestDashboard(t)

	if cmd := poll(m, fb); cmd == nil {
		t.Fatal("expected the dashboard to keep listening after a poll")
	}
	if len(m.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(m.rows))
	}

	view := m.View()
	for _, want := range []string{"phone-7", "alpha", "[vip]", "not executed", "completed (3/3)", "3/6"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboardExecuteSelected(t *testing.T) {
	m, fb := newTestDashboard(t)
	poll(m, fb)

	drain(t, m, press(m, "x"))

	if !fb.called("execute 1") {
		t.Fatalf("expected target 1 to be executed, calls: %v", fb.calls)
	}
	if !m.tracker.IsStarted(1) {
		t.Error("expected target 1 marked started")
	}
	toasts := activeToasts(m, notify.Success)
	if len(toasts) != 1 || !strings.Contains(toasts[0].Message, "alpha: ok (2 remaining)") {
		t.Errorf("unexpected success toasts: %+v", toasts)
	}
}

func TestDashboardExecuteCompletedWarns(t *testing.T) {
	m, fb := newTestDashboard(t)
	poll(m, fb)

	press(m, "j")
	if cmd := press(m, "x"); cmd != nil {
		t.Error("expected no command for a completed target")
	}
	if fb.called("execute 2") {
		t.Error("completed target must not be executed")
	}
	if len(activeToasts(m, notify.Warning)) != 1 {
		t.Error("expected a warning toast")
	}
}

func TestDashboardStopMachineConfirm(t *testing.T) {
	m, fb := newTestDashboard(t)
	poll(m, fb)

	press(m, "S")
	if m.dialog == nil {
		t.Fatal("expected a confirm dialog")
	}
	if m.dialog.Kind != notify.Danger {
		t.Errorf("expected a danger confirm, got %s", m.dialog.Kind)
	}
	if !strings.Contains(m.View(), "Stop the machine?") {
		t.Error("expected the dialog in the view")
	}

	// Keys other than the answers are swallowed
	if cmd := press(m, "x"); cmd != nil || fb.called("execute 1") {
		t.Error("expected keys to be ignored while the dialog is open")
	}

	if cmd := press(m, "n"); cmd != nil {
		t.Error("expected no command after cancel")
	}
	if m.dialog != nil {
		t.Error("expected the dialog to close on cancel")
	}
	if fb.called("stop AC01") {
		t.Fatal("cancelled stop must not reach the backend")
	}

	press(m, "S")
	drain(t, m, press(m, "y"))
	if !fb.called("stop AC01") {
		t.Fatalf("expected the machine to be stopped, calls: %v", fb.calls)
	}
	if len(activeToasts(m, notify.Success)) != 1 {
		t.Error("expected a success toast")
	}
}

func TestDashboardExecuteAvailable(t *testing.T) {
	m, fb := newTestDashboard(t)
	poll(m, fb)

	press(m, "a")
	if m.dialog == nil || m.dialog.Kind != notify.Primary {
		t.Fatal("expected a primary confirm")
	}
	cmd := press(m, "enter")
	if m.busy != ActionExecuteAvailable {
		t.Errorf("expected busy %q, got %q", ActionExecuteAvailable, m.busy)
	}

	// A second batch is refused while one runs
	press(m, "s")
	if m.dialog != nil {
		t.Error("expected no dialog while a batch is running")
	}

	drain(t, m, cmd)
	if m.busy != "" {
		t.Error("expected busy to clear")
	}
	if !fb.called("execute 1") || fb.called("execute 2") {
		t.Errorf("unexpected executions: %v", fb.calls)
	}
	if !fb.called("start AC01") {
		t.Error("expected the machine to be started after the batch")
	}
	toasts := activeToasts(m, notify.Success)
	if len(toasts) != 1 || !strings.Contains(toasts[0].Message, "成功: 1 / 失败: 0") {
		t.Errorf("unexpected success toasts: %+v", toasts)
	}
}

func TestDashboardFilter(t *testing.T) {
	m, fb := newTestDashboard(t)
	poll(m, fb)

	press(m, "/")
	if !m.filtering {
		t.Fatal("expected filter input to open")
	}
	press(m, "V")
	press(m, "i")
	press(m, "p")
	press(m, "enter")

	if m.filtering {
		t.Error("expected filter input to close")
	}
	if m.filter != "Vip" {
		t.Errorf("expected filter %q, got %q", "Vip", m.filter)
	}
	if len(m.rows) != 1 || m.rows[0].Target.ID != 1 {
		t.Fatalf("expected only target 1, got %+v", m.rows)
	}
	if !strings.Contains(m.View(), "(1/2)") {
		t.Error("expected the match count in the view")
	}

	press(m, "esc")
	if m.filter != "" || len(m.rows) != 2 {
		t.Error("expected esc to clear the filter")
	}
}

func TestDashboardSocketEvent(t *testing.T) {
	m, fb := newTestDashboard(t)
	poll(m, fb)

	data, _ := json.Marshal(map[string]any{"url_id": 1, "config_id": 7})
	m.Update(socketMsg(realtime.Event{Name: realtime.EventURLStarted, Data: data, At: time.Now()}))

	if !m.rows[0].Target.IsRunning {
		t.Error("expected target 1 to be running")
	}
	last := lastActivity(m)
	if !strings.HasSuffix(last, "started #1") {
		t.Errorf("unexpected activity: %v", last)
	}

	// Other machines are ignored
	data, _ = json.Marshal(map[string]any{"url_id": 1, "config_id": 8})
	m.Update(socketMsg(realtime.Event{Name: realtime.EventURLStopped, Data: data, At: time.Now()}))
	if !m.rows[0].Target.IsRunning {
		t.Error("expected an event for another machine to be ignored")
	}

	m.Update(socketMsg(realtime.Event{Name: realtime.EventConnect, At: time.Now()}))
	if !strings.Contains(m.View(), "live") {
		t.Error("expected the live marker after connect")
	}
}

func TestDashboardUnauthorizedQuits(t *testing.T) {
	m, fb := newTestDashboard(t)
	fb.statusErr = &api.Error{Method: "GET", Path: "/api/config/7/status", Status: 401}

	if cmd := poll(m, fb); cmd == nil {
		t.Fatal("expected a quit command")
	}
	if !errors.Is(m.Err(), api.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", m.Err())
	}
	if !m.quitting {
		t.Error("expected the dashboard to quit")
	}
	if len(activeToasts(m, notify.Error)) != 1 {
		t.Error("expected an error toast")
	}
}

func TestDashboardPollFailureToastsOnce(t *testing.T) {
	m, fb := newTestDashboard(t)
	fb.statusErr = errors.New("connection refused")

	poll(m, fb)
	poll(m, fb)
	if n := len(activeToasts(m, notify.Warning)); n != 1 {
		t.Errorf("expected one warning for a failing streak, got %d", n)
	}
	if m.Err() != nil {
		t.Error("a failed poll must not end the session")
	}

	fb.statusErr = nil
	poll(m, fb)
	fb.statusErr = errors.New("connection refused")
	poll(m, fb)
	if n := len(activeToasts(m, notify.Warning)); n != 2 {
		t.Errorf("expected a new warning after recovery, got %d", n)
	}
}

func TestDashboardProgress(t *testing.T) {
	m, _ := newTestDashboard(t)

	m.SendProgress(fleet.Progress{Target: api.Target{Name: "alpha"}, Done: 1, Total: 2})
	msg := <-m.GetUpdateChannel()
	m.Update(msg)

	last := lastActivity(m)
	if !strings.HasSuffix(last, "[1/2] alpha executed") {
		t.Errorf("unexpected activity: %v", last)
	}
}

func TestActivityLog(t *testing.T) {
	l := NewActivityLog(3)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }

	for i := 1; i <= 5; i++ {
		l.Appendf("line %d", i)
	}

	all := l.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(all))
	}
	if all[0] != "[09:30:00] line 3" || all[2] != "[09:30:00] line 5" {
		t.Errorf("unexpected lines: %v", all)
	}

	lines, next := l.Since(4)
	if len(lines) != 1 || lines[0] != "[09:30:00] line 5" || next != 5 {
		t.Errorf("Since(4) = %v, %d", lines, next)
	}
	lines, _ = l.Since(0)
	if len(lines) != 3 {
		t.Errorf("Since(0) should return what the buffer holds, got %v", lines)
	}

	l.Clear()
	if l.Len() != 0 {
		t.Errorf("expected empty log, got %d", l.Len())
	}
}

func TestRunnerPlainMode(t *testing.T) {
	fb := &fakeBackend{targets: testTargets()}
	tracker := fleet.NewTracker(7)
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var polls int
	dr := NewDashboardRunner(RunnerConfig{
		Dashboard: DashboardConfig{
			Context: ctx,
			Runner:  fleet.NewRunner(fb, tracker, time.Millisecond, nil),
		},
		Poller:       fleet.NewPoller(fb, tracker, time.Hour, nil),
		OnPoll:       func(fleet.PollResult) { polls++ },
		FallbackMode: true,
		Out:          &out,
	})

	go func() {
		for !strings.Contains(readActivity(dr), "machine 7") {
			time.Sleep(10 * time.Millisecond)
		}
		dr.Stop()
	}()

	if err := dr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if polls != 1 {
		t.Errorf("expected one poll, got %d", polls)
	}
	if !strings.Contains(out.String(), "machine 7: 3/6 executions") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func readActivity(dr *DashboardRunner) string {
	return strings.Join(dr.dashboard.activity.GetAll(), "\n")
}

func lastActivity(m *DashboardModel) string {
	lines := m.activity.GetAll()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    uint64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{1073741824, "1.0 GiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"alpha", 10, "alpha"},
		{"alphabet", 5, "alph…"},
		{"群组名称很长", 3, "群组…"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
