package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/realtime"
)

var _ Backend = (*api.Client)(nil)

// fakeBackend records calls and serves a fixed target list
type fakeBackend struct {
	mu        sync.Mutex
	targets   []api.Target
	padeCode  string
	failIDs   map[int]bool
	calls     []string
	executeAt []time.Time
	statusErr error

	// seen captures tracker state during ExecuteTarget
	seen func(id int)
}

func (f *fakeBackend) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeBackend) ConfigStatus(ctx context.Context, machineID int) (*api.ConfigStatus, error) {
	f.record("status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &api.ConfigStatus{Machine: api.Machine{ID: machineID, PadeCode: f.padeCode}, TotalURLs: len(f.targets)}, nil
}

func (f *fakeBackend) ListAllTargets(ctx context.Context, machineID int, includeInactive bool) (*api.TargetPage, error) {
	f.record("list")
	return &api.TargetPage{MachineID: machineID, Targets: append([]api.Target(nil), f.targets...)}, nil
}

func (f *fakeBackend) ExecuteTarget(ctx context.Context, id int) (*api.ExecuteResult, error) {
	f.record(fmt.Sprintf("execute %d", id))
	f.mu.Lock()
	f.executeAt = append(f.executeAt, time.Now())
	f.mu.Unlock()
	if f.seen != nil {
		f.seen(id)
	}
	if f.failIDs[id] {
		return nil, &api.Error{Method: "POST", Path: "/api/url/execute", Status: 400, Message: "max reached"}
	}
	return &api.ExecuteResult{Message: "ok", CurrentCount: 1}, nil
}

func (f *fakeBackend) ResetTarget(ctx context.Context, id int) (string, error) {
	f.record(fmt.Sprintf("reset %d", id))
	return "reset", nil
}

func (f *fakeBackend) ResetAllTargets(ctx context.Context, machineID int) (string, error) {
	f.record("reset all")
	return "reset all", nil
}

func (f *fakeBackend) StartMachine(ctx context.Context, padeCode string) (*api.PowerResult, error) {
	f.record("start " + padeCode)
	return &api.PowerResult{PadeCode: padeCode}, nil
}

func (f *fakeBackend) StopMachine(ctx context.Context, padeCode string) (*api.PowerResult, error) {
	f.record("stop " + padeCode)
	return &api.PowerResult{PadeCode: padeCode}, nil
}

func (f *fakeBackend) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func sampleTargets() []api.Target {
	return []api.Target{
		{ID: 1, Name: "a", CanExecute: true, IsActive: true, MaxNum: 3},
		{ID: 2, Name: "b", CanExecute: false, IsActive: true, MaxNum: 3, CurrentCount: 3},
		{ID: 3, Name: "c", CanExecute: true, IsActive: false, MaxNum: 3},
		{ID: 4, Name: "d", CanExecute: true, IsActive: true, MaxNum: 3},
		{ID: 5, Name: "e", CanExecute: true, IsActive: true, MaxNum: 3},
	}
}

func TestExecuteAvailable(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets(), padeCode: "AC1", failIDs: map[int]bool{4: true}}
	tr := NewTracker(1)
	r := NewRunner(fb, tr, 20*time.Millisecond, nil)

	fb.seen = func(id int) {
		if !tr.IsExecuting(id) {
			t.Errorf("target %d not marked executing while running", id)
		}
		if id == 1 && (!tr.IsExecuting(4) || !tr.IsExecuting(5)) {
			t.Error("all batch targets should be marked executing up front")
		}
	}

	var progress []Progress
	r.OnProgress = func(p Progress) { progress = append(progress, p) }

	sum, err := r.ExecuteAvailable(context.Background())
	if err != nil {
		t.Fatalf("ExecuteAvailable: %v", err)
	}
	if sum.Success != 2 || sum.Failed != 1 || !sum.Started {
		t.Errorf("summary = %+v", sum)
	}
	if sum.String() != "success: 2 / failed: 1" || sum.Localized() != "成功: 2 / 失败: 1" {
		t.Errorf("summary text = %q / %q", sum.String(), sum.Localized())
	}

	if fb.count("execute") != 3 {
		t.Errorf("executions = %d, want 3 (only can_execute && is_active)", fb.count("execute"))
	}
	if fb.count("start AC1") != 1 {
		t.Errorf("machine starts = %d, want 1", fb.count("start AC1"))
	}
	for i := 1; i < len(fb.executeAt); i++ {
		if gap := fb.executeAt[i].Sub(fb.executeAt[i-1]); gap < 20*time.Millisecond {
			t.Errorf("gap %d = %s, want >= 20ms", i, gap)
		}
	}

	for _, id := range []int{1, 4, 5} {
		if tr.IsExecuting(id) {
			t.Errorf("target %d still executing after batch", id)
		}
	}
	if !tr.IsStarted(1) || !tr.IsStarted(5) || tr.IsStarted(4) {
		t.Error("started marks should follow successful executions only")
	}
	if len(progress) != 3 || progress[2].Done != 3 || progress[2].Total != 3 {
		t.Errorf("progress = %+v", progress)
	}
	if progress[1].Err == nil {
		t.Error("failed execution should be reported in progress")
	}
}

func TestExecuteAvailableNoSuccessDoesNotStart(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets()[:1], padeCode: "AC1", failIDs: map[int]bool{1: true}}
	r := NewRunner(fb, NewTracker(1), time.Millisecond, nil)

	sum, err := r.ExecuteAvailable(context.Background())
	if err != nil {
		t.Fatalf("ExecuteAvailable: %v", err)
	}
	if sum.Started || fb.count("start") != 0 {
		t.Errorf("machine started without a success: %+v", sum)
	}
}

func TestExecuteAvailableNothing(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets()[1:3]}
	r := NewRunner(fb, NewTracker(1), time.Millisecond, nil)
	if _, err := r.ExecuteAvailable(context.Background()); !errors.Is(err, ErrNothingToExecute) {
		t.Errorf("err = %v, want ErrNothingToExecute", err)
	}
}

func TestExecuteAvailableCancelClearsMarks(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets(), padeCode: "AC1"}
	tr := NewTracker(1)
	r := NewRunner(fb, tr, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.OnProgress = func(Progress) { cancel() }

	_, err := r.ExecuteAvailable(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if snap := tr.Snapshot(); snap.Executing != 0 {
		t.Errorf("executing marks left: %d", snap.Executing)
	}
	if fb.count("execute") != 1 {
		t.Errorf("executions = %d, want 1", fb.count("execute"))
	}
}

func TestExecuteRejectsDuplicate(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets()}
	tr := NewTracker(1)
	r := NewRunner(fb, tr, 0, nil)

	if !tr.BeginExecute(1) {
		t.Fatal("first BeginExecute = false")
	}
	if tr.BeginExecute(1) {
		t.Error("second BeginExecute should be rejected")
	}
	if _, err := r.Execute(context.Background(), 1); !errors.Is(err, ErrBusy) {
		t.Errorf("Execute = %v, want ErrBusy", err)
	}
	if fb.count("execute") != 0 {
		t.Error("no request should be sent for a busy target")
	}
	tr.EndExecute(1)

	if _, err := r.Execute(context.Background(), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.IsExecuting(1) || !tr.IsStarted(1) {
		t.Error("successful Execute should clear executing and mark started")
	}
}

func TestBeginExecuteConcurrent(t *testing.T) {
	tr := NewTracker(1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.BeginExecute(7) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("BeginExecute won %d times, want 1", wins)
	}
}

func TestResetAndStopClearMarks(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets(), padeCode: "AC9"}
	tr := NewTracker(1)
	r := NewRunner(fb, tr, 0, nil)
	ctx := context.Background()

	mark := func() {
		for _, id := range []int{1, 4} {
			tr.BeginExecute(id)
			tr.MarkStarted(id)
		}
	}

	mark()
	if _, err := r.ResetTarget(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if tr.IsExecuting(1) || tr.IsStarted(1) {
		t.Error("ResetTarget should clear both marks for the id")
	}
	if !tr.IsExecuting(4) || !tr.IsStarted(4) {
		t.Error("ResetTarget should leave other ids alone")
	}

	mark()
	if _, err := r.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}
	if snap := tr.Snapshot(); snap.Executing != 0 || snap.Started != 0 {
		t.Errorf("ResetAll left marks: %+v", snap)
	}

	mark()
	if err := r.StopMachine(ctx); err != nil {
		t.Fatal(err)
	}
	if fb.count("stop AC9") != 1 {
		t.Error("StopMachine did not call the backend")
	}
	if tr.IsStarted(1) || tr.IsStarted(4) {
		t.Error("StopMachine should clear started marks")
	}
	if !tr.IsExecuting(4) {
		t.Error("StopMachine should not touch executing marks")
	}
}

func TestStopMachineWithoutDevice(t *testing.T) {
	fb := &fakeBackend{}
	r := NewRunner(fb, NewTracker(1), 0, nil)
	if err := r.StopMachine(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
}

func TestStartAll(t *testing.T) {
	fb := &fakeBackend{targets: sampleTargets(), padeCode: "AC1"}
	tr := NewTracker(1)
	r := NewRunner(fb, tr, time.Millisecond, nil)

	sum, err := r.StartAll(context.Background())
	if err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if sum.Success != 3 || !sum.Started {
		t.Errorf("summary = %+v", sum)
	}
	if fb.count("start AC1") != 2 {
		t.Errorf("starts = %d, want 2 (before and after the batch)", fb.count("start AC1"))
	}
	for _, id := range []int{1, 4, 5} {
		if !tr.IsStarted(id) {
			t.Errorf("target %d not marked started", id)
		}
	}
	if tr.IsStarted(3) {
		t.Error("inactive target should not be marked started")
	}
}

func TestButtonStates(t *testing.T) {
	tr := NewTracker(1)
	done := api.Target{ID: 1, CanExecute: false, CurrentCount: 3, MaxNum: 3}
	idle := api.Target{ID: 2, CanExecute: true}
	busy := api.Target{ID: 3, CanExecute: true}
	started := api.Target{ID: 4, CanExecute: true}
	tr.BeginExecute(3)
	tr.MarkStarted(4)
	tr.MarkStarted(1)

	tests := []struct {
		target api.Target
		state  ButtonState
		label  string
		zh     string
	}{
		{done, StateCompleted, "completed (3/3)", "已完成 (3/3)"},
		{busy, StateExecuting, "executing…", "执行中..."},
		{started, StateStarted, "started", "已启动"},
		{idle, StateIdle, "not executed", "未执行"},
	}
	for _, tt := range tests {
		st := tr.State(tt.target)
		if st != tt.state {
			t.Errorf("target %d state = %s, want %s", tt.target.ID, st, tt.state)
		}
		if got := st.Label(tt.target); got != tt.label {
			t.Errorf("Label = %q, want %q", got, tt.label)
		}
		if got := st.Localized(tt.target); got != tt.zh {
			t.Errorf("Localized = %q, want %q", got, tt.zh)
		}
	}
}

func TestFilterByLabel(t *testing.T) {
	targets := []api.Target{{ID: 1, Label: "VIP"}, {ID: 2, Label: "normal"}, {ID: 3}}
	if got := FilterByLabel(targets, ""); len(got) != 3 {
		t.Errorf("empty filter kept %d", len(got))
	}
	got := FilterByLabel(targets, "vi")
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("FilterByLabel(vi) = %+v", got)
	}
}

func TestApplyEvents(t *testing.T) {
	tr := NewTracker(1)
	tr.SetTargets([]api.Target{
		{ID: 1, Name: "群A", OriginalName: "群A", MaxNum: 3, CurrentCount: 2, CanExecute: true},
		{ID: 2, Name: "群B (old)", OriginalName: "群B", Label: "old", MaxNum: 3},
	}, time.Now())

	event := func(name, data string) realtime.Event {
		return realtime.Event{Name: name, Data: []byte(data)}
	}

	tests := []struct {
		name string
		ev   realtime.Event
		want Outcome
	}{
		{"other machine ignored", event(realtime.EventURLStarted, `{"url_id":1,"config_id":9}`), Ignored},
		{"started flag", event(realtime.EventURLStarted, `{"url_id":1,"config_id":1}`), Patched},
		{"executed count", event(realtime.EventURLExecuted, `{"url_id":1,"current_count":3}`), Patched},
		{"label", event(realtime.EventLabelUpdated, `{"url_id":2,"label":"vip"}`), Patched},
		{"status", event(realtime.EventStatusUpdated, `{"config_id":1}`), NeedsRefresh},
		{"unknown target", event(realtime.EventURLStopped, `{"url_id":99,"config_id":1}`), NeedsRefresh},
		{"new target with data", event(realtime.EventURLStarted, `{"url_id":7,"config_id":1,"url_data":{"id":7,"name":"新"}}`), Patched},
		{"unknown event", event("chat", `{}`), Ignored},
		{"connect", realtime.Event{Name: realtime.EventConnect}, Patched},
	}
	for _, tt := range tests {
		got, err := tr.Apply(tt.ev)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: outcome = %d, want %d", tt.name, got, tt.want)
		}
	}

	byID := map[int]api.Target{}
	for _, tg := range tr.Targets() {
		byID[tg.ID] = tg
	}
	if a := byID[1]; !a.IsRunning || a.CurrentCount != 3 || a.CanExecute {
		t.Errorf("target 1 = %+v", a)
	}
	if b := byID[2]; b.Name != "群B (vip)" || b.Label != "vip" {
		t.Errorf("target 2 = %+v", b)
	}
	if _, ok := byID[7]; !ok {
		t.Error("target 7 should have been added")
	}
	if !tr.Snapshot().Connected {
		t.Error("connect event should mark connected")
	}

	if _, err := tr.Apply(event(realtime.EventURLStarted, `not json`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestPollerDeliversAndSurvivesFailure(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		f := fail
		mu.Unlock()
		if f {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"db down"}`)
			return
		}
		switch r.URL.Path {
		case "/api/config/1/status":
			io.WriteString(w, `{"config":{"id":1,"pade_code":"AC1"},"total_urls":1}`)
		case "/api/config/1/urls":
			io.WriteString(w, `{"config_id":1,"urls":[{"id":1,"can_execute":true,"is_active":true}],"pagination":{"has_next":false}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := api.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(1)
	p := NewPoller(client, tr, 30*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go p.Run(ctx)

	first := <-p.Results()
	if first.Err != nil {
		t.Fatalf("first poll: %v", first.Err)
	}
	if tr.PadeCode() != "AC1" || len(tr.Targets()) != 1 {
		t.Errorf("tracker not updated: %q %d", tr.PadeCode(), len(tr.Targets()))
	}

	mu.Lock()
	fail = true
	mu.Unlock()
	var sawErr bool
	for !sawErr {
		res, ok := <-p.Results()
		if !ok {
			t.Fatal("results closed early")
		}
		sawErr = res.Err != nil
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	for {
		res, ok := <-p.Results()
		if !ok {
			t.Fatal("poller stopped after a failure")
		}
		if res.Err == nil {
			break
		}
	}

	cancel()
	for range p.Results() {
	}
}
