package fleet

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// ButtonState is what a target's execute button shows
type ButtonState int

const (
	StateIdle ButtonState = iota
	StateExecuting
	StateStarted
	StateCompleted
)

func (s ButtonState) String() string {
	switch s {
	case StateExecuting:
		return "executing"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	default:
		return "not executed"
	}
}

// Label renders the state for t the way the button shows it
func (s ButtonState) Label(t api.Target) string {
	switch s {
	case StateCompleted:
		return fmt.Sprintf("completed (%d/%d)", t.CurrentCount, t.MaxNum)
	case StateExecuting:
		return "executing…"
	default:
		return s.String()
	}
}

// Localized is the dashboard's Chinese label
func (s ButtonState) Localized(t api.Target) string {
	switch s {
	case StateCompleted:
		return fmt.Sprintf("已完成 (%d/%d)", t.CurrentCount, t.MaxNum)
	case StateExecuting:
		return "执行中..."
	case StateStarted:
		return "已启动"
	default:
		return "未执行"
	}
}

// Outcome says what applying a socket event did
type Outcome int

const (
	Ignored Outcome = iota
	Patched
	NeedsRefresh
)

// Tracker is the client-side view of one machine: the latest status and
// targets, plus the executing set and the started map that the backend
// does not know about. All methods are safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	machineID int
	status    *api.ConfigStatus
	targets   []api.Target
	updated   time.Time
	connected bool

	executing map[int]struct{}
	running   map[int]bool
}

// NewTracker tracks the machine with id machineID
func NewTracker(machineID int) *Tracker {
	return &Tracker{
		machineID: machineID,
		executing: make(map[int]struct{}),
		running:   make(map[int]bool),
	}
}

// MachineID returns the tracked machine
func (t *Tracker) MachineID() int {
	return t.machineID
}

// BeginExecute marks id as executing. It returns false, and changes
// nothing, if id is already executing.
func (t *Tracker) BeginExecute(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.executing[id]; busy {
		return false
	}
	t.executing[id] = struct{}{}
	return true
}

// EndExecute clears the executing mark for id
func (t *Tracker) EndExecute(id int) {
	t.mu.Lock()
	delete(t.executing, id)
	t.mu.Unlock()
}

// IsExecuting reports whether id is executing
func (t *Tracker) IsExecuting(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.executing[id]
	return ok
}

// MarkStarted records that the machine was started for id
func (t *Tracker) MarkStarted(id int) {
	t.mu.Lock()
	t.running[id] = true
	t.mu.Unlock()
}

// IsStarted reports whether id is marked started
func (t *Tracker) IsStarted(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running[id]
}

// ClearStarted forgets every started mark. Used after the machine stops.
func (t *Tracker) ClearStarted() {
	t.mu.Lock()
	clear(t.running)
	t.mu.Unlock()
}

// Forget clears both marks for one target
func (t *Tracker) Forget(id int) {
	t.mu.Lock()
	delete(t.executing, id)
	delete(t.running, id)
	t.mu.Unlock()
}

// ForgetAll clears both marks for every target
func (t *Tracker) ForgetAll() {
	t.mu.Lock()
	clear(t.executing)
	clear(t.running)
	t.mu.Unlock()
}

// SetStatus stores a freshly fetched machine status
func (t *Tracker) SetStatus(status *api.ConfigStatus, at time.Time) {
	t.mu.Lock()
	t.status = status
	t.updated = at
	t.mu.Unlock()
}

// SetTargets replaces the cached targets
func (t *Tracker) SetTargets(targets []api.Target, at time.Time) {
	t.mu.Lock()
	t.targets = append([]api.Target(nil), targets...)
	t.updated = at
	t.mu.Unlock()
}

// PadeCode returns the machine's device code from the last status
func (t *Tracker) PadeCode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == nil {
		return ""
	}
	return t.status.Machine.PadeCode
}

// State derives the button state for target
func (t *Tracker) State(target api.Target) ButtonState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(target)
}

func (t *Tracker) stateLocked(target api.Target) ButtonState {
	if !target.CanExecute {
		return StateCompleted
	}
	if _, ok := t.executing[target.ID]; ok {
		return StateExecuting
	}
	if t.running[target.ID] {
		return StateStarted
	}
	return StateIdle
}

// Available returns the targets a batch run would execute
func Available(targets []api.Target) []api.Target {
	var out []api.Target
	for _, tg := range targets {
		if tg.CanExecute && tg.IsActive {
			out = append(out, tg)
		}
	}
	return out
}

// FilterByLabel keeps targets whose label contains label, ignoring case.
// An empty label keeps everything.
func FilterByLabel(targets []api.Target, label string) []api.Target {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return targets
	}
	var out []api.Target
	for _, tg := range targets {
		if strings.Contains(strings.ToLower(tg.Label), label) {
			out = append(out, tg)
		}
	}
	return out
}

// FilterLabel returns the rows whose target label contains label, ignoring
// case
func (s Snapshot) FilterLabel(label string) []Row {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return s.Rows
	}
	var out []Row
	for _, r := range s.Rows {
		if strings.Contains(strings.ToLower(r.Target.Label), label) {
			out = append(out, r)
		}
	}
	return out
}

// Row is a target with its derived button state
type Row struct {
	Target api.Target
	State  ButtonState
}

// Snapshot is a consistent copy of the tracker for rendering
type Snapshot struct {
	MachineID int
	Status    *api.ConfigStatus
	Rows      []Row
	Executing int
	Started   int
	Connected bool
	Updated   time.Time
}

// Snapshot copies the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		MachineID: t.machineID,
		Executing: len(t.executing),
		Connected: t.connected,
		Updated:   t.updated,
	}
	if t.status != nil {
		st := *t.status
		s.Status = &st
	}
	for _, tg := range t.targets {
		s.Rows = append(s.Rows, Row{Target: tg, State: t.stateLocked(tg)})
	}
	for _, on := range t.running {
		if on {
			s.Started++
		}
	}
	return s
}

// Targets returns a copy of the cached targets
func (t *Tracker) Targets() []api.Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]api.Target(nil), t.targets...)
}

// Apply patches the cache with a socket event. Events for another machine
// are ignored.
func (t *Tracker) Apply(ev realtime.Event) (Outcome, error) {
	switch ev.Name {
	case realtime.EventConnect, realtime.EventDisconnect:
		t.mu.Lock()
		t.connected = ev.Name == realtime.EventConnect
		t.mu.Unlock()
		return Patched, nil
	}

	te, err := ev.Decode()
	if err != nil {
		return Ignored, err
	}
	if te.MachineID != 0 && te.MachineID != t.machineID {
		return Ignored, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Name {
	case realtime.EventStatusUpdated:
		return NeedsRefresh, nil
	case realtime.EventURLStarted, realtime.EventURLStopped, realtime.EventURLExecuted:
		i := t.indexLocked(te.TargetID)
		if te.Target != nil {
			if i < 0 {
				if te.MachineID == 0 {
					return Ignored, nil
				}
				t.targets = append(t.targets, *te.Target)
				return Patched, nil
			}
			t.targets[i] = *te.Target
			return Patched, nil
		}
		if i < 0 {
			return NeedsRefresh, nil
		}
		tg := &t.targets[i]
		switch {
		case ev.Name == realtime.EventURLStarted:
			tg.IsRunning = true
		case ev.Name == realtime.EventURLStopped:
			tg.IsRunning = false
		case te.CurrentCount != nil:
			tg.CurrentCount = *te.CurrentCount
			tg.CanExecute = tg.CurrentCount < tg.MaxNum
		default:
			return NeedsRefresh, nil
		}
		return Patched, nil
	case realtime.EventLabelUpdated:
		i := t.indexLocked(te.TargetID)
		if i < 0 || te.Label == nil {
			return Ignored, nil
		}
		tg := &t.targets[i]
		tg.Label = strings.TrimSpace(*te.Label)
		base := tg.BaseName()
		tg.OriginalName = base
		tg.Name = base
		if tg.Label != "" {
			tg.Name = fmt.Sprintf("%s (%s)", base, tg.Label)
		}
		return Patched, nil
	}
	return Ignored, nil
}

func (t *Tracker) indexLocked(id int) int {
	for i, tg := range t.targets {
		if tg.ID == id {
			return i
		}
	}
	return -1
}
