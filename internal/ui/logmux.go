package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// ActivityLog is the dashboard's ring buffer of timestamped lines: socket
// events, batch progress and action results.
type ActivityLog struct {
	lines      []string
	maxLines   int
	written    int
	timeFormat string
	now        func() time.Time
	mu         sync.RWMutex
}

// NewActivityLog creates a log keeping at most maxLines lines
func NewActivityLog(maxLines int) *ActivityLog {
	if maxLines <= 0 {
		maxLines = 500
	}
	return &ActivityLog{
		lines:      make([]string, 0, maxLines),
		maxLines:   maxLines,
		timeFormat: "15:04:05",
		now:        time.Now,
	}
}

// Append adds a line, dropping the oldest when full
func (l *ActivityLog) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	formatted := "[" + l.now().Format(l.timeFormat) + "] " + line
	if len(l.lines) >= l.maxLines {
		copy(l.lines, l.lines[1:])
		l.lines = l.lines[:len(l.lines)-1]
	}
	l.lines = append(l.lines, formatted)
	l.written++
}

// Appendf formats and appends a line
func (l *ActivityLog) Appendf(format string, args ...any) {
	l.Append(fmt.Sprintf(format, args...))
}

// GetAll returns all lines in the buffer
func (l *ActivityLog) GetAll() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]string, len(l.lines))
	copy(result, l.lines)
	return result
}

// Since returns the lines appended after the first seq ones, as far as the
// buffer still holds them, and the sequence number to pass next time
func (l *ActivityLog) Since(seq int) ([]string, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	first := l.written - len(l.lines)
	start := max(seq-first, 0)
	if start > len(l.lines) {
		start = len(l.lines)
	}
	result := make([]string, len(l.lines)-start)
	copy(result, l.lines[start:])
	return result, l.written
}

// Clear clears all lines from the buffer
func (l *ActivityLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = l.lines[:0]
}

// Len returns the number of lines in the buffer
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

// DescribeEvent renders a socket event as one activity line
func DescribeEvent(ev realtime.Event) string {
	switch ev.Name {
	case realtime.EventConnect:
		return "socket connected"
	case realtime.EventDisconnect:
		if ev.Err != nil {
			return "socket disconnected: " + ev.Err.Error()
		}
		return "socket disconnected"
	}

	te, err := ev.Decode()
	if err != nil {
		return ev.Name + ": " + err.Error()
	}
	name := fmt.Sprintf("#%d", te.TargetID)
	if te.Target != nil && te.Target.Name != "" {
		name = fmt.Sprintf("%s (#%d)", te.Target.Name, te.TargetID)
	}

	switch ev.Name {
	case realtime.EventURLStarted:
		return "started " + name
	case realtime.EventURLStopped:
		return "stopped " + name
	case realtime.EventURLExecuted:
		if te.CurrentCount != nil {
			return fmt.Sprintf("executed %s, count %d", name, *te.CurrentCount)
		}
		return "executed " + name
	case realtime.EventLabelUpdated:
		if te.Label != nil {
			return fmt.Sprintf("label of %s set to %q", name, *te.Label)
		}
		return "label updated on " + name
	case realtime.EventStatusUpdated:
		return fmt.Sprintf("status updated for machine %d", te.MachineID)
	}
	return "event " + ev.Name
}

// DescribeProgress renders one finished execution of a batch
func DescribeProgress(p fleet.Progress) string {
	if p.Err != nil {
		return fmt.Sprintf("[%d/%d] %s failed: %v", p.Done, p.Total, p.Target.Name, p.Err)
	}
	return fmt.Sprintf("[%d/%d] %s executed", p.Done, p.Total, p.Target.Name)
}
