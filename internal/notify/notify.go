package notify

import (
	"sync"
	"time"
)

// Kind selects a toast's icon, color and default title
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Warning Kind = "warning"
	Info    Kind = "info"
)

const (
	// DefaultDuration is how long a toast stays up
	DefaultDuration = 5 * time.Second
	// ErrorDuration is the longer default for errors
	ErrorDuration = 8 * time.Second
	// Sticky keeps a toast until it is hidden
	Sticky time.Duration = 0
	// UseDefault picks the kind's default duration
	UseDefault time.Duration = -1

	// MaxVisible bounds the stack; the oldest toast goes first
	MaxVisible = 5
)

// Icon returns the glyph shown before the message
func (k Kind) Icon() string {
	switch k {
	case Success:
		return "✔"
	case Error:
		return "✖"
	case Warning:
		return "⚠"
	default:
		return "ℹ"
	}
}

// Title is the dashboard's default title for the kind
func (k Kind) Title() string {
	switch k {
	case Success:
		return "成功"
	case Error:
		return "错误"
	case Warning:
		return "警告"
	default:
		return "提示"
	}
}

// Label is the English name used on the command line
func (k Kind) Label() string {
	switch k {
	case Success:
		return "Success"
	case Error:
		return "Error"
	case Warning:
		return "Warning"
	default:
		return "Info"
	}
}

// Toast is one notification
type Toast struct {
	ID       int
	Kind     Kind
	Title    string
	Message  string
	Created  time.Time
	Duration time.Duration
}

// Sticky reports whether the toast never expires
func (t Toast) Sticky() bool {
	return t.Duration <= 0
}

// Expired reports whether the toast should be gone at now
func (t Toast) Expired(now time.Time) bool {
	return !t.Sticky() && !now.Before(t.Created.Add(t.Duration))
}

// Notifier holds the visible toasts. It is safe for concurrent use.
type Notifier struct {
	mu       sync.Mutex
	toasts   []Toast
	nextID   int
	duration time.Duration
	now      func() time.Time
}

// NewNotifier creates a notifier. duration replaces DefaultDuration for
// non-error toasts when positive.
func NewNotifier(duration time.Duration) *Notifier {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Notifier{duration: duration, now: time.Now}
}

// Show adds a toast and returns its id. An empty title uses the kind's
// default; UseDefault picks the kind's default duration and Sticky keeps it
// until hidden.
func (n *Notifier) Show(kind Kind, title, message string, duration time.Duration) int {
	if title == "" {
		title = kind.Title()
	}
	if duration < 0 {
		duration = n.duration
		if kind == Error {
			duration = max(ErrorDuration, n.duration)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.toasts = append(n.toasts, Toast{
		ID:       n.nextID,
		Kind:     kind,
		Title:    title,
		Message:  message,
		Created:  n.now(),
		Duration: duration,
	})
	if over := len(n.toasts) - MaxVisible; over > 0 {
		n.toasts = append([]Toast(nil), n.toasts[over:]...)
	}
	return n.nextID
}

func (n *Notifier) Success(message string) int { return n.Show(Success, "", message, UseDefault) }
func (n *Notifier) Error(message string) int   { return n.Show(Error, "", message, UseDefault) }
func (n *Notifier) Warning(message string) int { return n.Show(Warning, "", message, UseDefault) }
func (n *Notifier) Info(message string) int    { return n.Show(Info, "", message, UseDefault) }

// Hide removes a toast. It reports whether the id was visible.
func (n *Notifier) Hide(id int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, t := range n.toasts {
		if t.ID == id {
			n.toasts = append(n.toasts[:i], n.toasts[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every toast
func (n *Notifier) Clear() {
	n.mu.Lock()
	n.toasts = nil
	n.mu.Unlock()
}

// Active drops expired toasts and returns the rest, oldest first
func (n *Notifier) Active(now time.Time) []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.toasts[:0]
	for _, t := range n.toasts {
		if !t.Expired(now) {
			kept = append(kept, t)
		}
	}
	n.toasts = kept
	return append([]Toast(nil), kept...)
}
