package notify

import "sync"

// ConfirmKind colors the accept button
type ConfirmKind string

const (
	Danger    ConfirmKind = "danger"
	Primary   ConfirmKind = "primary"
	Secondary ConfirmKind = "secondary"
	Caution   ConfirmKind = "warning"
	Notice    ConfirmKind = "info"
)

// Icon returns the glyph shown above the question
func (k ConfirmKind) Icon() string {
	switch k {
	case Danger, Caution:
		return "⚠"
	case Secondary, Notice:
		return "ℹ"
	default:
		return "?"
	}
}

// Confirm describes a yes/no question
type Confirm struct {
	Title       string
	Message     string
	ConfirmText string
	CancelText  string
	Kind        ConfirmKind
}

// WithDefaults fills in the button texts and kind
func (c Confirm) WithDefaults() Confirm {
	if c.ConfirmText == "" {
		c.ConfirmText = "确认"
	}
	if c.CancelText == "" {
		c.CancelText = "取消"
	}
	switch c.Kind {
	case Danger, Primary, Secondary, Caution, Notice:
	default:
		c.Kind = Primary
	}
	return c
}

// Dialog is an open confirm waiting for an answer. Action is whatever the
// caller wants to run once it is accepted.
type Dialog struct {
	Confirm
	Action any

	mu       sync.Mutex
	resolved bool
	accepted bool
}

// NewDialog opens a confirm
func NewDialog(c Confirm, action any) *Dialog {
	return &Dialog{Confirm: c.WithDefaults(), Action: action}
}

// Resolve records the answer. Only the first call counts; later calls
// return false.
func (d *Dialog) Resolve(accepted bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolved {
		return false
	}
	d.resolved = true
	d.accepted = accepted
	return true
}

// Outcome returns the answer and whether there is one yet
func (d *Dialog) Outcome() (accepted, resolved bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted, d.resolved
}
