package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harshul/fleet-cli/internal/api"
)

// Event names pushed by the backend, plus the two connection events the
// client synthesizes.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"

	EventURLExecuted   = "url_executed"
	EventStatusUpdated = "status_updated"
	EventURLStarted    = "url_started"
	EventURLStopped    = "url_stopped"
	EventLabelUpdated  = "label_updated"
)

// Event is one message from the socket
type Event struct {
	Name string
	Data json.RawMessage
	At   time.Time
	// Err is the reason for a disconnect, if any
	Err error
}

// Known reports whether the event is one the dashboard reacts to
func (e Event) Known() bool {
	switch e.Name {
	case EventConnect, EventDisconnect, EventURLExecuted, EventStatusUpdated,
		EventURLStarted, EventURLStopped, EventLabelUpdated:
		return true
	}
	return false
}

// TargetEvent is the payload shared by the target events. Fields the
// backend does not send for a given event stay nil.
type TargetEvent struct {
	TargetID     int         `json:"url_id"`
	MachineID    int         `json:"config_id"`
	Target       *api.Target `json:"url_data,omitempty"`
	Timestamp    api.Time    `json:"timestamp"`
	CurrentCount *int        `json:"current_count,omitempty"`
	Label        *string     `json:"label,omitempty"`
}

// Decode unmarshals the event payload. Connection events decode to a zero
// value.
func (e Event) Decode() (TargetEvent, error) {
	var te TargetEvent
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return te, nil
	}
	if err := json.Unmarshal(e.Data, &te); err != nil {
		return te, fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	if te.TargetID == 0 && te.Target != nil {
		te.TargetID = te.Target.ID
	}
	return te, nil
}
