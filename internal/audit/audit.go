package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// DefaultSubject prefixes every audit subject
const DefaultSubject = "fleet.audit"

// Kinds of audit records
const (
	KindEvent = "event"
	KindBatch = "batch"
	KindPoll  = "poll"
)

// ErrNotConnected is returned when publishing on a closed connection
var ErrNotConnected = errors.New("nats not connected")

// Record is the JSON body of one audit message
type Record struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	MachineID int             `json:"machine_id"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// BatchPayload describes a finished batch
type BatchPayload struct {
	Action  string `json:"action"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Started bool   `json:"started"`
}

// Publisher relays audit records to NATS. A publisher built without a
// URL drops everything.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
	now     func() time.Time
}

// Connect dials NATS. An empty url returns a disabled publisher.
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	p := &Publisher{subject: subject, logger: logger, now: time.Now}
	if url == "" {
		return p, nil
	}

	opts := []nats.Option{
		nats.Name("fleet-cli"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", url, err)
	}
	p.nc = nc
	return p, nil
}

// Enabled reports whether records are actually sent
func (p *Publisher) Enabled() bool {
	return p.nc != nil
}

// Subject is the full subject for a record kind
func (p *Publisher) Subject(kind string) string {
	return p.subject + "." + kind
}

// NewRecord builds a record with a fresh id
func (p *Publisher) NewRecord(kind string, machineID int, payload any) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		MachineID: machineID,
		At:        p.now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return rec, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		rec.Payload = data
	}
	return rec, nil
}

// Publish sends one record
func (p *Publisher) Publish(ctx context.Context, kind string, machineID int, payload any) error {
	if !p.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc.IsClosed() {
		return ErrNotConnected
	}
	rec, err := p.NewRecord(kind, machineID, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return p.nc.Publish(p.Subject(kind), data)
}

// PublishEvent relays a socket event
func (p *Publisher) PublishEvent(ctx context.Context, machineID int, ev realtime.Event) error {
	payload := map[string]any{"name": ev.Name}
	if len(ev.Data) > 0 {
		payload["data"] = ev.Data
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}
	return p.Publish(ctx, KindEvent, machineID, payload)
}

// PublishSummary relays a batch result
func (p *Publisher) PublishSummary(ctx context.Context, machineID int, action string, sum fleet.Summary) error {
	return p.Publish(ctx, KindBatch, machineID, BatchPayload{
		Action:  action,
		Success: sum.Success,
		Failed:  sum.Failed,
		Started: sum.Started,
	})
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Debug("nats_drain", zap.Error(err))
		}
		p.nc.Close()
	}
}
