package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
)

// DefaultGap is the pause between two executions in a batch
const DefaultGap = 200 * time.Millisecond

var (
	// ErrBusy is returned when the target is already executing
	ErrBusy = errors.New("target is already executing")
	// ErrNothingToExecute is returned when no target is available
	ErrNothingToExecute = errors.New("no executable targets")
	// ErrNoDevice is returned when the machine has no pade_code
	ErrNoDevice = errors.New("machine has no device code")
)

// Backend is the part of the REST client the dashboard drives
type Backend interface {
	ConfigStatus(ctx context.Context, machineID int) (*api.ConfigStatus, error)
	ListAllTargets(ctx context.Context, machineID int, includeInactive bool) (*api.TargetPage, error)
	ExecuteTarget(ctx context.Context, id int) (*api.ExecuteResult, error)
	ResetTarget(ctx context.Context, id int) (string, error)
	ResetAllTargets(ctx context.Context, machineID int) (string, error)
	StartMachine(ctx context.Context, padeCode string) (*api.PowerResult, error)
	StopMachine(ctx context.Context, padeCode string) (*api.PowerResult, error)
}

// Summary tallies a batch
type Summary struct {
	Success int
	Failed  int
	// Started is true when the machine was started afterwards
	Started bool
}

func (s Summary) String() string {
	return fmt.Sprintf("success: %d / failed: %d", s.Success, s.Failed)
}

// Localized is the dashboard's Chinese summary
func (s Summary) Localized() string {
	return fmt.Sprintf("成功: %d / 失败: %d", s.Success, s.Failed)
}

// Total is the number of attempts
func (s Summary) Total() int {
	return s.Success + s.Failed
}

// Progress reports one finished execution inside a batch
type Progress struct {
	Target api.Target
	Done   int
	Total  int
	Err    error
}

// Runner performs the dashboard's actions against the backend and keeps
// the tracker's marks in step with them.
type Runner struct {
	backend Backend
	tracker *Tracker
	gap     time.Duration
	logger  *zap.Logger

	// OnProgress, when set, is called after each execution of a batch
	OnProgress func(Progress)
}

// NewRunner wires a runner. A zero gap uses DefaultGap.
func NewRunner(backend Backend, tracker *Tracker, gap time.Duration, logger *zap.Logger) *Runner {
	if gap <= 0 {
		gap = DefaultGap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{backend: backend, tracker: tracker, gap: gap, logger: logger}
}

// Tracker returns the runner's tracker
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Refresh fetches status and targets and stores them in the tracker
func (r *Runner) Refresh(ctx context.Context) error {
	status, err := r.backend.ConfigStatus(ctx, r.tracker.MachineID())
	if err != nil {
		return fmt.Errorf("failed to load status: %w", err)
	}
	page, err := r.backend.ListAllTargets(ctx, r.tracker.MachineID(), false)
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	now := time.Now()
	r.tracker.SetStatus(status, now)
	r.tracker.SetTargets(page.Targets, now)
	return nil
}

// Execute runs one target. A target already executing is rejected with
// ErrBusy before any request is sent.
func (r *Runner) Execute(ctx context.Context, id int) (*api.ExecuteResult, error) {
	if !r.tracker.BeginExecute(id) {
		return nil, ErrBusy
	}
	defer r.tracker.EndExecute(id)

	res, err := r.backend.ExecuteTarget(ctx, id)
	if err != nil {
		r.logger.Warn("execute_failed", zap.Int("target_id", id), zap.Error(err))
		return nil, err
	}
	r.tracker.MarkStarted(id)
	r.logger.Info("execute", zap.Int("target_id", id), zap.Int("current_count", res.CurrentCount))
	return res, nil
}

// ExecuteAvailable runs every active target that can still execute, one at
// a time with a pause in between. When at least one run succeeded the
// machine is started once.
func (r *Runner) ExecuteAvailable(ctx context.Context) (Summary, error) {
	var sum Summary

	page, err := r.backend.ListAllTargets(ctx, r.tracker.MachineID(), false)
	if err != nil {
		return sum, fmt.Errorf("failed to load targets: %w", err)
	}
	r.tracker.SetTargets(page.Targets, time.Now())

	var batch []api.Target
	for _, tg := range Available(page.Targets) {
		if r.tracker.BeginExecute(tg.ID) {
			batch = append(batch, tg)
		}
	}
	if len(batch) == 0 {
		return sum, ErrNothingToExecute
	}

	for i, tg := range batch {
		if ctx.Err() != nil {
			for _, rest := range batch[i:] {
				r.tracker.EndExecute(rest.ID)
			}
			return sum, ctx.Err()
		}

		_, err := r.backend.ExecuteTarget(ctx, tg.ID)
		if err != nil {
			sum.Failed++
			r.logger.Warn("execute_failed", zap.Int("target_id", tg.ID), zap.Error(err))
		} else {
			sum.Success++
			r.tracker.MarkStarted(tg.ID)
		}
		r.tracker.EndExecute(tg.ID)

		if r.OnProgress != nil {
			r.OnProgress(Progress{Target: tg, Done: i + 1, Total: len(batch), Err: err})
		}

		if i < len(batch)-1 {
			if err := sleep(ctx, r.gap); err != nil {
				for _, rest := range batch[i+1:] {
					r.tracker.EndExecute(rest.ID)
				}
				return sum, err
			}
		}
	}

	r.logger.Info("execute_available",
		zap.Int("machine_id", r.tracker.MachineID()),
		zap.Int("success", sum.Success),
		zap.Int("failed", sum.Failed))

	if sum.Success > 0 {
		if err := r.startMachine(ctx); err != nil {
			return sum, err
		}
		sum.Started = true
	}
	return sum, nil
}

// StartAll starts the machine, runs every available target, then marks all
// targets that can still execute as started.
func (r *Runner) StartAll(ctx context.Context) (Summary, error) {
	if err := r.startMachine(ctx); err != nil {
		return Summary{}, err
	}
	sum, err := r.ExecuteAvailable(ctx)
	if err != nil && !errors.Is(err, ErrNothingToExecute) {
		return sum, err
	}
	sum.Started = true

	page, err := r.backend.ListAllTargets(ctx, r.tracker.MachineID(), false)
	if err != nil {
		return sum, fmt.Errorf("failed to load targets: %w", err)
	}
	for _, tg := range Available(page.Targets) {
		r.tracker.MarkStarted(tg.ID)
	}
	r.tracker.SetTargets(page.Targets, time.Now())
	return sum, nil
}

// StopMachine stops the device and clears every started mark
func (r *Runner) StopMachine(ctx context.Context) error {
	code, err := r.padeCode(ctx)
	if err != nil {
		return err
	}
	if _, err := r.backend.StopMachine(ctx, code); err != nil {
		return fmt.Errorf("failed to stop machine %s: %w", code, err)
	}
	r.tracker.ClearStarted()
	r.logger.Info("machine_stopped", zap.String("pade_code", code))
	return nil
}

// ResetTarget zeroes one target's count and forgets its marks
func (r *Runner) ResetTarget(ctx context.Context, id int) (string, error) {
	msg, err := r.backend.ResetTarget(ctx, id)
	if err != nil {
		return "", err
	}
	r.tracker.Forget(id)
	return msg, nil
}

// ResetAll zeroes every target's count and forgets all marks
func (r *Runner) ResetAll(ctx context.Context) (string, error) {
	msg, err := r.backend.ResetAllTargets(ctx, r.tracker.MachineID())
	if err != nil {
		return "", err
	}
	r.tracker.ForgetAll()
	return msg, nil
}

func (r *Runner) startMachine(ctx context.Context) error {
	code, err := r.padeCode(ctx)
	if err != nil {
		return err
	}
	if _, err := r.backend.StartMachine(ctx, code); err != nil {
		return fmt.Errorf("failed to start machine %s: %w", code, err)
	}
	r.logger.Info("machine_started", zap.String("pade_code", code))
	return nil
}

func (r *Runner) padeCode(ctx context.Context) (string, error) {
	if code := r.tracker.PadeCode(); code != "" {
		return code, nil
	}
	status, err := r.backend.ConfigStatus(ctx, r.tracker.MachineID())
	if err != nil {
		return "", fmt.Errorf("failed to load status: %w", err)
	}
	r.tracker.SetStatus(status, time.Now())
	if status.Machine.PadeCode == "" {
		return "", ErrNoDevice
	}
	return status.Machine.PadeCode, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
