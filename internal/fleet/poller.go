package fleet

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harshul/fleet-cli/internal/api"
)

// DefaultPollInterval matches the dashboard's refresh period
const DefaultPollInterval = 5 * time.Second

// PollResult is one refresh of a machine
type PollResult struct {
	Status *api.ConfigStatus
	Page   *api.TargetPage
	Err    error
	At     time.Time
}

// Poller refreshes the tracker on a fixed interval and publishes each
// result. A failed poll is reported and the loop carries on.
type Poller struct {
	backend  Backend
	tracker  *Tracker
	interval time.Duration
	logger   *zap.Logger
	results  chan PollResult
}

// NewPoller creates a poller. A zero interval uses DefaultPollInterval.
func NewPoller(backend Backend, tracker *Tracker, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		backend:  backend,
		tracker:  tracker,
		interval: interval,
		logger:   logger,
		results:  make(chan PollResult, 1),
	}
}

// Results delivers poll results. It is closed when Run returns.
func (p *Poller) Results() <-chan PollResult {
	return p.results
}

// Run polls immediately and then every interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	defer close(p.results)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		res := p.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case p.results <- res:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches status and targets in parallel and updates the tracker on
// success.
func (p *Poller) Poll(ctx context.Context) PollResult {
	machineID := p.tracker.MachineID()
	res := PollResult{At: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		status, err := p.backend.ConfigStatus(gctx, machineID)
		if err != nil {
			return fmt.Errorf("failed to load status: %w", err)
		}
		res.Status = status
		return nil
	})
	g.Go(func() error {
		page, err := p.backend.ListAllTargets(gctx, machineID, false)
		if err != nil {
			return fmt.Errorf("failed to load targets: %w", err)
		}
		res.Page = page
		return nil
	})

	if err := g.Wait(); err != nil {
		p.logger.Warn("poll_failed", zap.Int("machine_id", machineID), zap.Error(err))
		res.Err = err
		return res
	}

	p.tracker.SetStatus(res.Status, res.At)
	p.tracker.SetTargets(res.Page.Targets, res.At)
	p.logger.Debug("poll", zap.Int("machine_id", machineID), zap.Int("targets", len(res.Page.Targets)))
	return res
}
