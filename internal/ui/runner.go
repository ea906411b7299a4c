package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// DashboardRunner manages the TUI dashboard lifecycle: it feeds poll
// results and socket events into the dashboard until the user quits.
type DashboardRunner struct {
	dashboard *DashboardModel
	poller    *fleet.Poller
	socket    *realtime.Client
	onPoll    func(fleet.PollResult)
	onEvent   func(realtime.Event)
	out       io.Writer

	program      *tea.Program
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
	fallbackMode bool // Use fallback mode (no TUI) when terminal is not interactive
}

// RunnerConfig holds configuration for the dashboard runner
type RunnerConfig struct {
	Dashboard DashboardConfig
	Poller    *fleet.Poller
	// Socket is optional; without it the dashboard only polls
	Socket *realtime.Client

	// OnPoll and OnEvent see every result and event before the dashboard
	OnPoll  func(fleet.PollResult)
	OnEvent func(realtime.Event)

	FallbackMode bool      // If true, print activity lines instead of the TUI
	Out          io.Writer // fallback output, stdout when nil
}

// NewDashboardRunner creates a new dashboard runner
func NewDashboardRunner(config RunnerConfig) *DashboardRunner {
	parent := config.Dashboard.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	config.Dashboard.Context = ctx

	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	return &DashboardRunner{
		dashboard:    NewDashboard(config.Dashboard),
		poller:       config.Poller,
		socket:       config.Socket,
		onPoll:       config.OnPoll,
		onEvent:      config.OnEvent,
		out:          out,
		ctx:          ctx,
		cancel:       cancel,
		fallbackMode: config.FallbackMode,
	}
}

// Start runs the dashboard until the user quits or the context ends. It
// returns the error that ended the session, such as an expired login.
func (dr *DashboardRunner) Start() error {
	dr.mu.Lock()
	if dr.running {
		dr.mu.Unlock()
		return fmt.Errorf("dashboard already running")
	}
	dr.running = true
	dr.mu.Unlock()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			dr.Stop()
		case <-dr.ctx.Done():
		}
	}()

	dr.startSources()

	var err error
	if dr.fallbackMode {
		err = dr.runPlain()
	} else {
		dr.program = tea.NewProgram(
			dr.dashboard,
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
			tea.WithContext(dr.ctx),
		)
		_, err = dr.program.Run()
	}

	dr.Stop()
	dr.wg.Wait()

	if fatal := dr.dashboard.Err(); fatal != nil {
		return fatal
	}
	if err != nil && dr.ctx.Err() != nil {
		// Interrupted, not failed
		return nil
	}
	return err
}

// startSources pumps the poller and the socket into the dashboard
func (dr *DashboardRunner) startSources() {
	if dr.poller != nil {
		dr.wg.Add(2)
		go func() {
			defer dr.wg.Done()
			dr.poller.Run(dr.ctx)
		}()
		go func() {
			defer dr.wg.Done()
			for res := range dr.poller.Results() {
				if dr.onPoll != nil {
					dr.onPoll(res)
				}
				dr.dashboard.SendPoll(res)
			}
		}()
	}

	if dr.socket != nil {
		dr.wg.Add(2)
		go func() {
			defer dr.wg.Done()
			_ = dr.socket.Run(dr.ctx)
		}()
		go func() {
			defer dr.wg.Done()
			for ev := range dr.socket.Events() {
				if dr.onEvent != nil {
					dr.onEvent(ev)
				}
				dr.dashboard.SendEvent(ev)
			}
		}()
	}
}

// runPlain prints activity lines instead of drawing the TUI. Poll and
// socket handling is shared with the dashboard.
func (dr *DashboardRunner) runPlain() error {
	m := dr.dashboard
	printed := 0
	for {
		select {
		case <-dr.ctx.Done():
			return nil
		case msg := <-m.GetUpdateChannel():
			var cmd tea.Cmd
			switch msg := msg.(type) {
			case quitMsg:
				return nil
			case pollMsg:
				res := fleet.PollResult(msg)
				cmd = m.handlePoll(res)
				if res.Err == nil && res.Status != nil {
					m.activity.Appendf("machine %d: %d/%d executions, %d available, %d running",
						m.snapshot.MachineID, res.Status.TotalExecutions, res.Status.MaxPossibleExecutions,
						res.Status.AvailableURLs, res.Status.RunningURLs)
				}
			case socketMsg:
				cmd = m.handleEvent(realtime.Event(msg))
			case progressMsg:
				m.activity.Append(DescribeProgress(fleet.Progress(msg)))
			}
			if cmd != nil && !m.quitting {
				// The only follow-up outside the TUI is a refresh
				if err := m.runner.Refresh(dr.ctx); err != nil {
					m.activity.Appendf("refresh failed: %v", err)
					m.fail(err)
				}
			}
			dr.printNew(&printed)
			if m.quitting {
				return nil
			}
		}
	}
}

func (dr *DashboardRunner) printNew(printed *int) {
	lines, next := dr.dashboard.activity.Since(*printed)
	for _, l := range lines {
		fmt.Fprintln(dr.out, l)
	}
	*printed = next
}

// Stop stops the dashboard and its sources
func (dr *DashboardRunner) Stop() {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if !dr.running {
		return
	}
	dr.running = false

	dr.cancel()

	if dr.program != nil && !dr.fallbackMode {
		dr.dashboard.SendQuit()
		dr.program.Quit()
	}
}

// IsRunning returns whether the dashboard is running
func (dr *DashboardRunner) IsRunning() bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.running
}
