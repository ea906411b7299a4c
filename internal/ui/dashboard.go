package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// Actions the dashboard can run
const (
	ActionExecute          = "execute"
	ActionExecuteAvailable = "execute_available"
	ActionStartAll         = "start_all"
	ActionStopMachine      = "stop_machine"
	ActionReset            = "reset"
	ActionResetAll         = "reset_all"
	ActionRefresh          = "refresh"
)

// DashboardModel is the main bubbletea model for the TUI dashboard
type DashboardModel struct {
	ctx      context.Context
	runner   *fleet.Runner
	tracker  *fleet.Tracker
	notifier *notify.Notifier
	activity *ActivityLog
	logger   *zap.Logger

	onSummary func(action string, sum fleet.Summary)

	// Targets
	snapshot      fleet.Snapshot
	rows          []fleet.Row
	selectedIndex int

	// Label filter
	filter      string
	filtering   bool
	filterInput textinput.Model

	// Open confirm, if any
	dialog *notify.Dialog

	// Name of the running batch, empty when idle
	busy    string
	spinner spinner.Model

	pollFailing bool
	err         error

	// Resources
	resources ResourceStats

	// UI state
	width    int
	height   int
	viewport viewport.Model
	showHelp bool
	quitting bool
	now      func() time.Time

	// Channels for updates
	updateChan chan tea.Msg

	keys   keyMap
	styles *Styles
}

// keyMap defines the key bindings for the dashboard
type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	Execute     key.Binding
	ExecuteAll  key.Binding
	StartAll    key.Binding
	StopMachine key.Binding
	Reset       key.Binding
	ResetAll    key.Binding
	Refresh     key.Binding
	Filter      key.Binding
	Dismiss     key.Binding
	Accept      key.Binding
	Decline     key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Execute: key.NewBinding(
			key.WithKeys("x", "enter"),
			key.WithHelp("x", "execute"),
		),
		ExecuteAll: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "execute available"),
		),
		StartAll: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start all"),
		),
		StopMachine: key.NewBinding(
			key.WithKeys("S"),
			key.WithHelp("S", "stop machine"),
		),
		Reset: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reset"),
		),
		ResetAll: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "reset all"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("g", "f5"),
			key.WithHelp("g", "refresh"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter label"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "dismiss toasts"),
		),
		Accept: key.NewBinding(
			key.WithKeys("y", "Y", "enter"),
			key.WithHelp("y/enter", "confirm"),
		),
		Decline: key.NewBinding(
			key.WithKeys("n", "N", "esc"),
			key.WithHelp("n/esc", "cancel"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Styles holds all lipgloss styles for the dashboard
type Styles struct {
	App    lipgloss.Style
	Header lipgloss.Style
	Footer lipgloss.Style

	TargetList     lipgloss.Style
	TargetItem     lipgloss.Style
	TargetSelected lipgloss.Style
	Detail         lipgloss.Style

	Online  lipgloss.Style
	Offline lipgloss.Style
	Busy    lipgloss.Style

	MonitorBox    lipgloss.Style
	ProgressFill  lipgloss.Style
	ProgressEmpty lipgloss.Style

	LogViewport lipgloss.Style
	LogLine     lipgloss.Style

	Dialog lipgloss.Style
	Toast  lipgloss.Style
	Filter lipgloss.Style

	Help     lipgloss.Style
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
}

// DefaultStyles returns the default color scheme
func DefaultStyles() *Styles {
	return &Styles{
		App: lipgloss.NewStyle().
			Padding(1, 2),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(subtleColor).
			MarginBottom(1).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(subtleColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(subtleColor).
			MarginTop(1).
			Padding(0, 1),

		TargetList: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtleColor).
			Padding(0, 1),

		TargetItem: lipgloss.NewStyle().
			Padding(0, 1),

		TargetSelected: lipgloss.NewStyle().
			Padding(0, 1).
			Background(lipgloss.AdaptiveColor{Light: "#E0E0E0", Dark: "#333333"}).
			Bold(true),

		Detail: lipgloss.NewStyle().
			Foreground(subtleColor).
			Padding(0, 1),

		Online: lipgloss.NewStyle().
			Foreground(successColor),

		Offline: lipgloss.NewStyle().
			Foreground(errorColor),

		Busy: lipgloss.NewStyle().
			Foreground(infoColor).
			Bold(true),

		MonitorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtleColor).
			Padding(0, 1),

		ProgressFill: lipgloss.NewStyle().
			Foreground(successColor),

		ProgressEmpty: lipgloss.NewStyle().
			Foreground(subtleColor),

		LogViewport: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}).
			Padding(0, 1),

		LogLine: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),

		Dialog: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 3),

		Toast: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1),

		Filter: lipgloss.NewStyle().
			Foreground(infoColor).
			Padding(0, 1),

		Help: lipgloss.NewStyle().
			Foreground(subtleColor),

		HelpKey: lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true),

		HelpDesc: lipgloss.NewStyle().
			Foreground(subtleColor),
	}
}

// Messages for bubbletea
type tickMsg time.Time
type resourceUpdateMsg ResourceStats
type pollMsg fleet.PollResult
type socketMsg realtime.Event
type progressMsg fleet.Progress
type quitMsg struct{}

// actionMsg reports a finished action
type actionMsg struct {
	action  string
	message string
	summary *fleet.Summary
	err     error
}

// pendingAction is what an accepted confirm runs
type pendingAction struct {
	name string
	run  func(ctx context.Context) actionMsg
}

// DashboardConfig wires the dashboard to its collaborators
type DashboardConfig struct {
	Context  context.Context
	Runner   *fleet.Runner
	Notifier *notify.Notifier
	Activity *ActivityLog
	Logger   *zap.Logger
	// Filter is the initial label filter
	Filter string
	// OnSummary is called with the tally of every finished batch
	OnSummary func(action string, sum fleet.Summary)
}

// NewDashboard creates a new dashboard model
func NewDashboard(cfg DashboardConfig) *DashboardModel {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewNotifier(notify.DefaultDuration)
	}
	if cfg.Activity == nil {
		cfg.Activity = NewActivityLog(500)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	vp := viewport.New(80, 6)
	vp.SetContent("")
	vp.MouseWheelEnabled = true

	fi := textinput.New()
	fi.Placeholder = "label"
	fi.CharLimit = 64
	fi.Width = 30
	fi.SetValue(cfg.Filter)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &DashboardModel{
		ctx:         cfg.Context,
		runner:      cfg.Runner,
		tracker:     cfg.Runner.Tracker(),
		notifier:    cfg.Notifier,
		activity:    cfg.Activity,
		logger:      cfg.Logger,
		onSummary:   cfg.OnSummary,
		filter:      cfg.Filter,
		filterInput: fi,
		spinner:     sp,
		viewport:    vp,
		now:         time.Now,
		updateChan:  make(chan tea.Msg, 100),
		keys:        defaultKeyMap(),
		styles:      DefaultStyles(),
	}
	cfg.Runner.OnProgress = m.SendProgress
	m.refreshRows()
	return m
}

// Init implements tea.Model
func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.fetchResourceStats(),
		m.listenForUpdates(),
	)
}

// tickCmd returns a command that ticks every second
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenForUpdates listens for external updates
func (m *DashboardModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updateChan
	}
}

// Err is the error that made the dashboard quit, if any
func (m *DashboardModel) Err() error {
	return m.err
}

// Update implements tea.Model
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 8
		m.viewport.Height = max(3, msg.Height/5)
		m.updateViewportContent()

	case tickMsg:
		cmds = append(cmds, tickCmd(), m.fetchResourceStats())
		m.refreshRows()
		m.updateViewportContent()

	case resourceUpdateMsg:
		m.resources = ResourceStats(msg)

	case spinner.TickMsg:
		if m.busy != "" {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case pollMsg:
		if cmd := m.handlePoll(fleet.PollResult(msg)); cmd != nil {
			return m, cmd
		}
		cmds = append(cmds, m.listenForUpdates())

	case socketMsg:
		cmds = append(cmds, m.handleEvent(realtime.Event(msg)), m.listenForUpdates())

	case progressMsg:
		m.activity.Append(DescribeProgress(fleet.Progress(msg)))
		m.refreshRows()
		m.updateViewportContent()
		cmds = append(cmds, m.listenForUpdates())

	case actionMsg:
		if cmd := m.handleAction(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case quitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *DashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	// An open confirm takes every key
	if m.dialog != nil {
		switch {
		case key.Matches(msg, m.keys.Accept):
			return m, m.resolveDialog(true)
		case key.Matches(msg, m.keys.Decline):
			return m, m.resolveDialog(false)
		}
		return m, nil
	}

	if m.filtering {
		switch msg.Type {
		case tea.KeyEnter:
			m.filtering = false
			m.filterInput.Blur()
			m.setFilter(m.filterInput.Value())
			return m, nil
		case tea.KeyEsc:
			m.filtering = false
			m.filterInput.Blur()
			m.filterInput.SetValue(m.filter)
			return m, nil
		}
		var cmd tea.Cmd
		m.filterInput, cmd = m.filterInput.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}

	case key.Matches(msg, m.keys.Down):
		if m.selectedIndex < len(m.rows)-1 {
			m.selectedIndex++
		}

	case key.Matches(msg, m.keys.Execute):
		return m, m.executeSelected()

	case key.Matches(msg, m.keys.ExecuteAll):
		m.confirm(notify.Confirm{
			Title:       "Execute all available targets?",
			Message:     "Targets run one by one, then the machine is started.",
			ConfirmText: "Execute",
			CancelText:  "Cancel",
			Kind:        notify.Primary,
		}, ActionExecuteAvailable, func(ctx context.Context) actionMsg {
			sum, err := m.runner.ExecuteAvailable(ctx)
			return actionMsg{action: ActionExecuteAvailable, summary: &sum, err: err}
		})

	case key.Matches(msg, m.keys.StartAll):
		m.confirm(notify.Confirm{
			Title:       "Start the machine and run every target?",
			ConfirmText: "Start",
			CancelText:  "Cancel",
			Kind:        notify.Primary,
		}, ActionStartAll, func(ctx context.Context) actionMsg {
			sum, err := m.runner.StartAll(ctx)
			return actionMsg{action: ActionStartAll, summary: &sum, err: err}
		})

	case key.Matches(msg, m.keys.StopMachine):
		m.confirm(notify.Confirm{
			Title:       "Stop the machine?",
			Message:     "Started marks are cleared.",
			ConfirmText: "Stop",
			CancelText:  "Cancel",
			Kind:        notify.Danger,
		}, ActionStopMachine, func(ctx context.Context) actionMsg {
			err := m.runner.StopMachine(ctx)
			return actionMsg{action: ActionStopMachine, message: "machine stopped", err: err}
		})

	case key.Matches(msg, m.keys.Reset):
		row, ok := m.selected()
		if !ok {
			return m, nil
		}
		id := row.Target.ID
		m.confirm(notify.Confirm{
			Title:       fmt.Sprintf("Reset the count of %s?", row.Target.BaseName()),
			ConfirmText: "Reset",
			CancelText:  "Cancel",
			Kind:        notify.Caution,
		}, ActionReset, func(ctx context.Context) actionMsg {
			msg, err := m.runner.ResetTarget(ctx, id)
			return actionMsg{action: ActionReset, message: msg, err: err}
		})

	case key.Matches(msg, m.keys.ResetAll):
		m.confirm(notify.Confirm{
			Title:       "Reset the count of every target?",
			ConfirmText: "Reset all",
			CancelText:  "Cancel",
			Kind:        notify.Danger,
		}, ActionResetAll, func(ctx context.Context) actionMsg {
			msg, err := m.runner.ResetAll(ctx)
			return actionMsg{action: ActionResetAll, message: msg, err: err}
		})

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()

	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		m.filterInput.SetValue(m.filter)
		return m, m.filterInput.Focus()

	case key.Matches(msg, m.keys.Dismiss):
		m.notifier.Clear()

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp

	case msg.Type == tea.KeyEsc && m.filter != "":
		m.setFilter("")

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// confirm opens a dialog that runs action when accepted
func (m *DashboardModel) confirm(c notify.Confirm, name string, run func(ctx context.Context) actionMsg) {
	if isBatch(name) && m.busy != "" {
		m.notifier.Warning(fmt.Sprintf("%s is still running", m.busy))
		return
	}
	m.dialog = notify.NewDialog(c, pendingAction{name: name, run: run})
}

func (m *DashboardModel) resolveDialog(accepted bool) tea.Cmd {
	d := m.dialog
	m.dialog = nil
	if !d.Resolve(accepted) {
		return nil
	}
	action, ok := d.Action.(pendingAction)
	if !ok {
		return nil
	}
	if !accepted {
		m.activity.Appendf("%s cancelled", action.name)
		return nil
	}
	return m.start(action)
}

// start runs an action in the background
func (m *DashboardModel) start(action pendingAction) tea.Cmd {
	ctx := m.ctx
	run := func() tea.Msg { return action.run(ctx) }
	if !isBatch(action.name) {
		return run
	}
	m.busy = action.name
	m.activity.Appendf("%s started", action.name)
	return tea.Batch(run, m.spinner.Tick)
}

func isBatch(name string) bool {
	return name == ActionExecuteAvailable || name == ActionStartAll
}

// executeSelected runs the selected target once
func (m *DashboardModel) executeSelected() tea.Cmd {
	row, ok := m.selected()
	if !ok {
		return nil
	}
	switch row.State {
	case fleet.StateCompleted:
		m.notifier.Warning(fmt.Sprintf("%s has reached its max count", row.Target.BaseName()))
		return nil
	case fleet.StateExecuting:
		m.notifier.Warning(fmt.Sprintf("%s is already executing", row.Target.BaseName()))
		return nil
	}

	id, name := row.Target.ID, row.Target.BaseName()
	return m.start(pendingAction{name: ActionExecute, run: func(ctx context.Context) actionMsg {
		res, err := m.runner.Execute(ctx, id)
		if err != nil {
			return actionMsg{action: ActionExecute, err: fmt.Errorf("%s: %w", name, err)}
		}
		return actionMsg{action: ActionExecute, message: fmt.Sprintf("%s: %s (%d remaining)", name, res.Message, res.Remaining)}
	}})
}

// refreshCmd reloads status and targets from the backend
func (m *DashboardModel) refreshCmd() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{action: ActionRefresh, err: m.runner.Refresh(ctx)}
	}
}

func (m *DashboardModel) handleAction(msg actionMsg) tea.Cmd {
	if isBatch(msg.action) {
		m.busy = ""
	}
	defer m.refreshRows()

	if msg.summary != nil && msg.summary.Total() > 0 && m.onSummary != nil {
		m.onSummary(msg.action, *msg.summary)
	}

	if msg.err != nil {
		if errors.Is(msg.err, context.Canceled) {
			return nil
		}
		if fatal := m.fail(msg.err); fatal != nil {
			return fatal
		}
		m.logger.Warn("dashboard_action_failed", zap.String("action", msg.action), zap.Error(msg.err))
		m.activity.Appendf("%s failed: %v", msg.action, msg.err)
		switch {
		case errors.Is(msg.err, fleet.ErrNothingToExecute), errors.Is(msg.err, fleet.ErrBusy):
			m.notifier.Warning(msg.err.Error())
		default:
			m.notifier.Error(msg.err.Error())
		}
		if msg.summary != nil && msg.summary.Total() > 0 {
			m.notifier.Info(msg.summary.Localized())
		}
		return m.refreshCmd()
	}

	switch {
	case msg.action == ActionRefresh:
		return nil
	case msg.summary != nil:
		text := msg.summary.Localized()
		if msg.summary.Started {
			text += " · 机器已启动"
		}
		if msg.summary.Failed > 0 {
			m.notifier.Warning(text)
		} else {
			m.notifier.Success(text)
		}
		m.activity.Appendf("%s finished: %s", msg.action, msg.summary)
	default:
		if msg.message != "" {
			m.notifier.Success(msg.message)
		}
		m.activity.Appendf("%s ok %s", msg.action, msg.message)
	}
	m.updateViewportContent()
	return m.refreshCmd()
}

// handlePoll applies a poll result. It returns a command only when the
// dashboard must quit.
func (m *DashboardModel) handlePoll(res fleet.PollResult) tea.Cmd {
	if res.Err != nil {
		if fatal := m.fail(res.Err); fatal != nil {
			return fatal
		}
		if !m.pollFailing {
			m.notifier.Warning("refresh failed: " + res.Err.Error())
			m.activity.Appendf("refresh failed: %v", res.Err)
		}
		m.pollFailing = true
		return nil
	}
	if m.pollFailing {
		m.activity.Append("refresh recovered")
	}
	m.pollFailing = false
	m.refreshRows()
	return nil
}

func (m *DashboardModel) handleEvent(ev realtime.Event) tea.Cmd {
	m.activity.Append(DescribeEvent(ev))
	defer m.updateViewportContent()

	outcome, err := m.tracker.Apply(ev)
	if err != nil {
		m.logger.Debug("socket_event_ignored", zap.String("event", ev.Name), zap.Error(err))
		return nil
	}
	if ev.Name == realtime.EventDisconnect {
		m.notifier.Warning("实时连接已断开，正在重连")
	}
	m.refreshRows()
	if outcome == fleet.NeedsRefresh {
		return m.refreshCmd()
	}
	return nil
}

// fail quits on an expired session
func (m *DashboardModel) fail(err error) tea.Cmd {
	if !errors.Is(err, api.ErrUnauthorized) {
		return nil
	}
	m.err = err
	m.notifier.Show(notify.Error, "", "session expired, run fleet login", notify.Sticky)
	m.quitting = true
	return tea.Quit
}

// fetchResourceStats fetches system resource statistics
func (m *DashboardModel) fetchResourceStats() tea.Cmd {
	return func() tea.Msg {
		return resourceUpdateMsg(GetResourceStats())
	}
}

func (m *DashboardModel) setFilter(label string) {
	m.filter = strings.TrimSpace(label)
	m.selectedIndex = 0
	m.refreshRows()
}

// refreshRows re-reads the tracker and applies the label filter
func (m *DashboardModel) refreshRows() {
	m.snapshot = m.tracker.Snapshot()
	m.rows = m.snapshot.FilterLabel(m.filter)
	if m.selectedIndex >= len(m.rows) {
		m.selectedIndex = max(0, len(m.rows)-1)
	}
}

func (m *DashboardModel) selected() (fleet.Row, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.rows) {
		return fleet.Row{}, false
	}
	return m.rows[m.selectedIndex], true
}

// updateViewportContent updates the activity viewport
func (m *DashboardModel) updateViewportContent() {
	atBottom := m.viewport.AtBottom()

	lines := m.activity.GetAll()
	for i, l := range lines {
		lines[i] = m.styles.LogLine.Render(l)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))

	// Only auto-scroll to bottom if user was already at the bottom
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model
func (m *DashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	if m.dialog != nil {
		box := m.renderDialog()
		if m.width > 0 && m.height > 0 {
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
		}
		return box
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n")
	if m.filtering || m.filter != "" {
		b.WriteString(m.renderFilter())
		b.WriteString("\n")
	}
	b.WriteString(m.renderTargetList())
	b.WriteString("\n")
	if detail := m.renderDetail(); detail != "" {
		b.WriteString(detail)
		b.WriteString("\n")
	}
	b.WriteString(m.styles.LogViewport.Render(m.viewport.View()))
	if toasts := m.renderToasts(); toasts != "" {
		b.WriteString("\n")
		b.WriteString(toasts)
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return m.styles.App.Render(b.String())
}

// renderHeader renders the dashboard header
func (m *DashboardModel) renderHeader() string {
	title := "⚡ Fleet Dashboard"

	machine := fmt.Sprintf("Machine #%d", m.snapshot.MachineID)
	if s := m.snapshot.Status; s != nil {
		machine = fmt.Sprintf("Machine #%d %s", m.snapshot.MachineID, s.Machine.Label())
		if s.Machine.PadeCode != "" {
			machine += " (" + s.Machine.PadeCode + ")"
		}
	}

	link := m.styles.Offline.Render("○ offline")
	if m.snapshot.Connected {
		link = m.styles.Online.Render("● live")
	}

	status := machine + " | " + link
	if m.busy != "" {
		status += " | " + m.styles.Busy.Render(m.spinner.View()+" "+m.busy)
	}
	if r := m.resources.Summary(); r != "" {
		status += " | " + r
	}

	headerWidth := max(40, m.width-4)
	padding := max(1, headerWidth-lipgloss.Width(title)-lipgloss.Width(status))

	return m.styles.Header.Width(headerWidth).Render(
		title + strings.Repeat(" ", padding) + status,
	)
}

// renderStats renders the machine counters and the execution bar
func (m *DashboardModel) renderStats() string {
	s := m.snapshot.Status
	if s == nil {
		return m.styles.MonitorBox.Render("loading…")
	}

	progress := 0.0
	if s.MaxPossibleExecutions > 0 {
		progress = float64(s.TotalExecutions) / float64(s.MaxPossibleExecutions)
	}

	text := fmt.Sprintf("Targets %d | Available %d | Completed %d | Running %d | Run time %s\n%s %d/%d",
		s.TotalURLs, s.AvailableURLs, s.CompletedURLs, s.RunningURLs,
		FormatSeconds(s.TotalRunningTime),
		m.renderProgressBar("Executions", progress, 30),
		s.TotalExecutions, s.MaxPossibleExecutions)
	if !m.snapshot.Updated.IsZero() {
		text += "  · updated " + m.snapshot.Updated.Format("15:04:05")
	}
	return m.styles.MonitorBox.Render(text)
}

// renderProgressBar renders a progress bar
func (m *DashboardModel) renderProgressBar(label string, progress float64, width int) string {
	progress = min(max(progress, 0), 1)

	filled := int(progress * float64(width))
	empty := width - filled

	bar := m.styles.ProgressFill.Render(strings.Repeat("█", filled)) +
		m.styles.ProgressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%s [%s] %5.1f%%", label, bar, progress*100)
}

func (m *DashboardModel) renderFilter() string {
	if m.filtering {
		return m.styles.Filter.Render("label: " + m.filterInput.View())
	}
	return m.styles.Filter.Render(fmt.Sprintf("label contains %q (%d/%d) · esc to clear",
		m.filter, len(m.rows), len(m.snapshot.Rows)))
}

// renderTargetList renders the list of targets
func (m *DashboardModel) renderTargetList() string {
	listWidth := max(60, m.width-6)

	if len(m.rows) == 0 {
		empty := "no targets"
		if m.filter != "" {
			empty = "no targets match the filter"
		}
		return m.styles.TargetList.Width(listWidth).Render(m.styles.Help.Render(empty))
	}

	items := make([]string, 0, len(m.rows))
	for i, r := range m.rows {
		items = append(items, m.renderTargetItem(i, r, listWidth))
	}
	return m.styles.TargetList.Width(listWidth).Render(strings.Join(items, "\n"))
}

// renderTargetItem renders a single target row
func (m *DashboardModel) renderTargetItem(index int, r fleet.Row, width int) string {
	style := m.styles.TargetItem
	cursor := "  "
	if index == m.selectedIndex {
		style = m.styles.TargetSelected
		cursor = "❯ "
	}

	const maxNameLen = 28
	t := r.Target
	name := Truncate(t.BaseName(), maxNameLen)
	label := ""
	if t.Label != "" {
		label = "[" + Truncate(t.Label, 12) + "]"
	}
	running := " "
	if t.IsRunning {
		running = "●"
	}
	if !t.IsActive {
		running = "⏸"
	}

	line := fmt.Sprintf("%s%-*s %-14s %s %5s  %s",
		cursor, maxNameLen, name, label, running,
		fmt.Sprintf("%d/%d", t.CurrentCount, t.MaxNum),
		StateStyle(r.State).Render(r.State.Label(t)))

	return style.Width(width - 2).Render(line)
}

// renderDetail renders the selected target's url and timings
func (m *DashboardModel) renderDetail() string {
	row, ok := m.selected()
	if !ok {
		return ""
	}
	t := row.Target
	parts := []string{t.URL, fmt.Sprintf("every %ds", t.Duration), "last " + FormatTime(t.LastTime)}
	if t.TelegramChannel != "" {
		parts = append(parts, t.TelegramChannel)
	}
	parts = append(parts, row.State.Localized(t))
	return m.styles.Detail.Render(strings.Join(parts, " · "))
}

// renderToasts renders the visible notifications, newest last
func (m *DashboardModel) renderToasts() string {
	toasts := m.notifier.Active(m.now())
	if len(toasts) == 0 {
		return ""
	}
	rendered := make([]string, 0, len(toasts))
	for _, t := range toasts {
		color := KindColor(t.Kind)
		title := lipgloss.NewStyle().Bold(true).Foreground(color).Render(t.Kind.Icon() + " " + t.Title)
		rendered = append(rendered, m.styles.Toast.BorderForeground(color).Render(title+"  "+t.Message))
	}
	return strings.Join(rendered, "\n")
}

// renderDialog renders the open confirm
func (m *DashboardModel) renderDialog() string {
	d := m.dialog
	style := confirmStyle(d.Kind)

	var b strings.Builder
	b.WriteString(style.Render(d.Kind.Icon() + " " + d.Title))
	if d.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(d.Message)
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.HelpKey.Render("y") + " " + d.ConfirmText + "    ")
	b.WriteString(m.styles.HelpKey.Render("n") + " " + d.CancelText)

	return m.styles.Dialog.BorderForeground(style.GetForeground()).Render(b.String())
}

// renderFooter renders the dashboard footer with help
func (m *DashboardModel) renderFooter() string {
	var bindings []key.Binding
	if m.showHelp {
		bindings = []key.Binding{
			m.keys.Up, m.keys.Down, m.keys.Execute, m.keys.ExecuteAll, m.keys.StartAll,
			m.keys.StopMachine, m.keys.Reset, m.keys.ResetAll, m.keys.Refresh,
			m.keys.Filter, m.keys.Dismiss, m.keys.Help, m.keys.Quit,
		}
	} else {
		bindings = []key.Binding{m.keys.Execute, m.keys.ExecuteAll, m.keys.Filter, m.keys.Help, m.keys.Quit}
	}

	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, m.styles.HelpKey.Render(h.Key)+" "+m.styles.HelpDesc.Render(h.Desc))
	}

	footerWidth := max(40, m.width-4)
	return m.styles.Footer.Width(footerWidth).Render(strings.Join(parts, " • "))
}

// Public methods for external updates

// SendPoll forwards a poll result to the dashboard
func (m *DashboardModel) SendPoll(res fleet.PollResult) {
	select {
	case m.updateChan <- pollMsg(res):
	default:
		// Channel full, the next poll catches up
	}
}

// SendEvent forwards a socket event to the dashboard
func (m *DashboardModel) SendEvent(ev realtime.Event) {
	select {
	case m.updateChan <- socketMsg(ev):
	default:
		m.activity.Append("dropped " + ev.Name)
	}
}

// SendProgress forwards batch progress to the dashboard
func (m *DashboardModel) SendProgress(p fleet.Progress) {
	select {
	case m.updateChan <- progressMsg(p):
	default:
		m.activity.Append(DescribeProgress(p))
	}
}

// SendQuit sends a quit signal to the dashboard
func (m *DashboardModel) SendQuit() {
	select {
	case m.updateChan <- quitMsg{}:
	default:
	}
}

// GetUpdateChannel returns the update channel for external use
func (m *DashboardModel) GetUpdateChannel() chan tea.Msg {
	return m.updateChan
}
