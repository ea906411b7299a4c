package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/audit"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/metrics"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// urlsCmd groups the target commands of the selected machine
var urlsCmd = &cobra.Command{
	Use:     "urls",
	Aliases: []string{"url", "targets"},
	Short:   "Manage the selected machine's target URLs",
}

var urlsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets with their execute state",
	Args:  cobra.NoArgs,
	RunE:  runURLsList,
}

var urlsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the machine's counters",
	Args:  cobra.NoArgs,
	RunE:  runURLsStatus,
}

var urlsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one target in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runURLsGet,
}

var urlsCreateCmd = &cobra.Command{
	Use:   "create <url> <name>",
	Short: "Add a target to the selected machine",
	Args:  cobra.ExactArgs(2),
	RunE:  runURLsCreate,
}

var urlsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update the given fields of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runURLsUpdate,
}

var urlsDeleteCmd = &cobra.Command{
	Use:   "delete [id]...",
	Short: "Delete targets (--all for every target of the machine)",
	RunE:  runURLsDelete,
}

var urlsExecuteCmd = &cobra.Command{
	Use:   "execute <id>...",
	Short: "Execute targets once each",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runURLsExecute,
}

var urlsExecuteAvailableCmd = &cobra.Command{
	Use:   "execute-available",
	Short: "Execute every available target, then start the machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runURLsBatch(cmd, "execute_available")
	},
}

var urlsResetCmd = &cobra.Command{
	Use:   "reset <id>...",
	Short: "Zero the execution count of targets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runURLsReset,
}

var urlsResetAllCmd = &cobra.Command{
	Use:   "reset-all",
	Short: "Zero the execution count of every target",
	Args:  cobra.NoArgs,
	RunE:  runURLsResetAll,
}

var urlsStartAllCmd = &cobra.Command{
	Use:   "start-all",
	Short: "Start the machine and execute every available target",
	Long: `The start-all command starts the machine and then executes every
available target, one request per target.

With --mark-only it makes a single request that marks every available
target running on the server, without executing anything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if markOnly, _ := cmd.Flags().GetBool("mark-only"); markOnly {
			return runURLsRun(cmd, "start-all")
		}
		return runURLsBatch(cmd, "start_all")
	},
}

var urlsStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Mark every running target stopped",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runURLsRun(cmd, "stop-all")
	},
}

var urlsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start every eligible target (pushes url_started events)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runURLsRun(cmd, "start")
	},
}

var urlsStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop every running target (pushes url_stopped events)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runURLsRun(cmd, "stop")
	},
}

var urlsRunningCmd = &cobra.Command{
	Use:   "running",
	Short: "Group active targets into running, completed and pending",
	Args:  cobra.NoArgs,
	RunE:  runURLsRunning,
}

var urlsDurationsCmd = &cobra.Command{
	Use:   "durations",
	Short: "Show how long each running target has been running",
	Args:  cobra.NoArgs,
	RunE:  runURLsDurations,
}

func init() {
	urlsListCmd.Flags().StringP("label", "l", "", "Only show targets whose label contains this text")
	urlsListCmd.Flags().Bool("inactive", false, "Include inactive targets")
	urlsListCmd.Flags().Int("page", 0, "Fetch only this page (default: all pages)")
	urlsListCmd.Flags().Int("per-page", 0, "Page size when --page is set")

	urlsCreateCmd.Flags().Int("duration", api.DefaultDuration, "Seconds per execution")
	urlsCreateCmd.Flags().Int("max", api.DefaultMaxNum, "Maximum executions")
	urlsCreateCmd.Flags().Bool("inactive", false, "Create the target inactive")

	urlsUpdateCmd.Flags().String("url", "", "Target URL")
	urlsUpdateCmd.Flags().String("name", "", "Display name")
	urlsUpdateCmd.Flags().Int("duration", 0, "Seconds per execution")
	urlsUpdateCmd.Flags().Int("max", 0, "Maximum executions")
	urlsUpdateCmd.Flags().Bool("active", true, "Set whether the target is active")

	urlsDeleteCmd.Flags().Bool("all", false, "Delete every target of the machine")
	urlsStartAllCmd.Flags().Bool("mark-only", false, "Only mark available targets running on the server")

	urlsCmd.AddCommand(
		urlsListCmd,
		urlsStatusCmd,
		urlsGetCmd,
		urlsCreateCmd,
		urlsUpdateCmd,
		urlsDeleteCmd,
		urlsExecuteCmd,
		urlsExecuteAvailableCmd,
		urlsResetCmd,
		urlsResetAllCmd,
		urlsStartAllCmd,
		urlsStopAllCmd,
		urlsStartCmd,
		urlsStopCmd,
		urlsRunningCmd,
		urlsDurationsCmd,
	)
}

func runURLsList(cmd *cobra.Command, args []string) error {
	label, _ := cmd.Flags().GetString("label")
	inactive, _ := cmd.Flags().GetBool("inactive")
	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")

	var (
		result *api.TargetPage
		err    error
	)
	if page > 0 {
		result, err = client.ListTargets(cmd.Context(), machineID(), api.ListOptions{Page: page, PerPage: perPage, IncludeInactive: inactive})
	} else {
		result, err = client.ListAllTargets(cmd.Context(), machineID(), inactive)
	}
	if err != nil {
		return err
	}

	targets := fleet.FilterByLabel(result.Targets, label)
	return output(targets, func() {
		header := fmt.Sprintf("Machine #%d: %d targets, %d available, %d running", machineID(), result.Total, result.Available, result.Running)
		if label != "" {
			header += fmt.Sprintf(" (%d match %q)", len(targets), label)
		}
		ui.PrintHeader(header)
		ui.PrintTable(ui.TargetHeaders, ui.TargetRows(rowsFor(targets)))
		if page > 0 && result.Pagination.Pages > 1 {
			ui.PrintInfo(fmt.Sprintf("Page %d of %d", result.Pagination.Page, result.Pagination.Pages))
		}
	})
}

func runURLsStatus(cmd *cobra.Command, args []string) error {
	s, err := client.ConfigStatus(cmd.Context(), machineID())
	if err != nil {
		return err
	}
	return output(s, func() {
		ui.PrintHeader(fmt.Sprintf("Machine #%d %s", s.Machine.ID, s.Machine.Label()))
		ui.PrintHighlight("Targets", strconv.Itoa(s.TotalURLs))
		ui.PrintHighlight("Available", strconv.Itoa(s.AvailableURLs))
		ui.PrintHighlight("Completed", strconv.Itoa(s.CompletedURLs))
		ui.PrintHighlight("Running", strconv.Itoa(s.RunningURLs))
		ui.PrintHighlight("Executions", fmt.Sprintf("%d / %d", s.TotalExecutions, s.MaxPossibleExecutions))
		ui.PrintHighlight("Running time", ui.FormatSeconds(s.TotalRunningTime))
	})
}

func runURLsGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	t, err := client.GetTarget(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(t, func() {
		state := fleet.NewTracker(0).State(*t)
		ui.PrintHeader(fmt.Sprintf("Target #%d %s", t.ID, t.BaseName()))
		ui.PrintHighlight("URL", t.URL)
		if t.Label != "" {
			ui.PrintHighlight("Label", t.Label)
		}
		ui.PrintHighlight("Count", fmt.Sprintf("%d / %d", t.CurrentCount, t.MaxNum))
		ui.PrintHighlight("Duration", ui.FormatSeconds(t.Duration))
		ui.PrintHighlight("Active", ui.FormatBool(t.IsActive))
		ui.PrintHighlight("Running", ui.FormatBool(t.IsRunning))
		if t.IsRunning {
			ui.PrintHighlight("Started", ui.FormatTime(t.StartedAt))
		}
		ui.PrintHighlight("Last run", ui.FormatTime(t.LastTime))
		ui.PrintHighlight("State", ui.StateStyle(state).Render(state.Label(*t)))
	})
}

func runURLsCreate(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetInt("duration")
	maxNum, _ := cmd.Flags().GetInt("max")
	inactive, _ := cmd.Flags().GetBool("inactive")

	active := !inactive
	t, err := client.CreateTarget(cmd.Context(), api.TargetInput{
		MachineID: machineID(),
		URL:       args[0],
		Name:      args[1],
		Duration:  duration,
		MaxNum:    maxNum,
		IsActive:  &active,
	})
	if err != nil {
		return err
	}
	return output(t, func() {
		ui.PrintSuccess(fmt.Sprintf("Created target #%d %s", t.ID, t.BaseName()))
	})
}

func runURLsUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	f := cmd.Flags()
	in := api.TargetInput{}
	in.URL, _ = f.GetString("url")
	in.Name, _ = f.GetString("name")
	in.Duration, _ = f.GetInt("duration")
	in.MaxNum, _ = f.GetInt("max")
	active, _ := f.GetBool("active")
	in.IsActive = optionalBool(f.Changed("active"), active)

	t, err := client.UpdateTarget(cmd.Context(), id, in)
	if err != nil {
		return err
	}
	return output(t, func() {
		ui.PrintSuccess(fmt.Sprintf("Updated target #%d %s", t.ID, t.BaseName()))
	})
}

func runURLsDelete(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")

	var ids []int
	switch {
	case all && len(args) > 0:
		return fmt.Errorf("give ids or --all, not both")
	case all:
		page, err := client.ListAllTargets(cmd.Context(), machineID(), true)
		if err != nil {
			return err
		}
		for _, t := range page.Targets {
			ids = append(ids, t.ID)
		}
		if len(ids) == 0 {
			ui.PrintInfo("No targets to delete")
			return nil
		}
	default:
		var err error
		if ids, err = parseIDs(args); err != nil {
			return err
		}
	}

	ok, err := confirm(notify.Confirm{
		Title: fmt.Sprintf("Delete %d target(s)?", len(ids)),
		Kind:  notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	return forEach("delete", ids, func(id int) (string, error) {
		return "deleted", client.DeleteTarget(cmd.Context(), id)
	})
}

// newRunner builds a runner for the selected machine
func newRunner() *fleet.Runner {
	return fleet.NewRunner(client, fleet.NewTracker(machineID()), appConfig.ExecuteGap, logger)
}

func runURLsExecute(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	runner := newRunner()
	return forEach("execute", ids, func(id int) (string, error) {
		res, err := runner.Execute(cmd.Context(), id)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (count %d, %d remaining)", res.Message, res.CurrentCount, res.Remaining), nil
	})
}

// runURLsBatch runs execute-available or start-all with progress lines and
// relays the tally to the audit bus
func runURLsBatch(cmd *cobra.Command, action string) error {
	ctx := cmd.Context()

	title := "Execute every available target?"
	if action == "start_all" {
		title = "Start the machine and execute every available target?"
	}
	ok, err := confirm(notify.Confirm{Title: title, Kind: notify.Primary})
	if err != nil || !ok {
		return err
	}

	runner := newRunner()
	runner.OnProgress = func(p fleet.Progress) {
		if p.Err != nil {
			ui.PrintToast(notify.Error, ui.DescribeProgress(p))
			return
		}
		ui.PrintSuccess(ui.DescribeProgress(p))
	}

	var sum fleet.Summary
	if action == "start_all" {
		sum, err = runner.StartAll(ctx)
	} else {
		sum, err = runner.ExecuteAvailable(ctx)
	}

	if sum.Total() > 0 {
		publishSummary(cmd, action, sum)
		m := metrics.New()
		m.ObserveSummary(sum)
		pushBatchMetrics(cmd.Context(), m, machineID(), action)
	}
	if errors.Is(err, fleet.ErrNothingToExecute) {
		ui.PrintInfo("No executable targets")
		return nil
	}
	if err != nil {
		return err
	}

	ui.PrintInfo(sum.String())
	if sum.Started {
		ui.PrintSuccess("Machine started")
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%s: %s", action, sum)
	}
	return nil
}

// publishSummary sends a batch tally to NATS when an audit bus is set up
func publishSummary(cmd *cobra.Command, action string, sum fleet.Summary) {
	if appConfig.NatsURL == "" {
		return
	}
	p, err := audit.Connect(appConfig.NatsURL, appConfig.AuditSubject, logger)
	if err != nil {
		logger.Warn("audit_connect_failed", zap.Error(err))
		return
	}
	defer p.Close()
	if err := p.PublishSummary(cmd.Context(), machineID(), action, sum); err != nil {
		logger.Warn("audit_publish_failed", zap.Error(err))
	}
}

// pushBatchMetrics sends the batch counters to pushgateway_url when set
func pushBatchMetrics(ctx context.Context, m *metrics.Metrics, id int, action string) {
	if appConfig.PushgatewayURL == "" {
		return
	}
	if err := m.PushBatch(ctx, appConfig.PushgatewayURL, id, action); err != nil {
		logger.Warn("metrics_push_failed", zap.Error(err))
	}
}

func runURLsReset(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title: fmt.Sprintf("Reset the count of %d target(s)?", len(ids)),
		Kind:  notify.Caution,
	})
	if err != nil || !ok {
		return err
	}
	runner := newRunner()
	return forEach("reset", ids, func(id int) (string, error) {
		return runner.ResetTarget(cmd.Context(), id)
	})
}

func runURLsResetAll(cmd *cobra.Command, args []string) error {
	ok, err := confirm(notify.Confirm{
		Title: fmt.Sprintf("Reset the count of every target of machine #%d?", machineID()),
		Kind:  notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	msg, err := newRunner().ResetAll(cmd.Context())
	if err != nil {
		return err
	}
	ui.PrintSuccess(msg)
	return nil
}

// runURLsRun calls one of the start/stop endpoints
func runURLsRun(cmd *cobra.Command, which string) error {
	ctx := cmd.Context()
	id := machineID()

	var (
		res *api.RunCount
		err error
	)
	switch which {
	case "start":
		res, err = client.StartTargets(ctx, id)
	case "stop":
		res, err = client.StopTargets(ctx, id)
	case "start-all":
		ok, cerr := confirm(notify.Confirm{Title: "Mark every available target running?", Kind: notify.Primary})
		if cerr != nil || !ok {
			return cerr
		}
		res, err = client.StartAllTargets(ctx, id)
	case "stop-all":
		ok, cerr := confirm(notify.Confirm{Title: "Mark every running target stopped?", Kind: notify.Caution})
		if cerr != nil || !ok {
			return cerr
		}
		res, err = client.StopAllTargets(ctx, id)
	}
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintSuccess(res.Message)
		switch {
		case res.Started > 0:
			ui.PrintHighlight("Started", strconv.Itoa(res.Started))
		case res.Stopped > 0:
			ui.PrintHighlight("Stopped", strconv.Itoa(res.Stopped))
		}
	})
}

func runURLsRunning(cmd *cobra.Command, args []string) error {
	s, err := client.RunningStatus(cmd.Context(), machineID())
	if err != nil {
		return err
	}
	return output(s, func() {
		ui.PrintHeader(fmt.Sprintf("Machine #%d %s: %d running, %d completed, %d pending",
			s.MachineID, s.MachineName, s.Summary.Running, s.Summary.Completed, s.Summary.Pending))
		ui.PrintHighlight("Running time", ui.FormatSeconds(s.Summary.TotalRunningTime))

		groups := []struct {
			name    string
			targets []api.Target
		}{
			{"Running", s.Details.Running},
			{"Completed", s.Details.Completed},
			{"Pending", s.Details.Pending},
		}
		for _, g := range groups {
			if len(g.targets) == 0 {
				continue
			}
			ui.PrintDivider()
			ui.PrintHeader(g.name)
			ui.PrintTable(ui.TargetHeaders, ui.TargetRows(rowsFor(g.targets)))
		}
	})
}

func runURLsDurations(cmd *cobra.Command, args []string) error {
	d, err := client.RunningDurations(cmd.Context(), machineID())
	if err != nil {
		return err
	}
	return output(d, func() {
		ui.PrintHeader(fmt.Sprintf("Machine #%d: %d running, %s in total",
			d.MachineID, d.RunningCount, ui.FormatSeconds(d.TotalRunningTime)))
		rows := make([][]string, 0, len(d.Durations))
		for _, r := range d.Durations {
			rows = append(rows, []string{
				strconv.Itoa(r.TargetID),
				ui.Truncate(r.Name, 28),
				ui.FormatTime(r.StartedAt),
				ui.FormatSeconds(r.RunningDuration),
			})
		}
		ui.PrintTable([]string{"ID", "NAME", "STARTED", "RUNNING"}, rows)
	})
}
