package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// cleanupCmd manages the backend's daily cleanup tasks
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Manage daily cleanup tasks",
	Long: `Cleanup tasks run once a day at their HH:MM schedule time and reset
targets of the chosen machines. Types:

  status   stop running targets
  label    strip labels from target names
  counts   zero execution counts`,
}

var cleanupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cleanup tasks",
	Args:  cobra.NoArgs,
	RunE:  runCleanupList,
}

var cleanupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a cleanup task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanupCreate,
}

var cleanupUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update the given fields of a cleanup task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanupUpdate,
}

var cleanupDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete cleanup tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCleanupDelete,
}

var cleanupToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable a cleanup task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanupToggle,
}

var cleanupRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a cleanup task now",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanupRun,
}

var cleanupTargetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List machines a task can clean up",
	Args:  cobra.NoArgs,
	RunE:  runCleanupTargets,
}

var cleanupNextCmd = &cobra.Command{
	Use:   "next <HH:MM>",
	Short: "Show when a schedule time next fires",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanupNext,
}

func init() {
	for _, c := range []*cobra.Command{cleanupCreateCmd, cleanupUpdateCmd} {
		c.Flags().String("time", "", "Daily schedule time (HH:MM)")
		c.Flags().StringSlice("types", nil, "Cleanup types: "+strings.Join(api.CleanupTypes, ", "))
		c.Flags().IntSlice("targets", nil, "Machine ids to clean up (default: all)")
		c.Flags().String("description", "", "Task description")
	}
	cleanupCreateCmd.Flags().Bool("disabled", false, "Create the task disabled")
	cleanupUpdateCmd.Flags().String("name", "", "Task name")
	cleanupUpdateCmd.Flags().Bool("enabled", true, "Set whether the task is enabled")
	cleanupUpdateCmd.Flags().Bool("all-machines", false, "Clean up every machine instead of a fixed list")

	cleanupCmd.AddCommand(
		cleanupListCmd,
		cleanupCreateCmd,
		cleanupUpdateCmd,
		cleanupDeleteCmd,
		cleanupToggleCmd,
		cleanupRunCmd,
		cleanupTargetsCmd,
		cleanupNextCmd,
	)
}

func cleanupRows(tasks []api.CleanupTask) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		targets := "all"
		if len(t.TargetConfigs) > 0 {
			ids := make([]string, len(t.TargetConfigs))
			for i, id := range t.TargetConfigs {
				ids[i] = strconv.Itoa(id)
			}
			targets = strings.Join(ids, ",")
		}
		rows = append(rows, []string{
			strconv.Itoa(t.ID),
			ui.Truncate(t.Name, 24),
			t.ScheduleTime,
			ui.FormatBool(t.IsEnabled),
			strings.Join(t.CleanupTypes, ","),
			targets,
			ui.FormatTime(t.LastRun),
			ui.FormatTime(t.NextRun),
		})
	}
	return rows
}

var cleanupHeaders = []string{"ID", "NAME", "TIME", "ENABLED", "TYPES", "MACHINES", "LAST RUN", "NEXT RUN"}

func runCleanupList(cmd *cobra.Command, args []string) error {
	tasks, err := client.ListCleanupTasks(cmd.Context())
	if err != nil {
		return err
	}
	return output(tasks, func() {
		ui.PrintHeader(fmt.Sprintf("%d cleanup tasks", len(tasks)))
		ui.PrintTable(cleanupHeaders, cleanupRows(tasks))
	})
}

// pickCleanupTypes asks for the types when none were given on the command line
func pickCleanupTypes() ([]string, error) {
	options := []ui.SelectOption{
		{Label: "Status", Value: api.CleanupStatus, Description: "stop running targets"},
		{Label: "Label", Value: api.CleanupLabel, Description: "strip labels from target names"},
		{Label: "Counts", Value: api.CleanupCounts, Description: "zero execution counts"},
	}
	picked, err := ui.RunMultiSelectPrompt("Cleanup types", "space to toggle, enter to confirm", options)
	if err != nil {
		return nil, fmt.Errorf("failed to read cleanup types (use --types): %w", err)
	}
	types := make([]string, 0, len(picked))
	for _, o := range picked {
		types = append(types, o.Value)
	}
	return types, nil
}

func runCleanupCreate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	schedule, _ := f.GetString("time")
	types, _ := f.GetStringSlice("types")
	targets, _ := f.GetIntSlice("targets")
	description, _ := f.GetString("description")
	disabled, _ := f.GetBool("disabled")

	if schedule == "" {
		value, ok, err := ui.RunTextInputPrompt("Schedule time", "Daily, 24-hour HH:MM", "03:00", "")
		if err != nil {
			return fmt.Errorf("failed to read schedule time (use --time): %w", err)
		}
		if !ok {
			return nil
		}
		schedule = value
	}
	if len(types) == 0 {
		var err error
		if types, err = pickCleanupTypes(); err != nil {
			return err
		}
	}

	enabled := !disabled
	in := api.CleanupTaskInput{
		Name:         args[0],
		Description:  optionalString(f.Changed("description"), description),
		ScheduleTime: schedule,
		IsEnabled:    &enabled,
		CleanupTypes: types,
	}
	in.Machines(targets)
	task, err := client.CreateCleanupTask(cmd.Context(), in)
	if err != nil {
		return err
	}
	return output(task, func() {
		ui.PrintSuccess(fmt.Sprintf("Created cleanup task #%d %s at %s", task.ID, task.Name, task.ScheduleTime))
	})
}

func runCleanupUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	f := cmd.Flags()
	in := api.CleanupTaskInput{}
	in.Name, _ = f.GetString("name")
	in.ScheduleTime, _ = f.GetString("time")
	description, _ := f.GetString("description")
	in.Description = optionalString(f.Changed("description"), description)
	enabled, _ := f.GetBool("enabled")
	in.IsEnabled = optionalBool(f.Changed("enabled"), enabled)
	if f.Changed("types") {
		in.CleanupTypes, _ = f.GetStringSlice("types")
	}
	allMachines, _ := f.GetBool("all-machines")
	switch {
	case allMachines && f.Changed("targets"):
		return fmt.Errorf("give --targets or --all-machines, not both")
	case allMachines:
		in.Machines(nil)
	case f.Changed("targets"):
		targets, _ := f.GetIntSlice("targets")
		in.Machines(targets)
	}

	task, err := client.UpdateCleanupTask(cmd.Context(), id, in)
	if err != nil {
		return err
	}
	return output(task, func() {
		ui.PrintSuccess(fmt.Sprintf("Updated cleanup task #%d %s", task.ID, task.Name))
	})
}

func runCleanupDelete(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title: fmt.Sprintf("Delete %d cleanup task(s)?", len(ids)),
		Kind:  notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	return forEach("delete", ids, func(id int) (string, error) {
		return client.DeleteCleanupTask(cmd.Context(), id)
	})
}

func runCleanupToggle(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	task, err := client.ToggleCleanupTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(task, func() {
		state := "disabled"
		if task.IsEnabled {
			state = "enabled"
		}
		ui.PrintSuccess(fmt.Sprintf("Cleanup task #%d %s is now %s", task.ID, task.Name, state))
	})
}

func runCleanupRun(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title:   fmt.Sprintf("Run cleanup task #%d now?", id),
		Message: "Targets of the task's machines are reset immediately.",
		Kind:    notify.Caution,
	})
	if err != nil || !ok {
		return err
	}
	res, err := client.ExecuteCleanupTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintSuccess(res.Message)
		ui.PrintHighlight("Affected rows", humanize.Comma(int64(res.AffectedRows)))
	})
}

func runCleanupTargets(cmd *cobra.Command, args []string) error {
	opts, err := client.CleanupTargets(cmd.Context())
	if err != nil {
		return err
	}
	return output(opts, func() {
		rows := make([][]string, 0, len(opts))
		for _, o := range opts {
			rows = append(rows, []string{strconv.Itoa(o.ID), o.Name, o.PadeCode})
		}
		ui.PrintTable([]string{"ID", "NAME", "PADE CODE"}, rows)
	})
}

func runCleanupNext(cmd *cobra.Command, args []string) error {
	now := time.Now()
	next, err := api.NextRun(args[0], now)
	if err != nil {
		return err
	}
	return output(map[string]any{"schedule_time": args[0], "next_run": next}, func() {
		ui.PrintHighlight("Next run", fmt.Sprintf("%s (%s)", next.Format("2006-01-02 15:04"), humanize.RelTime(next, now, "ago", "from now")))
	})
}
