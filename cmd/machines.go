package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/messages"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// machinesCmd groups the machine commands
var machinesCmd = &cobra.Command{
	Use:     "machines",
	Aliases: []string{"machine", "m"},
	Short:   "Manage machines (automation devices)",
}

var machinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List machines",
	Args:  cobra.NoArgs,
	RunE:  runMachinesList,
}

var machinesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one machine with its targets",
	Args:  cobra.ExactArgs(1),
	RunE:  runMachinesShow,
}

var machinesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a machine",
	Args:  cobra.NoArgs,
	RunE:  runMachinesCreate,
}

var machinesUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update the given fields of a machine",
	Args:  cobra.ExactArgs(1),
	RunE:  runMachinesUpdate,
}

var machinesDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete machines and their targets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMachinesDelete,
}

var machinesToggleCmd = &cobra.Command{
	Use:   "toggle <id>...",
	Short: "Flip machines between active and inactive",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMachinesToggle,
}

var machinesStatsCmd = &cobra.Command{
	Use:   "stats [id]",
	Short: "Show execution counters of a machine",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMachinesStats,
}

var machinesBatchStartCmd = &cobra.Command{
	Use:   "batch-start <id>...",
	Short: "Start several machines' devices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachinesBatch(cmd, args, true)
	},
}

var machinesBatchStopCmd = &cobra.Command{
	Use:   "batch-stop <id>...",
	Short: "Stop several machines' devices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachinesBatch(cmd, args, false)
	},
}

var machinesDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cloud devices and whether they are configured",
	Args:  cobra.NoArgs,
	RunE:  runMachinesDevices,
}

var machinesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create machines for cloud devices not configured yet",
	Args:  cobra.NoArgs,
	RunE:  runMachinesSync,
}

var machinesStartCmd = &cobra.Command{
	Use:   "start [pade_code]",
	Short: "Power on a device (defaults to the selected machine's)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachinesPower(cmd, args, true)
	},
}

var machinesStopCmd = &cobra.Command{
	Use:   "stop [pade_code]",
	Short: "Power off a device (defaults to the selected machine's)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachinesPower(cmd, args, false)
	},
}

func init() {
	for _, c := range []*cobra.Command{machinesCreateCmd, machinesUpdateCmd} {
		c.Flags().String("name", "", "Machine name")
		c.Flags().String("message", "", "Message templates, separated by --------")
		c.Flags().String("pade-code", "", "Cloud device code (unique)")
		c.Flags().String("description", "", "Description")
		c.Flags().Int("success-min", 0, "Minimum seconds before a run counts as a success")
		c.Flags().Int("success-max", 0, "Maximum seconds before a run counts as a success")
		c.Flags().Int("reset-time", 0, "Hour of day the counters reset")
	}
	machinesUpdateCmd.Flags().Bool("active", true, "Set whether the machine is active")

	machinesCmd.AddCommand(
		machinesListCmd,
		machinesShowCmd,
		machinesCreateCmd,
		machinesUpdateCmd,
		machinesDeleteCmd,
		machinesToggleCmd,
		machinesStatsCmd,
		machinesBatchStartCmd,
		machinesBatchStopCmd,
		machinesDevicesCmd,
		machinesSyncCmd,
		machinesStartCmd,
		machinesStopCmd,
		messagesCmd,
	)
}

func machineRows(machines []api.Machine) [][]string {
	rows := make([][]string, 0, len(machines))
	for _, m := range machines {
		rows = append(rows, []string{
			strconv.Itoa(m.ID),
			ui.Truncate(m.Label(), 24),
			m.PadeCode,
			ui.FormatBool(m.IsActive),
			strconv.Itoa(len(m.Targets)),
			ui.FormatTime(m.UpdatedAt),
		})
	}
	return rows
}

func runMachinesList(cmd *cobra.Command, args []string) error {
	machines, err := client.ListMachines(cmd.Context())
	if err != nil {
		return err
	}
	return output(machines, func() {
		ui.PrintTable([]string{"ID", "NAME", "PADE CODE", "ACTIVE", "TARGETS", "UPDATED"}, machineRows(machines))
	})
}

func runMachinesShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	m, err := client.GetMachine(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(m, func() {
		ui.PrintHeader(fmt.Sprintf("Machine #%d %s", m.ID, m.Label()))
		ui.PrintHighlight("Pade code", m.PadeCode)
		ui.PrintHighlight("Description", m.Description)
		ui.PrintHighlight("Active", ui.FormatBool(m.IsActive))
		if len(m.SuccessTime) == 2 {
			ui.PrintHighlight("Success time", fmt.Sprintf("%d-%ds", m.SuccessTime[0], m.SuccessTime[1]))
		}
		ui.PrintHighlight("Reset time", strconv.Itoa(m.ResetTime))
		ui.PrintHighlight("Templates", strconv.Itoa(messages.Parse(m.Message).Len()))
		ui.PrintDivider()
		ui.PrintTable(ui.TargetHeaders, ui.TargetRows(rowsFor(m.Targets)))
	})
}

// rowsFor derives button states without any local marks
func rowsFor(targets []api.Target) []fleet.Row {
	tracker := fleet.NewTracker(0)
	rows := make([]fleet.Row, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, fleet.Row{Target: t, State: tracker.State(t)})
	}
	return rows
}

func machineInput(cmd *cobra.Command) api.MachineInput {
	f := cmd.Flags()
	name, _ := f.GetString("name")
	message, _ := f.GetString("message")
	padeCode, _ := f.GetString("pade-code")
	description, _ := f.GetString("description")
	successMin, _ := f.GetInt("success-min")
	successMax, _ := f.GetInt("success-max")
	resetTime, _ := f.GetInt("reset-time")

	in := api.MachineInput{
		Name:           optionalString(f.Changed("name"), name),
		Message:        optionalString(f.Changed("message"), message),
		PadeCode:       optionalString(f.Changed("pade-code"), padeCode),
		Description:    optionalString(f.Changed("description"), description),
		SuccessTimeMin: optionalInt(f.Changed("success-min"), successMin),
		SuccessTimeMax: optionalInt(f.Changed("success-max"), successMax),
		ResetTime:      optionalInt(f.Changed("reset-time"), resetTime),
	}
	if f.Lookup("active") != nil {
		active, _ := f.GetBool("active")
		in.IsActive = optionalBool(f.Changed("active"), active)
	}
	return in
}

func runMachinesCreate(cmd *cobra.Command, args []string) error {
	m, err := client.CreateMachine(cmd.Context(), machineInput(cmd))
	if err != nil {
		return err
	}
	return output(m, func() {
		ui.PrintSuccess(fmt.Sprintf("Created machine #%d %s", m.ID, m.Label()))
	})
}

func runMachinesUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	m, err := client.UpdateMachine(cmd.Context(), id, machineInput(cmd))
	if err != nil {
		return err
	}
	return output(m, func() {
		ui.PrintSuccess(fmt.Sprintf("Updated machine #%d %s", m.ID, m.Label()))
	})
}

func runMachinesDelete(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title:   fmt.Sprintf("Delete %d machine(s)?", len(ids)),
		Message: "Their targets are deleted with them.",
		Kind:    notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	return forEach("delete", ids, func(id int) (string, error) {
		return client.DeleteMachine(cmd.Context(), id)
	})
}

func runMachinesToggle(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	return forEach("toggle", ids, func(id int) (string, error) {
		m, err := client.ToggleMachine(cmd.Context(), id)
		if err != nil {
			return "", err
		}
		if m.IsActive {
			return m.Label() + " is now active", nil
		}
		return m.Label() + " is now inactive", nil
	})
}

func runMachinesStats(cmd *cobra.Command, args []string) error {
	id := machineID()
	if len(args) == 1 {
		var err error
		if id, err = parseID(args[0]); err != nil {
			return err
		}
	}
	s, err := client.MachineStats(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(s, func() {
		ui.PrintHeader(fmt.Sprintf("Machine #%d", s.MachineID))
		ui.PrintHighlight("Targets", fmt.Sprintf("%d (%d active)", s.TotalURLs, s.ActiveURLs))
		ui.PrintHighlight("Available", strconv.Itoa(s.AvailableURLs))
		ui.PrintHighlight("Completed", strconv.Itoa(s.CompletedURLs))
		ui.PrintHighlight("Executions", fmt.Sprintf("%d / %d", s.TotalExecutions, s.MaxPossibleExecutions))
	})
}

func runMachinesBatch(cmd *cobra.Command, args []string, start bool) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	action, call := "stop", client.BatchStopMachines
	if start {
		action, call = "start", client.BatchStartMachines
	} else {
		ok, err := confirm(notify.Confirm{
			Title: fmt.Sprintf("Stop %d machine(s)?", len(ids)),
			Kind:  notify.Danger,
		})
		if err != nil || !ok {
			return err
		}
	}

	resp, err := call(cmd.Context(), ids)
	if err != nil {
		return err
	}
	sum := batchSummary(resp)
	if flagJSON {
		if err := ui.PrintJSON(resp); err != nil {
			return err
		}
	} else {
		for _, r := range resp.Results {
			line := fmt.Sprintf("#%d %s: %s", r.MachineID, r.MachineName, r.Message)
			if r.OK() {
				ui.PrintSuccess(line)
			} else {
				ui.PrintToast(notify.Error, line)
			}
		}
		ui.PrintInfo(sum.String())
	}
	if sum.Failed > 0 {
		return fmt.Errorf("batch %s: %s", action, sum)
	}
	return nil
}

// batchSummary tallies a batch start or stop
func batchSummary(resp *api.BatchResponse) fleet.Summary {
	var sum fleet.Summary
	for _, r := range resp.Results {
		if r.OK() {
			sum.Success++
		} else {
			sum.Failed++
		}
	}
	return sum
}

func runMachinesDevices(cmd *cobra.Command, args []string) error {
	list, err := client.ListDevices(cmd.Context())
	if err != nil {
		return err
	}
	return output(list, func() {
		ui.PrintHeader(fmt.Sprintf("%d devices: %d configured, %d new", list.TotalDevices, list.ExistingCount, list.NewCount))
		rows := make([][]string, 0, len(list.NewDevices)+len(list.ExistingDevices))
		for _, d := range list.NewDevices {
			rows = append(rows, []string{d.PadCode, d.PadName, d.GoodName, string(d.Status), "new"})
		}
		for _, d := range list.ExistingDevices {
			rows = append(rows, []string{d.PadCode, d.PadName, d.GoodName, string(d.Status), "configured"})
		}
		ui.PrintTable([]string{"PAD CODE", "NAME", "PLAN", "STATUS", "STATE"}, rows)
	})
}

func runMachinesSync(cmd *cobra.Command, args []string) error {
	ok, err := confirm(notify.Confirm{
		Title: "Create machines for every new cloud device?",
		Kind:  notify.Primary,
	})
	if err != nil || !ok {
		return err
	}
	res, err := client.SyncNewDevices(cmd.Context())
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintSuccess(fmt.Sprintf("%s (%d new, %d total)", res.Message, res.NewCount, res.TotalMachines))
		if len(res.CreatedMachines) > 0 {
			ui.PrintTable([]string{"ID", "NAME", "PADE CODE", "ACTIVE", "TARGETS", "UPDATED"}, machineRows(res.CreatedMachines))
		}
	})
}

func runMachinesPower(cmd *cobra.Command, args []string, start bool) error {
	ctx := cmd.Context()
	code := ""
	if len(args) == 1 {
		code = args[0]
	} else {
		var err error
		if code, err = selectedPadeCode(ctx); err != nil {
			return err
		}
	}

	if !start {
		ok, err := confirm(notify.Confirm{
			Title: fmt.Sprintf("Stop device %s?", code),
			Kind:  notify.Danger,
		})
		if err != nil || !ok {
			return err
		}
	}

	call := client.StopMachine
	if start {
		call = client.StartMachine
	}
	res, err := call(ctx, code)
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintSuccess(fmt.Sprintf("%s: %s", code, res.Message))
	})
}

// selectedPadeCode looks up the device code of the selected machine
func selectedPadeCode(ctx context.Context) (string, error) {
	m, err := client.GetMachine(ctx, machineID())
	if err != nil {
		return "", err
	}
	if m.PadeCode == "" {
		return "", fmt.Errorf("machine #%d: %w", m.ID, fleet.ErrNoDevice)
	}
	return m.PadeCode, nil
}
