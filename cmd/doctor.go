package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harshul/fleet-cli/internal/doctor"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/realtime"
	"github.com/harshul/fleet-cli/internal/ui"
)

// doctorCmd checks that the client can reach and use the backend
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, server, session, socket and log file",
	Long: `The doctor command runs each check in turn and prints what it found,
with a hint for anything that failed. It exits non-zero when a check fails.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{configOptional: "true"},
	RunE:        runDoctor,
}

func init() {
	doctorCmd.Flags().Duration("timeout", 0, "Timeout per network check (default 10s)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	opts := doctor.Options{
		Config:    &appConfig,
		ConfigErr: appConfigErr,
		Timeout:   timeout,
	}
	if client != nil {
		opts.Client = client
		socket, err := realtime.New(appConfig.Server, realtime.WithJar(client.Jar()), realtime.WithLogger(logger))
		if err == nil {
			opts.Socket = socket
		}
	}

	d := doctor.Diagnose(cmd.Context(), opts)
	if err := output(d, func() { printDiagnosis(d) }); err != nil {
		return err
	}
	if !d.Healthy {
		return fmt.Errorf("%d check(s) failed", len(d.Issues))
	}
	return nil
}

func printDiagnosis(d doctor.Diagnosis) {
	ui.PrintHeader("fleet doctor")
	if d.Server != "" {
		ui.PrintHighlight("Server", d.Server)
	}
	if d.Username != "" {
		ui.PrintHighlight("Username", d.Username)
	}
	ui.PrintDivider()

	for _, c := range d.Checks {
		switch {
		case c.Skipped:
			ui.PrintToast(notify.Info, fmt.Sprintf("%s: skipped (%s)", c.Name, c.Detail))
		case c.OK:
			ui.PrintSuccess(fmt.Sprintf("%s: %s", c.Name, c.Detail))
		default:
			ui.PrintError(fmt.Sprintf("%s: %s", c.Name, c.Detail))
			if c.Hint != "" {
				ui.PrintInfo("  " + c.Hint)
			}
		}
	}

	ui.PrintDivider()
	if d.Healthy {
		ui.PrintSuccess("All checks passed")
	} else {
		ui.PrintWarning(fmt.Sprintf("%d issue(s) found", len(d.Issues)))
	}
}
