package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/audit"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/metrics"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ports"
	"github.com/harshul/fleet-cli/internal/realtime"
	"github.com/harshul/fleet-cli/internal/ui"
)

// dashboardCmd opens the live dashboard
var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash", "ui"},
	Short:   "Open the live dashboard for a machine",
	Long: `The dashboard shows one machine's counters and targets, refreshed every
poll_interval and patched live from the backend's socket.

Keys:
  x / enter   execute the selected target
  a           execute every available target, then start the machine
  s / S       start all / stop the machine
  r / R       reset the selected target / every target
  /           filter by label
  q           quit`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().StringP("label", "l", "", "Only show targets whose label contains this text")
	dashboardCmd.Flags().Bool("pick", false, "Choose the machine from a list")
	dashboardCmd.Flags().Bool("no-tui", false, "Disable TUI dashboard (print activity lines instead)")
	dashboardCmd.Flags().Bool("no-socket", false, "Only poll, do not connect to the socket")
	dashboardCmd.Flags().String("metrics-addr", "", "Serve /metrics on this address while the dashboard runs")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	label, _ := cmd.Flags().GetString("label")
	pick, _ := cmd.Flags().GetBool("pick")
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	noSocket, _ := cmd.Flags().GetBool("no-socket")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx := cmd.Context()
	id := machineID()
	if pick {
		picked, ok, err := pickMachine(ctx)
		if err != nil || !ok {
			return err
		}
		id = picked
	}

	publisher, err := audit.Connect(appConfig.NatsURL, appConfig.AuditSubject, logger)
	if err != nil {
		ui.PrintWarning(fmt.Sprintf("Audit disabled: %v", err))
		publisher, _ = audit.Connect("", appConfig.AuditSubject, logger)
	}
	defer publisher.Close()

	m := metrics.New()
	if metricsAddr != "" {
		addr, moved, err := ports.Shift(metricsAddr)
		if err != nil {
			return err
		}
		if moved {
			ui.PrintWarning(fmt.Sprintf("%s is busy, serving metrics on %s", metricsAddr, addr))
		}
		go func() {
			if err := m.Serve(ctx, addr, logger); err != nil {
				logger.Warn("metrics_serve_failed", zap.Error(err))
			}
		}()
	}

	tracker := fleet.NewTracker(id)
	runner := fleet.NewRunner(client, tracker, appConfig.ExecuteGap, logger)

	var socket *realtime.Client
	if !noSocket {
		socket, err = realtime.New(appConfig.Server, realtime.WithJar(client.Jar()), realtime.WithLogger(logger))
		if err != nil {
			return err
		}
	}

	logger.Info("dashboard_start", zap.Int("machine_id", id), zap.Bool("tui", !noTUI))

	dr := ui.NewDashboardRunner(ui.RunnerConfig{
		Dashboard: ui.DashboardConfig{
			Context:  ctx,
			Runner:   runner,
			Notifier: notify.NewNotifier(appConfig.ToastDuration),
			Logger:   logger,
			Filter:   label,
			OnSummary: func(action string, sum fleet.Summary) {
				m.ObserveSummary(sum)
				go pushBatchMetrics(ctx, m, id, action)
				if err := publisher.PublishSummary(ctx, id, action, sum); err != nil {
					logger.Warn("audit_publish_failed", zap.Error(err))
				}
			},
		},
		Poller: fleet.NewPoller(client, tracker, appConfig.PollInterval, logger),
		Socket: socket,
		OnEvent: func(ev realtime.Event) {
			m.ObserveEvent(ev)
			if err := publisher.PublishEvent(ctx, id, ev); err != nil {
				logger.Warn("audit_publish_failed", zap.Error(err))
			}
		},
		FallbackMode: noTUI,
	})
	return dr.Start()
}

// pickMachine lets the user choose among the configured machines
func pickMachine(ctx context.Context) (int, bool, error) {
	machines, err := client.ListMachines(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(machines) == 0 {
		return 0, false, fmt.Errorf("no machines configured")
	}

	options := make([]ui.SelectOption, 0, len(machines))
	for _, m := range machines {
		options = append(options, ui.SelectOption{
			Label:       fmt.Sprintf("#%d %s", m.ID, m.Label()),
			Value:       strconv.Itoa(m.ID),
			Description: machineSummary(m),
		})
	}
	opt, ok, err := ui.RunSelectPrompt("Select a machine", "", options)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.Atoi(opt.Value)
	return id, err == nil, err
}

func machineSummary(m api.Machine) string {
	state := "inactive"
	if m.IsActive {
		state = "active"
	}
	if m.PadeCode == "" {
		return state
	}
	return m.PadeCode + ", " + state
}
