package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/audit"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/metrics"
	"github.com/harshul/fleet-cli/internal/ports"
	"github.com/harshul/fleet-cli/internal/realtime"
	"github.com/harshul/fleet-cli/internal/ui"
)

// watchCmd runs the poll and socket loop without a terminal UI
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a machine headlessly, exporting metrics and audit events",
	Long: `The watch command polls the selected machine and listens on the backend's
socket, printing one line per poll and event. With --metrics-addr it serves
Prometheus metrics; with nats_url set it relays events to the audit bus.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("metrics-addr", "", "Serve /metrics on this address (default: metrics_addr from the config)")
	watchCmd.Flags().StringP("label", "l", "", "Only print events for targets whose label contains this text")
	watchCmd.Flags().Bool("no-socket", false, "Only poll, do not connect to the socket")
}

func runWatch(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	label, _ := cmd.Flags().GetString("label")
	noSocket, _ := cmd.Flags().GetBool("no-socket")
	if addr == "" {
		addr = appConfig.MetricsAddr
	}
	if addr != "" {
		shifted, moved, err := ports.Shift(addr)
		if err != nil {
			return err
		}
		if moved {
			ui.PrintWarning(fmt.Sprintf("%s is busy, serving metrics on %s", addr, shifted))
			addr = shifted
		}
	}

	id := machineID()
	tracker := fleet.NewTracker(id)
	poller := fleet.NewPoller(client, tracker, appConfig.PollInterval, logger)
	m := metrics.New()

	publisher, err := audit.Connect(appConfig.NatsURL, appConfig.AuditSubject, logger)
	if err != nil {
		ui.PrintWarning(fmt.Sprintf("Audit disabled: %v", err))
		publisher, _ = audit.Connect("", appConfig.AuditSubject, logger)
	}
	defer publisher.Close()

	var socket *realtime.Client
	if !noSocket {
		socket, err = realtime.New(appConfig.Server, realtime.WithJar(client.Jar()), realtime.WithLogger(logger))
		if err != nil {
			return err
		}
	}

	logger.Info("watch_start", zap.Int("machine_id", id), zap.String("metrics_addr", addr), zap.Bool("audit", publisher.Enabled()))
	ui.PrintInfo(fmt.Sprintf("Watching machine #%d (ctrl+c to stop)", id))

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		poller.Run(ctx)
		return nil
	})
	g.Go(func() error {
		for res := range poller.Results() {
			if err := watchPoll(ctx, id, res, m, publisher); err != nil {
				return err
			}
		}
		return nil
	})

	if socket != nil {
		g.Go(func() error {
			if err := socket.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		g.Go(func() error {
			for ev := range socket.Events() {
				m.ObserveEvent(ev)
				if err := publisher.PublishEvent(ctx, id, ev); err != nil {
					logger.Warn("audit_publish_failed", zap.Error(err))
				}
				if watchMatches(ev, tracker, label) {
					printLine(ui.DescribeEvent(ev))
				}

				outcome, err := tracker.Apply(ev)
				if err != nil {
					logger.Debug("event_decode_failed", zap.String("event", ev.Name), zap.Error(err))
					continue
				}
				if outcome == fleet.NeedsRefresh {
					if err := watchPoll(ctx, id, poller.Poll(ctx), m, publisher); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	if addr != "" {
		g.Go(func() error {
			return m.Serve(ctx, addr, logger)
		})
	}

	err = g.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchPoll prints and records one poll. An expired session stops the
// watch; other failures are printed and the loop carries on.
func watchPoll(ctx context.Context, id int, res fleet.PollResult, m *metrics.Metrics, publisher *audit.Publisher) error {
	m.ObservePoll(res)
	if res.Err != nil {
		if errors.Is(res.Err, api.ErrUnauthorized) {
			return res.Err
		}
		printLine(fmt.Sprintf("poll failed: %v", res.Err))
		return nil
	}
	if res.Status == nil {
		return nil
	}

	s := res.Status
	printLine(fmt.Sprintf("machine %d: %d/%d executions, %d available, %d running",
		id, s.TotalExecutions, s.MaxPossibleExecutions, s.AvailableURLs, s.RunningURLs))

	if publisher.Enabled() {
		if err := publisher.Publish(ctx, audit.KindPoll, id, s); err != nil {
			logger.Warn("audit_publish_failed", zap.Error(err))
		}
	}
	return nil
}

// watchMatches drops events for other machines and applies --label to
// target events. Connection events always pass.
func watchMatches(ev realtime.Event, tracker *fleet.Tracker, label string) bool {
	te, err := ev.Decode()
	if err != nil {
		return true
	}
	if te.MachineID != 0 && te.MachineID != tracker.MachineID() {
		return false
	}
	if label == "" || te.TargetID == 0 {
		return true
	}
	if te.Target != nil {
		return len(fleet.FilterByLabel([]api.Target{*te.Target}, label)) > 0
	}
	for _, t := range fleet.FilterByLabel(tracker.Targets(), label) {
		if t.ID == te.TargetID {
			return true
		}
	}
	return false
}

func printLine(text string) {
	fmt.Fprintf(ui.Stdout, "%s %s\n", time.Now().Format("15:04:05"), text)
}
