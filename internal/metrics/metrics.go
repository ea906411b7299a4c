package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/realtime"
)

const namespace = "fleet"

// BatchJob is the Pushgateway job name of batch tallies
const BatchJob = "fleet_batch"

// Metrics holds the collectors exported by fleet watch
type Metrics struct {
	registry *prometheus.Registry

	targets    *prometheus.GaugeVec
	executions *prometheus.GaugeVec
	runSeconds prometheus.Gauge
	connected  prometheus.Gauge
	lastPoll   prometheus.Gauge

	polls   *prometheus.CounterVec
	events  *prometheus.CounterVec
	batches *prometheus.CounterVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		targets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets",
			Help:      "Targets of the watched machine by state",
		}, []string{"state"}),
		executions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions",
			Help:      "Executions done and possible on the watched machine",
		}, []string{"kind"}),
		runSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_time_seconds",
			Help:      "Total running time reported for the watched machine",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connected",
			Help:      "1 while the realtime socket is connected",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last successful poll",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Polls by result",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_total",
			Help:      "Realtime events received by name",
		}, []string{"event"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_executions_total",
			Help:      "Target executions run by batches, by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.targets, m.executions, m.runSeconds, m.connected, m.lastPoll,
		m.polls, m.events, m.batches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePoll records one poll result
func (m *Metrics) ObservePoll(res fleet.PollResult) {
	if res.Err != nil {
		m.polls.WithLabelValues("error").Inc()
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.lastPoll.Set(float64(res.At.Unix()))

	if s := res.Status; s != nil {
		m.targets.WithLabelValues("total").Set(float64(s.TotalURLs))
		m.targets.WithLabelValues("available").Set(float64(s.AvailableURLs))
		m.targets.WithLabelValues("completed").Set(float64(s.CompletedURLs))
		m.targets.WithLabelValues("running").Set(float64(s.RunningURLs))
		m.executions.WithLabelValues("done").Set(float64(s.TotalExecutions))
		m.executions.WithLabelValues("possible").Set(float64(s.MaxPossibleExecutions))
		m.runSeconds.Set(float64(s.TotalRunningTime))
	}
}

// ObserveEvent counts a socket event and tracks the connection state
func (m *Metrics) ObserveEvent(ev realtime.Event) {
	m.events.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case realtime.EventConnect:
		m.connected.Set(1)
	case realtime.EventDisconnect:
		m.connected.Set(0)
	}
}

// ObserveSummary adds a batch's tallies
func (m *Metrics) ObserveSummary(sum fleet.Summary) {
	m.batches.WithLabelValues("success").Add(float64(sum.Success))
	m.batches.WithLabelValues("failed").Add(float64(sum.Failed))
}

// PushBatch sends the batch counters to a Prometheus Pushgateway, grouped
// by machine and action
func (m *Metrics) PushBatch(ctx context.Context, gatewayURL string, machineID int, action string) error {
	err := push.New(gatewayURL, BatchJob).
		Collector(m.batches).
		Grouping("machine", strconv.Itoa(machineID)).
		Grouping("action", action).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push batch metrics: %w", err)
	}
	return nil
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics_listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
