package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/config"
	"github.com/harshul/fleet-cli/internal/logging"
	"github.com/harshul/fleet-cli/internal/ports"
	"github.com/harshul/fleet-cli/internal/realtime"
)

// CheckStatus represents the result of one check
type CheckStatus struct {
	Name    string
	OK      bool
	Skipped bool
	Detail  string // what was found
	Hint    string // how to fix it
}

// Diagnosis contains the full health check results
type Diagnosis struct {
	Server   string
	Username string
	Checks   []CheckStatus
	Healthy  bool
	Issues   []string
}

// ProfileFetcher is the REST call used to test the session
type ProfileFetcher interface {
	Profile(ctx context.Context) (*api.User, error)
}

// Prober performs the socket handshake
type Prober interface {
	Probe(ctx context.Context) (realtime.OpenPayload, error)
}

// Options carries what Diagnose checks. A nil Client or Socket skips the
// checks that need it.
type Options struct {
	Config    *config.Config
	ConfigErr error
	Client    ProfileFetcher
	Socket    Prober
	Timeout   time.Duration
}

// Diagnose runs every check in order and collects the issues
func Diagnose(ctx context.Context, opts Options) Diagnosis {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	diagnosis := Diagnosis{
		Healthy: true,
		Issues:  []string{},
	}
	if opts.Config != nil {
		diagnosis.Server = opts.Config.Server
		diagnosis.Username = opts.Config.Username
	}

	server, session := checkServer(ctx, opts)
	checks := []CheckStatus{
		checkConfig(opts),
		server,
		session,
		checkSocket(ctx, opts),
		checkLogFile(opts.Config),
		checkMetricsAddr(opts.Config),
	}

	for _, c := range checks {
		if !c.OK && !c.Skipped {
			diagnosis.Healthy = false
			issue := c.Name + ": " + c.Detail
			if c.Hint != "" {
				issue += " (" + c.Hint + ")"
			}
			diagnosis.Issues = append(diagnosis.Issues, issue)
		}
	}
	diagnosis.Checks = checks
	return diagnosis
}

// checkConfig reports whether the configuration loaded
func checkConfig(opts Options) CheckStatus {
	status := CheckStatus{Name: "config"}
	switch {
	case opts.ConfigErr != nil:
		status.Detail = opts.ConfigErr.Error()
		status.Hint = "fix it with fleet config set"
	case opts.Config == nil:
		status.Detail = "no configuration"
	default:
		status.OK = true
		status.Detail = fmt.Sprintf("server %s, machine %d", opts.Config.Server, opts.Config.MachineID)
	}
	return status
}

// checkServer calls /api/profile once. Any HTTP answer means the server is
// reachable, and only a 2xx means the session is valid.
func checkServer(ctx context.Context, opts Options) (server, session CheckStatus) {
	server = CheckStatus{Name: "server"}
	session = CheckStatus{Name: "session"}
	if opts.Client == nil {
		server.Skipped, server.Detail = true, "no client"
		session.Skipped, session.Detail = true, "no client"
		return server, session
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	user, err := opts.Client.Profile(ctx)
	if err != nil && api.StatusCode(err) == 0 {
		server.Detail = err.Error()
		server.Hint = "check the server address and that the backend is running"
		session.Skipped, session.Detail = true, "server unreachable"
		return server, session
	}
	server.OK = true
	server.Detail = "reachable"

	switch {
	case errors.Is(err, api.ErrUnauthorized):
		session.Detail = "not logged in or session expired"
		session.Hint = "run fleet login"
	case err != nil:
		session.Detail = err.Error()
	default:
		session.OK = true
		session.Detail = "logged in as " + user.Username
		if user.IsAdmin {
			session.Detail += " (admin)"
		}
	}
	return server, session
}

// checkSocket performs the realtime handshake
func checkSocket(ctx context.Context, opts Options) CheckStatus {
	status := CheckStatus{Name: "socket"}
	if opts.Socket == nil {
		status.Skipped, status.Detail = true, "no socket client"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	open, err := opts.Socket.Probe(ctx)
	if err != nil {
		status.Detail = err.Error()
		status.Hint = "realtime updates will fall back to polling"
		return status
	}
	status.OK = true
	status.Detail = fmt.Sprintf("handshake ok, ping every %s", time.Duration(open.PingInterval)*time.Millisecond)
	return status
}

// checkLogFile makes sure the log file can be appended to
func checkLogFile(cfg *config.Config) CheckStatus {
	status := CheckStatus{Name: "log file"}
	if cfg == nil || cfg.LogFile == "" || cfg.LogFile == logging.Disabled {
		status.Skipped = true
		status.Detail = "logging disabled"
		return status
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		status.Detail = err.Error()
		return status
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		status.Detail = err.Error()
		status.Hint = "set log_file to a writable path or - to disable"
		return status
	}
	f.Close()
	status.OK = true
	status.Detail = cfg.LogFile
	return status
}

// checkMetricsAddr makes sure fleet watch could listen on metrics_addr
func checkMetricsAddr(cfg *config.Config) CheckStatus {
	status := CheckStatus{Name: "metrics"}
	if cfg == nil || cfg.MetricsAddr == "" {
		status.Skipped = true
		status.Detail = "metrics_addr not set"
		return status
	}

	if err := ports.Check(cfg.MetricsAddr); err != nil {
		status.Detail = err.Error()
		var conflict *ports.Conflict
		if errors.As(err, &conflict) {
			status.Hint = "fleet watch will move to the next free port"
		}
		return status
	}
	status.OK = true
	status.Detail = cfg.MetricsAddr + " is free"
	return status
}
