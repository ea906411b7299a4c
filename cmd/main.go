package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/config"
	"github.com/harshul/fleet-cli/internal/logging"
)

// Version information (can be set at build time)
var (
	version = "0.1.0"
)

// Global flags
var (
	flagConfig  string
	flagServer  string
	flagMachine int
	flagVerbose bool
	flagJSON    bool
	flagYes     bool
)

// Set up by the root command before any subcommand runs
var (
	appConfig    config.Config
	appConfigErr error
	logger       = zap.NewNop()
	client       *api.Client
)

// configOptional marks commands that still run when the config is invalid
const configOptional = "config-optional"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Drive the machine fleet backend from the terminal",
	Long: `Fleet is a terminal client for the machine fleet backend. It manages
machines, their target URLs, cleanup tasks, system settings and users, and
runs a live dashboard fed by polling and the backend's socket.

Usage:
  fleet login        Sign in and keep the session
  fleet dashboard    Open the live dashboard for a machine
  fleet urls list    List a machine's targets
  fleet doctor       Check config, server, session and socket`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", config.DefaultPath(), "Path to the config file")
	pf.StringVar(&flagServer, "server", "", "Backend URL (overrides the config file)")
	pf.IntVarP(&flagMachine, "machine", "m", 0, "Machine id (overrides the config file)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log at debug level")
	pf.BoolVar(&flagJSON, "json", false, "Print JSON instead of tables")
	pf.BoolVarP(&flagYes, "yes", "y", false, "Do not ask for confirmation")

	// Add subcommands
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(machinesCmd)
	rootCmd.AddCommand(urlsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(sysconfigCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(watchCmd)
}

// setup loads the config, applies flag overrides, opens the log and builds
// the REST client with the saved session.
func setup(cmd *cobra.Command, args []string) error {
	appConfigErr = nil
	cfg, err := config.Load(flagConfig)
	if err != nil {
		if !isConfigOptional(cmd) {
			return err
		}
		appConfigErr = err
	}

	if cmd.Flags().Changed("server") {
		cfg.Server = flagServer
	}
	if cmd.Flags().Changed("machine") {
		cfg.MachineID = flagMachine
	}
	if appConfigErr == nil {
		if err := cfg.Validate(); err != nil {
			if !isConfigOptional(cmd) {
				return err
			}
			appConfigErr = err
		}
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(config.Dir(), "fleet.log")
	}
	appConfig = cfg

	l, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Verbose: flagVerbose})
	if err != nil {
		// Logging must not keep the client from running
		fmt.Fprintln(os.Stderr, "Warning:", err)
		l = zap.NewNop()
	}
	logger = l.With(zap.String("command", cmd.CommandPath()))

	c, err := api.New(cfg.Server,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger),
		api.WithUserAgent("fleet-cli/"+version),
	)
	if err != nil {
		if isConfigOptional(cmd) {
			return nil
		}
		return err
	}
	client = c
	restoreSession()
	return nil
}

func isConfigOptional(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[configOptional] == "true" {
			return true
		}
	}
	return false
}

// restoreSession loads saved cookies when they belong to the configured
// server
func restoreSession() {
	s, err := config.LoadSession(appConfig.SessionFile)
	if err != nil {
		if !errors.Is(err, config.ErrNoSession) {
			logger.Warn("session_load_failed", zap.Error(err))
		}
		return
	}
	if s.Server != appConfig.Server {
		logger.Debug("session_other_server", zap.String("session_server", s.Server))
		return
	}
	client.SetCookies(s.HTTPCookies(time.Now()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, api.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "Session expired, run 'fleet login'")
		}
		os.Exit(1)
	}
}
