package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/config"
	"github.com/harshul/fleet-cli/internal/ui"
)

// loginCmd signs in and saves the session cookies
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the backend and save the session",
	Long: `The login command posts the backend's login form and keeps the session
cookie in the session file, so later commands run as the same user.

The password is read from a prompt unless FLEET_PASSWORD is set.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

// logoutCmd ends the session
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the saved cookies",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "Username (defaults to the config's username)")
	loginCmd.Flags().Bool("save-username", true, "Remember the username in the config file")
}

func runLogin(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")
	saveUsername, _ := cmd.Flags().GetBool("save-username")

	if username == "" {
		username = appConfig.Username
	}
	if username == "" {
		value, ok, err := ui.RunTextInputPrompt("Username", "Account on "+appConfig.Server, "admin", "")
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		if !ok {
			return nil
		}
		username = strings.TrimSpace(value)
	}

	password := passwordFromEnv()
	if password == "" {
		value, ok, err := ui.RunPasswordPrompt(fmt.Sprintf("Password for %s", username))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if !ok {
			return nil
		}
		password = value
	}

	if err := client.Login(cmd.Context(), username, password); err != nil {
		if errors.Is(err, api.ErrBadCredentials) {
			return fmt.Errorf("login failed: %w", err)
		}
		return err
	}

	session := config.NewSession(appConfig.Server, username, client.Cookies(), time.Now())
	if err := config.SaveSession(appConfig.SessionFile, session); err != nil {
		return err
	}
	logger.Info("login", zap.String("username", username))

	if saveUsername && username != appConfig.Username {
		cfg, err := config.LoadFile(flagConfig)
		if err == nil {
			cfg.Username = username
			err = config.Save(flagConfig, cfg)
		}
		if err != nil {
			ui.PrintWarning(fmt.Sprintf("Could not remember the username: %v", err))
		}
	}

	ui.PrintSuccess(fmt.Sprintf("Logged in to %s as %s", appConfig.Server, username))
	return nil
}

// passwordFromEnv reads FLEET_PASSWORD for scripted logins
func passwordFromEnv() string {
	var env struct {
		Password string `env:"PASSWORD"`
	}
	if err := config.ParseEnv(&env); err != nil {
		return ""
	}
	return env.Password
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := client.Logout(cmd.Context()); err != nil {
		// The local session goes either way
		ui.PrintWarning(fmt.Sprintf("Server logout failed: %v", err))
	}
	if err := config.RemoveSession(appConfig.SessionFile); err != nil {
		return err
	}
	logger.Info("logout")
	ui.PrintSuccess("Logged out")
	return nil
}
