package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// usersCmd manages dashboard accounts
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts and your profile",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an account (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersCreate,
}

var usersToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable an account (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersToggle,
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete accounts (admin only)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUsersDelete,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the logged-in account",
	Args:  cobra.NoArgs,
	RunE:  runProfile,
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change your email or password",
	Args:  cobra.NoArgs,
	RunE:  runProfileUpdate,
}

func init() {
	usersListCmd.Flags().Int("page", 1, "Page number")
	usersListCmd.Flags().Int("per-page", 20, "Accounts per page")
	usersListCmd.Flags().StringP("search", "s", "", "Only accounts whose name or email contains this text")

	usersCreateCmd.Flags().String("email", "", "Email address")
	usersCreateCmd.Flags().Bool("admin", false, "Grant admin rights")

	profileUpdateCmd.Flags().String("email", "", "New email address")
	profileUpdateCmd.Flags().Bool("password", false, "Change the password (prompts for both passwords)")

	profileCmd.AddCommand(profileUpdateCmd)
	usersCmd.AddCommand(usersListCmd, usersCreateCmd, usersToggleCmd, usersDeleteCmd, profileCmd)
}

func userRows(users []api.User) [][]string {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			strconv.Itoa(u.ID),
			u.Username,
			u.Email,
			ui.FormatBool(u.IsAdmin),
			ui.FormatBool(u.IsActive),
			ui.FormatTime(u.LastLogin),
		})
	}
	return rows
}

var userHeaders = []string{"ID", "USERNAME", "EMAIL", "ADMIN", "ACTIVE", "LAST LOGIN"}

func runUsersList(cmd *cobra.Command, args []string) error {
	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	search, _ := cmd.Flags().GetString("search")

	res, err := client.ListUsers(cmd.Context(), page, perPage, search)
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintHeader(fmt.Sprintf("%d accounts", res.Pagination.Total))
		ui.PrintTable(userHeaders, userRows(res.Users))
		if res.Pagination.Pages > 1 {
			ui.PrintInfo(fmt.Sprintf("Page %d of %d", res.Pagination.Page, res.Pagination.Pages))
		}
	})
}

// readPassword prompts for a password and treats a cancelled prompt as
// an error
func readPassword(title string) (string, error) {
	value, ok, err := ui.RunPasswordPrompt(title)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("cancelled")
	}
	return value, nil
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	admin, _ := cmd.Flags().GetBool("admin")

	password := passwordFromEnv()
	if password == "" {
		var err error
		if password, err = readPassword(fmt.Sprintf("Password for %s", args[0])); err != nil {
			return err
		}
	}

	u, err := client.CreateUser(cmd.Context(), api.UserInput{
		Username: args[0],
		Password: password,
		Email:    email,
		IsAdmin:  admin,
	})
	if err != nil {
		return err
	}
	return output(u, func() {
		ui.PrintSuccess(fmt.Sprintf("Created account #%d %s", u.ID, u.Username))
	})
}

func runUsersToggle(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title:   fmt.Sprintf("Enable or disable account #%d?", id),
		Message: "A disabled account can no longer log in.",
		Kind:    notify.Caution,
	})
	if err != nil || !ok {
		return err
	}
	res, err := client.ToggleUser(cmd.Context(), id)
	if err != nil {
		return err
	}
	logger.Info("user_toggled", zap.Int("user_id", id), zap.Bool("active", res.User.IsActive))
	return output(res, func() {
		ui.PrintSuccess(res.Message)
		ui.PrintHighlight("Active", ui.FormatBool(res.User.IsActive))
	})
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title:   fmt.Sprintf("Delete %d account(s)?", len(ids)),
		Message: "This cannot be undone.",
		Kind:    notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	return forEach("delete", ids, func(id int) (string, error) {
		return client.DeleteUser(cmd.Context(), id)
	})
}

func printUser(u *api.User) {
	ui.PrintHeader(u.Username)
	ui.PrintHighlight("ID", strconv.Itoa(u.ID))
	ui.PrintHighlight("Email", u.Email)
	ui.PrintHighlight("Admin", ui.FormatBool(u.IsAdmin))
	ui.PrintHighlight("Created", ui.FormatTime(u.CreatedAt))
	ui.PrintHighlight("Last login", ui.FormatTime(u.LastLogin))
}

func runProfile(cmd *cobra.Command, args []string) error {
	u, err := client.Profile(cmd.Context())
	if err != nil {
		return err
	}
	return output(u, func() { printUser(u) })
}

func runProfileUpdate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	email, _ := f.GetString("email")
	changePassword, _ := f.GetBool("password")

	in := api.ProfileInput{Email: optionalString(f.Changed("email"), email)}
	if changePassword {
		var err error
		if in.CurrentPassword, err = readPassword("Current password"); err != nil {
			return err
		}
		if in.NewPassword, err = readPassword("New password"); err != nil {
			return err
		}
		confirmed, err := readPassword("Repeat new password")
		if err != nil {
			return err
		}
		if confirmed != in.NewPassword {
			return fmt.Errorf("passwords do not match")
		}
	}
	if in.Email == nil && in.NewPassword == "" {
		return fmt.Errorf("nothing to change: give --email or --password")
	}

	u, err := client.UpdateProfile(cmd.Context(), in)
	if err != nil {
		return err
	}
	return output(u, func() {
		ui.PrintSuccess("Profile updated")
		printUser(u)
	})
}
