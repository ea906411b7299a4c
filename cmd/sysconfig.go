package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/envfile"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// sysconfigCmd manages the backend's settings and their env file mirror
var sysconfigCmd = &cobra.Command{
	Use:     "sysconfig",
	Aliases: []string{"settings"},
	Short:   "Manage system settings and the env file",
}

var sysconfigListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings grouped by category",
	Args:  cobra.NoArgs,
	RunE:  runSysconfigList,
}

var sysconfigSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting's value",
	Args:  cobra.ExactArgs(2),
	RunE:  runSysconfigSet,
}

var sysconfigCreateCmd = &cobra.Command{
	Use:   "create <key> <value>",
	Short: "Add a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSysconfigCreate,
}

var sysconfigDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSysconfigDelete,
}

var sysconfigExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the settings to a local env file",
	Args:  cobra.NoArgs,
	RunE:  runSysconfigExport,
}

var sysconfigBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up and rewrite the server's env file",
	Args:  cobra.NoArgs,
	RunE:  runSysconfigBackup,
}

var sysconfigSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import the server's env file into the settings",
	Args:  cobra.NoArgs,
	RunE:  runSysconfigSync,
}

var sysconfigTestCmd = &cobra.Command{
	Use:   "test <key>",
	Short: "Test the connection a setting points at",
	Args:  cobra.ExactArgs(1),
	RunE:  runSysconfigTest,
}

var sysconfigDiffCmd = &cobra.Command{
	Use:   "diff <file>",
	Short: "Preview what syncing a local env file would change",
	Args:  cobra.ExactArgs(1),
	RunE:  runSysconfigDiff,
}

func init() {
	sysconfigListCmd.Flags().Bool("reveal", false, "Show values without masking")
	sysconfigSetCmd.Flags().String("description", "", "New description")
	sysconfigCreateCmd.Flags().String("description", "", "Description")
	sysconfigCreateCmd.Flags().String("category", "", "Category (default: inferred from the key)")
	sysconfigCreateCmd.Flags().Bool("sensitive", false, "Hide the value in listings")
	sysconfigExportCmd.Flags().StringP("output", "o", "", "File to write (default: the server's file name)")
	sysconfigDiffCmd.Flags().Bool("all", false, "Include unchanged keys")

	sysconfigCmd.AddCommand(
		sysconfigListCmd,
		sysconfigSetCmd,
		sysconfigCreateCmd,
		sysconfigDeleteCmd,
		sysconfigExportCmd,
		sysconfigBackupCmd,
		sysconfigSyncCmd,
		sysconfigTestCmd,
		sysconfigDiffCmd,
	)
}

// displayValue masks sensitive values for tables
func displayValue(cfg api.SystemConfig, reveal bool) string {
	if reveal || !cfg.IsSensitive || cfg.Value == api.HiddenValue {
		return cfg.Value
	}
	return envfile.Mask(cfg.Value)
}

func runSysconfigList(cmd *cobra.Command, args []string) error {
	reveal, _ := cmd.Flags().GetBool("reveal")
	list, err := client.ListSystemConfigs(cmd.Context())
	if err != nil {
		return err
	}
	return output(list, func() {
		categories := make([]string, 0, len(list.Configs))
		for c := range list.Configs {
			categories = append(categories, c)
		}
		sort.Strings(categories)

		for i, c := range categories {
			if i > 0 {
				ui.PrintDivider()
			}
			title := c
			if name := list.Categories[c]; name != "" {
				title = fmt.Sprintf("%s (%s)", name, c)
			}
			ui.PrintHeader(title)

			rows := make([][]string, 0, len(list.Configs[c]))
			for _, cfg := range list.Configs[c] {
				rows = append(rows, []string{
					strconv.Itoa(cfg.ID),
					cfg.Key,
					ui.Truncate(displayValue(cfg, reveal), 40),
					ui.Truncate(cfg.Description, 32),
				})
			}
			ui.PrintTable([]string{"ID", "KEY", "VALUE", "DESCRIPTION"}, rows)
		}
	})
}

// findConfig resolves a key to its setting
func findConfig(cmd *cobra.Command, key string) (api.SystemConfig, error) {
	list, err := client.ListSystemConfigs(cmd.Context())
	if err != nil {
		return api.SystemConfig{}, err
	}
	cfg, ok := list.Find(key)
	if !ok {
		return api.SystemConfig{}, fmt.Errorf("no setting named %s", key)
	}
	return cfg, nil
}

func runSysconfigSet(cmd *cobra.Command, args []string) error {
	description, _ := cmd.Flags().GetString("description")
	cfg, err := findConfig(cmd, args[0])
	if err != nil {
		return err
	}
	updated, old, err := client.UpdateSystemConfig(cmd.Context(), cfg.ID, args[1], description)
	if err != nil {
		return err
	}
	logger.Info("sysconfig_set", zap.String("key", updated.Key))
	return output(updated, func() {
		ui.PrintSuccess(fmt.Sprintf("Updated %s", updated.Key))
		if !updated.IsSensitive {
			ui.PrintHighlight("Old", old)
			ui.PrintHighlight("New", updated.Value)
		}
	})
}

func runSysconfigCreate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	description, _ := f.GetString("description")
	category, _ := f.GetString("category")
	sensitive, _ := f.GetBool("sensitive")

	inferred, inferredSensitive := envfile.InferCategory(args[0])
	if category == "" {
		category = inferred
	}
	if !f.Changed("sensitive") {
		sensitive = inferredSensitive
	}

	cfg, err := client.CreateSystemConfig(cmd.Context(), api.SystemConfigInput{
		Key:         args[0],
		Value:       args[1],
		Description: description,
		Category:    category,
		IsSensitive: sensitive,
	})
	if err != nil {
		return err
	}
	return output(cfg, func() {
		ui.PrintSuccess(fmt.Sprintf("Created %s in %s", cfg.Key, cfg.Category))
	})
}

func runSysconfigDelete(cmd *cobra.Command, args []string) error {
	cfg, err := findConfig(cmd, args[0])
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title: fmt.Sprintf("Delete setting %s?", cfg.Key),
		Kind:  notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	msg, err := client.DeleteSystemConfig(cmd.Context(), cfg.ID)
	if err != nil {
		return err
	}
	ui.PrintSuccess(msg)
	return nil
}

func runSysconfigExport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("output")
	exp, err := client.ExportEnv(cmd.Context())
	if err != nil {
		return err
	}
	if path == "" {
		path = exp.Filename
	}
	if path == "" {
		path = ".env"
	}
	backup, err := envfile.WriteFile(path, exp.Content)
	if err != nil {
		return err
	}
	logger.Info("env_exported", zap.String("path", path))
	ui.PrintSuccess(fmt.Sprintf("Wrote %s", path))
	if backup != "" {
		ui.PrintInfo(fmt.Sprintf("Previous file kept as %s", backup))
	}
	return nil
}

func runSysconfigBackup(cmd *cobra.Command, args []string) error {
	res, err := client.BackupEnv(cmd.Context())
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintSuccess(res.Message)
		if res.BackupCreated {
			ui.PrintHighlight("Backup", res.BackupPath)
		}
	})
}

func runSysconfigSync(cmd *cobra.Command, args []string) error {
	ok, err := confirm(notify.Confirm{
		Title:   "Import the server's env file?",
		Message: "Existing settings are overwritten by the file's values.",
		Kind:    notify.Caution,
	})
	if err != nil || !ok {
		return err
	}
	res, err := client.SyncFromEnv(cmd.Context())
	if err != nil {
		return err
	}
	return output(res, func() {
		ui.PrintSuccess(res.Message)
		ui.PrintHighlight("Created", strconv.Itoa(res.CreatedCount))
		ui.PrintHighlight("Updated", strconv.Itoa(res.UpdatedCount))
		ui.PrintHighlight("Processed", strconv.Itoa(res.TotalProcessed))
	})
}

func runSysconfigTest(cmd *cobra.Command, args []string) error {
	res, err := client.TestSystemConfig(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := output(res, func() {
		if res.Result.Success {
			ui.PrintSuccess(fmt.Sprintf("%s: %s", res.Key, res.Result.Message))
		} else {
			ui.PrintError(fmt.Sprintf("%s: %s", res.Key, res.Result.Message))
		}
	}); err != nil {
		return err
	}
	if !res.Result.Success {
		return fmt.Errorf("test of %s failed", res.Key)
	}
	return nil
}

func runSysconfigDiff(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	entries, err := envfile.ReadFile(args[0])
	if err != nil {
		return err
	}
	server, err := client.ListSystemConfigs(cmd.Context())
	if err != nil {
		return err
	}

	changes := envfile.Diff(entries, server)
	return output(changes, func() {
		counts := envfile.Count(changes)
		ui.PrintHeader(fmt.Sprintf("%s: %d create, %d update, %d unchanged, %d unknown",
			args[0], counts[envfile.Create], counts[envfile.Update], counts[envfile.Unchanged], counts[envfile.Unknown]))

		rows := make([][]string, 0, len(changes))
		for _, c := range changes {
			if c.Action == envfile.Unchanged && !all {
				continue
			}
			local, remote := c.Local, c.Remote
			if c.Sensitive {
				local = envfile.Mask(local)
				if remote != api.HiddenValue {
					remote = envfile.Mask(remote)
				}
			}
			rows = append(rows, []string{
				strconv.Itoa(c.Line),
				string(c.Action),
				c.Key,
				c.Category,
				ui.Truncate(remote, 28),
				ui.Truncate(local, 28),
			})
		}
		if len(rows) == 0 {
			ui.PrintInfo("Nothing to sync")
			return
		}
		ui.PrintTable([]string{"LINE", "ACTION", "KEY", "CATEGORY", "SERVER", "FILE"}, rows)
	})
}
