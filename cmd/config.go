package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harshul/fleet-cli/internal/config"
	"github.com/harshul/fleet-cli/internal/ui"
)

// configCmd shows and edits the config file
var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Show or change client settings",
	Annotations: map[string]string{configOptional: "true"},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting in the config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(ui.Stdout, flagConfig)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	values := appConfig.Values()
	return output(values, func() {
		ui.PrintHeader(flagConfig)
		rows := make([][]string, 0, len(values))
		for _, k := range config.Keys() {
			rows = append(rows, []string{k, values[k]})
		}
		ui.PrintTable([]string{"KEY", "VALUE"}, rows)
		if appConfigErr != nil {
			ui.PrintWarning(appConfigErr.Error())
		}
	})
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	// Only the file is edited; FLEET_* variables and flags stay out of it
	cfg, err := config.LoadFile(flagConfig)
	if err != nil {
		return err
	}
	if err := cfg.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := config.Save(flagConfig, cfg); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("%s = %s", args[0], cfg.Values()[args[0]]))
	return nil
}
