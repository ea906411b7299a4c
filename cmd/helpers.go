package main

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// confirm asks before a destructive action unless --yes was given
func confirm(c notify.Confirm) (bool, error) {
	if flagYes {
		return true, nil
	}
	if c.ConfirmText == "" {
		c.ConfirmText = "Yes"
	}
	if c.CancelText == "" {
		c.CancelText = "No"
	}
	ok, err := ui.RunConfirm(c)
	if err != nil {
		return false, fmt.Errorf("failed to ask for confirmation (use --yes to skip): %w", err)
	}
	if !ok {
		ui.PrintInfo("Cancelled")
	}
	return ok, nil
}

// output prints v as JSON with --json, otherwise calls table
func output(v any, table func()) error {
	if flagJSON {
		return ui.PrintJSON(v)
	}
	table()
	return nil
}

// parseID parses a positive numeric id argument
func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive number", s)
	}
	return id, nil
}

// parseIDs parses every argument, accepting comma-separated lists too
func parseIDs(args []string) ([]int, error) {
	var ids []int
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one id is required")
	}
	return ids, nil
}

// forEach runs fn for every id and keeps going after failures. Each
// failure is printed in the error toast style; the tally is returned as an
// error when anything failed.
func forEach(action string, ids []int, fn func(id int) (string, error)) error {
	var sum fleet.Summary
	for _, id := range ids {
		msg, err := fn(id)
		if err != nil {
			sum.Failed++
			logger.Warn(action+"_failed", zap.Int("id", id), zap.Error(err))
			ui.PrintToast(notify.Error, fmt.Sprintf("#%d: %v", id, err))
			continue
		}
		sum.Success++
		if msg == "" {
			msg = action + " ok"
		}
		ui.PrintSuccess(fmt.Sprintf("#%d: %s", id, msg))
	}
	if len(ids) > 1 {
		ui.PrintInfo(sum.String())
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%s: %s", action, sum)
	}
	return nil
}

// machineID is the machine selected by --machine or the config
func machineID() int {
	return appConfig.MachineID
}

// optionalString returns a pointer to the flag value when it was set
func optionalString(changed bool, v string) *string {
	if !changed {
		return nil
	}
	return &v
}

func optionalInt(changed bool, v int) *int {
	if !changed {
		return nil
	}
	return &v
}

func optionalBool(changed bool, v bool) *bool {
	if !changed {
		return nil
	}
	return &v
}
