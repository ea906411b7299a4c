package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/messages"
	"github.com/harshul/fleet-cli/internal/notify"
	"github.com/harshul/fleet-cli/internal/ui"
)

// messagesCmd edits the selected machine's message templates
var messagesCmd = &cobra.Command{
	Use:     "messages",
	Aliases: []string{"msg"},
	Short:   "Edit the selected machine's message templates",
	Long: `Message templates are stored in the machine's message field, separated
by a line of eight dashes (--------). Positions are 1-based.`,
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates with a short preview",
	Args:  cobra.NoArgs,
	RunE:  runMessagesList,
}

var messagesShowCmd = &cobra.Command{
	Use:   "show <pos>",
	Short: "Print one template in full, with escapes expanded",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessagesShow,
}

var messagesAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Append a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editMessages(cmd.Context(), func(l *messages.List) (string, error) {
			if err := l.Add(args[0]); err != nil {
				return "", err
			}
			return fmt.Sprintf("Added template %d", l.Len()), nil
		})
	},
}

var messagesImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Append templates from a file (or stdin) split on --------",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMessagesImport,
}

var messagesEditCmd = &cobra.Command{
	Use:   "edit <pos> <text>",
	Short: "Replace a template",
	Args:  cobra.ExactArgs(2),
	RunE:  runMessagesEdit,
}

var messagesMoveCmd = &cobra.Command{
	Use:       "move <pos> up|down",
	Short:     "Move a template one place up or down",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"up", "down"},
	RunE:      runMessagesMove,
}

var messagesRemoveCmd = &cobra.Command{
	Use:   "remove <pos>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessagesRemove,
}

var messagesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every template",
	Args:  cobra.NoArgs,
	RunE:  runMessagesClear,
}

func init() {
	messagesShowCmd.Flags().Bool("raw", false, "Print only the template text, without the box")

	messagesCmd.AddCommand(
		messagesListCmd,
		messagesShowCmd,
		messagesAddCmd,
		messagesImportCmd,
		messagesEditCmd,
		messagesMoveCmd,
		messagesRemoveCmd,
		messagesClearCmd,
	)
}

// loadMessages fetches the selected machine's templates
func loadMessages(ctx context.Context) (*api.Machine, *messages.List, error) {
	m, err := client.GetMachine(ctx, machineID())
	if err != nil {
		return nil, nil, err
	}
	return m, messages.Parse(m.Message), nil
}

// editMessages applies fn to the templates and saves them when it
// succeeds. ErrUnchanged is reported as information.
func editMessages(ctx context.Context, fn func(l *messages.List) (string, error)) error {
	m, list, err := loadMessages(ctx)
	if err != nil {
		return err
	}
	done, err := fn(list)
	if errors.Is(err, messages.ErrUnchanged) {
		ui.PrintInfo("Template unchanged")
		return nil
	}
	if err != nil {
		return err
	}

	stored := list.String()
	if _, err := client.UpdateMachine(ctx, m.ID, api.MachineInput{Message: &stored}); err != nil {
		return fmt.Errorf("failed to save templates: %w", err)
	}
	logger.Info("messages_saved", zap.Int("machine_id", m.ID), zap.Int("count", list.Len()))
	if done != "" {
		ui.PrintSuccess(done)
	}
	return nil
}

// position turns a 1-based argument into an index
func position(arg string) (int, error) {
	pos, err := strconv.Atoi(arg)
	if err != nil || pos <= 0 {
		return 0, fmt.Errorf("invalid position %q: must be 1 or more", arg)
	}
	return pos - 1, nil
}

func runMessagesList(cmd *cobra.Command, args []string) error {
	m, list, err := loadMessages(cmd.Context())
	if err != nil {
		return err
	}
	items := list.Items()
	return output(items, func() {
		ui.PrintHeader(fmt.Sprintf("Machine #%d %s: %d templates", m.ID, m.Label(), len(items)))
		rows := make([][]string, 0, len(items))
		for i, text := range items {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				messages.Preview(text),
				strconv.Itoa(utf8.RuneCountInString(text)),
			})
		}
		ui.PrintTable([]string{"#", "PREVIEW", "LENGTH"}, rows)
	})
}

func runMessagesShow(cmd *cobra.Command, args []string) error {
	i, err := position(args[0])
	if err != nil {
		return err
	}
	_, list, err := loadMessages(cmd.Context())
	if err != nil {
		return err
	}
	items := list.Items()
	if i >= len(items) {
		return messages.ErrOutOfRange
	}
	raw, _ := cmd.Flags().GetBool("raw")
	text := messages.Unescape(items[i])
	return output(map[string]any{"position": i + 1, "text": text}, func() {
		if raw {
			fmt.Fprintln(ui.Stdout, text)
			return
		}
		ui.PrintBox(fmt.Sprintf("Template %d of %d", i+1, len(items)), text)
	})
}

func runMessagesImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read templates: %w", err)
	}

	var res messages.ImportResult
	err = editMessages(cmd.Context(), func(l *messages.List) (string, error) {
		res = l.Import(string(data))
		if res.Imported == 0 {
			return "", errNothingImported
		}
		return res.String(), nil
	})
	if errors.Is(err, errNothingImported) {
		ui.PrintInfo(res.String())
		return nil
	}
	return err
}

var errNothingImported = errors.New("nothing imported")

func runMessagesEdit(cmd *cobra.Command, args []string) error {
	i, err := position(args[0])
	if err != nil {
		return err
	}
	return editMessages(cmd.Context(), func(l *messages.List) (string, error) {
		if err := l.Edit(i, args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated template %d", i+1), nil
	})
}

func runMessagesMove(cmd *cobra.Command, args []string) error {
	i, err := position(args[0])
	if err != nil {
		return err
	}
	return editMessages(cmd.Context(), func(l *messages.List) (string, error) {
		switch args[1] {
		case "up":
			err = l.MoveUp(i)
		case "down":
			err = l.MoveDown(i)
		default:
			return "", fmt.Errorf("invalid direction %q: want up or down", args[1])
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Moved template %d %s", i+1, args[1]), nil
	})
}

func runMessagesRemove(cmd *cobra.Command, args []string) error {
	i, err := position(args[0])
	if err != nil {
		return err
	}
	ok, err := confirm(notify.Confirm{
		Title: fmt.Sprintf("Delete template %d?", i+1),
		Kind:  notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	return editMessages(cmd.Context(), func(l *messages.List) (string, error) {
		if err := l.Remove(i); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted template %d", i+1), nil
	})
}

func runMessagesClear(cmd *cobra.Command, args []string) error {
	ok, err := confirm(notify.Confirm{
		Title:   "Delete every template?",
		Message: "This cannot be undone.",
		Kind:    notify.Danger,
	})
	if err != nil || !ok {
		return err
	}
	return editMessages(cmd.Context(), func(l *messages.List) (string, error) {
		l.Clear()
		return "Cleared all templates", nil
	})
}
