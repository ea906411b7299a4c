package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/harshul/fleet-cli/internal/api"
	"github.com/harshul/fleet-cli/internal/fleet"
	"github.com/harshul/fleet-cli/internal/notify"
)

// Stdout is where the print helpers write
var Stdout io.Writer = os.Stdout

// ============================================================================
// Styled Output Helpers
// ============================================================================

var (
	successColor = lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"}
	warningColor = lipgloss.AdaptiveColor{Light: "#CC6600", Dark: "#FFAA00"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF0000"}
	infoColor    = lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#00AAFF"}
	accentColor  = lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"}
	subtleColor  = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
)

// KindColor is the toast color for a kind
func KindColor(kind notify.Kind) lipgloss.AdaptiveColor {
	switch kind {
	case notify.Success:
		return successColor
	case notify.Error:
		return errorColor
	case notify.Warning:
		return warningColor
	default:
		return infoColor
	}
}

// PrintHeader prints a styled header
func PrintHeader(text string) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(accentColor).
		MarginBottom(1)
	fmt.Fprintln(Stdout, style.Render("  "+text))
}

// PrintToast prints a line in the toast style of kind, with its English
// label
func PrintToast(kind notify.Kind, text string) {
	style := lipgloss.NewStyle().Foreground(KindColor(kind))
	fmt.Fprintln(Stdout, style.Render(kind.Icon()+" "+kind.Label()+":")+" "+text)
}

// PrintSuccess prints a success message with checkmark
func PrintSuccess(text string) {
	style := lipgloss.NewStyle().Foreground(successColor)
	fmt.Fprintln(Stdout, style.Render("✔")+" "+text)
}

// PrintWarning prints a warning message
func PrintWarning(text string) {
	style := lipgloss.NewStyle().Foreground(warningColor)
	fmt.Fprintln(Stdout, style.Render("⚠")+" "+text)
}

// PrintError prints an error message
func PrintError(text string) {
	style := lipgloss.NewStyle().Foreground(errorColor)
	fmt.Fprintln(Stdout, style.Render("✖")+" "+text)
}

// PrintInfo prints an info message
func PrintInfo(text string) {
	style := lipgloss.NewStyle().Foreground(infoColor)
	fmt.Fprintln(Stdout, style.Render("ℹ")+" "+text)
}

// PrintHighlight prints highlighted text
func PrintHighlight(label, value string) {
	labelStyle := lipgloss.NewStyle().Foreground(subtleColor)
	valueStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"})
	fmt.Fprintln(Stdout, "  "+labelStyle.Render(label+":")+" "+valueStyle.Render(value))
}

// PrintDivider prints a styled divider
func PrintDivider() {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"})
	fmt.Fprintln(Stdout, style.Render("  "+strings.Repeat("─", 50)))
}

// PrintBox prints text in a styled box
func PrintBox(title, content string) {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1)

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(accentColor)

	if title != "" {
		fmt.Fprintln(Stdout, titleStyle.Render("  "+title))
	}
	fmt.Fprintln(Stdout, boxStyle.Render(content))
}

// PrintJSON writes v as indented JSON
func PrintJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(Stdout, string(data))
	return err
}

// ============================================================================
// Tables
// ============================================================================

// RenderTable lays rows out under headers with a bold header row
func RenderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(accentColor).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(subtleColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

// PrintTable prints a table, or a dim note when there are no rows
func PrintTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(Stdout, lipgloss.NewStyle().Foreground(subtleColor).Render("  (none)"))
		return
	}
	fmt.Fprintln(Stdout, RenderTable(headers, rows))
}

// ============================================================================
// Formatting
// ============================================================================

// FormatTime renders a backend time relative to now, or "-" when unset
func FormatTime(t api.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t.Time)
}

// FormatSeconds renders a running time in seconds as 1h02m03s
func FormatSeconds(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	return (time.Duration(seconds) * time.Second).String()
}

// FormatBool renders a flag as a check or a dash
func FormatBool(b bool) string {
	if b {
		return "✔"
	}
	return "-"
}

// Truncate shortens s to at most n runes, adding an ellipsis
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// StateStyle is the color of a button state
func StateStyle(s fleet.ButtonState) lipgloss.Style {
	switch s {
	case fleet.StateCompleted:
		return lipgloss.NewStyle().Foreground(successColor)
	case fleet.StateExecuting:
		return lipgloss.NewStyle().Foreground(infoColor).Bold(true)
	case fleet.StateStarted:
		return lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF9900", Dark: "#FFCC00"})
	default:
		return lipgloss.NewStyle().Foreground(subtleColor)
	}
}

// TargetRows turns tracker rows into table cells
func TargetRows(rows []fleet.Row) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		t := r.Target
		out = append(out, []string{
			fmt.Sprint(t.ID),
			Truncate(t.BaseName(), 28),
			t.Label,
			fmt.Sprintf("%d/%d", t.CurrentCount, t.MaxNum),
			FormatBool(t.IsActive),
			FormatBool(t.IsRunning),
			FormatTime(t.LastTime),
			StateStyle(r.State).Render(r.State.Label(t)),
		})
	}
	return out
}

// TargetHeaders names the TargetRows columns
var TargetHeaders = []string{"ID", "NAME", "LABEL", "COUNT", "ACTIVE", "RUNNING", "LAST RUN", "STATE"}
