package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harshul/fleet-cli/internal/notify"
)

var (
	// Styles for prompts
	promptTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"})

	promptSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"})

	promptUnselectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})

	promptCursorStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"})

	promptCheckmarkStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"})

	promptHighlightStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#00AAFF"})

	promptDangerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"})

	promptCautionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#CC6600", Dark: "#FFAA00"})

	promptDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
)

// confirmStyle colors a question by its confirm kind
func confirmStyle(kind notify.ConfirmKind) lipgloss.Style {
	switch kind {
	case notify.Danger:
		return promptDangerStyle
	case notify.Caution:
		return promptCautionStyle
	case notify.Notice, notify.Secondary:
		return promptHighlightStyle
	default:
		return promptTitleStyle
	}
}

// YesNoPrompt asks a question answered with the arrow keys or y/n
type YesNoPrompt struct {
	question    string
	description string
	yesText     string
	noText      string
	kind        notify.ConfirmKind
	selected    bool // true = Yes, false = No
	confirmed   bool
	cancelled   bool
}

func NewYesNoPrompt(question, description string, defaultYes bool) YesNoPrompt {
	return YesNoPrompt{
		question:    question,
		description: description,
		yesText:     "Yes",
		noText:      "No",
		kind:        notify.Primary,
		selected:    defaultYes,
	}
}

// NewConfirmPrompt builds a yes/no prompt from a confirm description.
// Dangerous questions default to No.
func NewConfirmPrompt(c notify.Confirm) YesNoPrompt {
	p := NewYesNoPrompt(c.Title, c.Message, c.Kind != notify.Danger)
	if c.Kind != "" {
		p.kind = c.Kind
	}
	if c.ConfirmText != "" {
		p.yesText = c.ConfirmText
	}
	if c.CancelText != "" {
		p.noText = c.CancelText
	}
	return p
}

func (m YesNoPrompt) Init() tea.Cmd {
	return nil
}

func (m YesNoPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "left", "h":
			m.selected = true
		case "right", "l":
			m.selected = false
		case "y", "Y":
			m.selected = true
			m.confirmed = true
			return m, tea.Quit
		case "n", "N":
			m.selected = false
			m.confirmed = true
			return m, tea.Quit
		case "tab":
			m.selected = !m.selected
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m YesNoPrompt) View() string {
	var b strings.Builder

	b.WriteString(confirmStyle(m.kind).Render(m.kind.Icon()+" "+m.question) + "\n")

	if m.description != "" {
		b.WriteString(promptDimStyle.Render("  "+m.description) + "\n")
	}

	yesStyle := promptUnselectedStyle
	noStyle := promptUnselectedStyle
	yesCursor := "  "
	noCursor := "  "

	if m.selected {
		yesStyle = promptSelectedStyle
		yesCursor = promptCursorStyle.Render("❯ ")
	} else {
		noStyle = promptSelectedStyle
		noCursor = promptCursorStyle.Render("❯ ")
	}

	b.WriteString("\n")
	b.WriteString(yesCursor + yesStyle.Render(m.yesText) + "    ")
	b.WriteString(noCursor + noStyle.Render(m.noText) + "\n")

	b.WriteString("\n")
	b.WriteString(promptDimStyle.Render("  y/n or ← → and enter • esc to cancel"))

	return b.String()
}

// Result is the answer and whether one was given
func (m YesNoPrompt) Result() (bool, bool) {
	return m.selected, m.confirmed && !m.cancelled
}

func RunYesNoPrompt(question, description string, defaultYes bool) (bool, error) {
	return runYesNo(NewYesNoPrompt(question, description, defaultYes))
}

// RunConfirm asks a confirm question on the terminal. A cancelled prompt
// counts as No.
func RunConfirm(c notify.Confirm) (bool, error) {
	return runYesNo(NewConfirmPrompt(c))
}

func runYesNo(prompt YesNoPrompt) (bool, error) {
	model, err := tea.NewProgram(prompt).Run()
	if err != nil {
		return false, err
	}

	result, ok := model.(YesNoPrompt)
	if !ok {
		return false, fmt.Errorf("unexpected prompt model %T", model)
	}
	selected, confirmed := result.Result()
	if !confirmed {
		return false, nil
	}
	return selected, nil
}

// SelectOption is one choice of a select or multi-select prompt
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// SelectPrompt picks one option from a list
type SelectPrompt struct {
	title       string
	description string
	options     []SelectOption
	cursor      int
	confirmed   bool
	cancelled   bool
}

func NewSelectPrompt(title, description string, options []SelectOption) SelectPrompt {
	return SelectPrompt{
		title:       title,
		description: description,
		options:     options,
	}
}

func (m SelectPrompt) Init() tea.Cmd {
	return nil
}

func (m SelectPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.options)-1 {
				m.cursor++
			}
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m SelectPrompt) View() string {
	var b strings.Builder

	b.WriteString(promptTitleStyle.Render("? "+m.title) + "\n")

	if m.description != "" {
		b.WriteString(promptDimStyle.Render("  "+m.description) + "\n")
	}

	b.WriteString("\n")

	for i, opt := range m.options {
		cursor := "  "
		style := promptUnselectedStyle

		if i == m.cursor {
			cursor = promptCursorStyle.Render("❯ ")
			style = promptSelectedStyle
		}

		b.WriteString(cursor + style.Render(opt.Label))

		if opt.Description != "" && i == m.cursor {
			b.WriteString(promptDimStyle.Render(" - " + opt.Description))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(promptDimStyle.Render("  ↑ ↓ to navigate • enter to select • esc to cancel"))

	return b.String()
}

func (m SelectPrompt) Result() (SelectOption, bool) {
	if m.cursor < 0 || m.cursor >= len(m.options) {
		return SelectOption{}, false
	}
	return m.options[m.cursor], m.confirmed && !m.cancelled
}

// RunSelectPrompt runs the selection prompt. ok is false when cancelled.
func RunSelectPrompt(title, description string, options []SelectOption) (opt SelectOption, ok bool, err error) {
	model, err := tea.NewProgram(NewSelectPrompt(title, description, options)).Run()
	if err != nil {
		return SelectOption{}, false, err
	}
	result, isSelect := model.(SelectPrompt)
	if !isSelect {
		return SelectOption{}, false, fmt.Errorf("unexpected prompt model %T", model)
	}
	opt, ok = result.Result()
	return opt, ok, nil
}

// TextInputPrompt reads one line, optionally masked
type TextInputPrompt struct {
	title       string
	description string
	defaultVal  string
	input       textinput.Model
	confirmed   bool
	cancelled   bool
}

func NewTextInputPrompt(title, description, placeholder, defaultVal string) TextInputPrompt {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50

	return TextInputPrompt{
		title:       title,
		description: description,
		defaultVal:  defaultVal,
		input:       ti,
	}
}

// NewPasswordPrompt creates a text prompt that masks what is typed
func NewPasswordPrompt(title string) TextInputPrompt {
	p := NewTextInputPrompt(title, "", "", "")
	p.input.EchoMode = textinput.EchoPassword
	p.input.EchoCharacter = '•'
	return p
}

func (m TextInputPrompt) Init() tea.Cmd {
	return textinput.Blink
}

func (m TextInputPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m TextInputPrompt) View() string {
	var b strings.Builder

	b.WriteString(promptTitleStyle.Render("? "+m.title) + "\n")

	if m.description != "" {
		b.WriteString(promptDimStyle.Render("  "+m.description) + "\n")
	}

	b.WriteString("\n")
	b.WriteString("  " + m.input.View() + "\n")

	if m.defaultVal != "" && m.input.Value() == "" {
		b.WriteString(promptDimStyle.Render(fmt.Sprintf("  Press enter to use: %s", m.defaultVal)) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(promptDimStyle.Render("  enter to confirm • esc to cancel"))

	return b.String()
}

func (m TextInputPrompt) Result() (string, bool) {
	value := m.input.Value()
	if value == "" && m.defaultVal != "" {
		value = m.defaultVal
	}
	return value, m.confirmed && !m.cancelled
}

// RunTextInputPrompt runs the text input prompt. ok is false when
// cancelled.
func RunTextInputPrompt(title, description, placeholder, defaultVal string) (value string, ok bool, err error) {
	return runTextInput(NewTextInputPrompt(title, description, placeholder, defaultVal))
}

// RunPasswordPrompt reads a secret without echoing it
func RunPasswordPrompt(title string) (value string, ok bool, err error) {
	return runTextInput(NewPasswordPrompt(title))
}

func runTextInput(prompt TextInputPrompt) (string, bool, error) {
	model, err := tea.NewProgram(prompt).Run()
	if err != nil {
		return "", false, err
	}
	result, isText := model.(TextInputPrompt)
	if !isText {
		return "", false, fmt.Errorf("unexpected prompt model %T", model)
	}
	value, ok := result.Result()
	return value, ok, nil
}

// MultiSelectPrompt toggles any number of options
type MultiSelectPrompt struct {
	title       string
	description string
	options     []SelectOption
	cursor      int
	selected    map[int]bool
	confirmed   bool
	cancelled   bool
}

func NewMultiSelectPrompt(title, description string, options []SelectOption) MultiSelectPrompt {
	return MultiSelectPrompt{
		title:       title,
		description: description,
		options:     options,
		selected:    make(map[int]bool),
	}
}

func (m MultiSelectPrompt) Init() tea.Cmd {
	return nil
}

func (m MultiSelectPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.options)-1 {
				m.cursor++
			}
		case " ", "x":
			m.selected[m.cursor] = !m.selected[m.cursor]
		case "a":
			// Toggle all
			allSelected := true
			for i := range m.options {
				if !m.selected[i] {
					allSelected = false
					break
				}
			}
			for i := range m.options {
				m.selected[i] = !allSelected
			}
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m MultiSelectPrompt) View() string {
	var b strings.Builder

	b.WriteString(promptTitleStyle.Render("? "+m.title) + "\n")

	if m.description != "" {
		b.WriteString(promptDimStyle.Render("  "+m.description) + "\n")
	}

	b.WriteString("\n")

	for i, opt := range m.options {
		cursor := "  "
		style := promptUnselectedStyle
		checkbox := "○"

		if i == m.cursor {
			cursor = promptCursorStyle.Render("❯ ")
			style = promptHighlightStyle
		}

		if m.selected[i] {
			checkbox = promptCheckmarkStyle.Render("●")
		}

		b.WriteString(cursor + checkbox + " " + style.Render(opt.Label))

		if opt.Description != "" && i == m.cursor {
			b.WriteString(promptDimStyle.Render(" - " + opt.Description))
		}
		b.WriteString("\n")
	}

	count := 0
	for _, v := range m.selected {
		if v {
			count++
		}
	}

	b.WriteString("\n")
	b.WriteString(promptDimStyle.Render(fmt.Sprintf("  %d selected", count)) + "\n")

	b.WriteString("\n")
	b.WriteString(promptDimStyle.Render("  ↑ ↓ navigate • space to toggle • a to toggle all • enter to confirm"))

	return b.String()
}

func (m MultiSelectPrompt) Result() ([]SelectOption, bool) {
	var result []SelectOption
	for i, opt := range m.options {
		if m.selected[i] {
			result = append(result, opt)
		}
	}
	return result, m.confirmed && !m.cancelled
}

// RunMultiSelectPrompt returns the options toggled on. Cancelling returns
// none.
func RunMultiSelectPrompt(title, description string, options []SelectOption) ([]SelectOption, error) {
	model, err := tea.NewProgram(NewMultiSelectPrompt(title, description, options)).Run()
	if err != nil {
		return nil, err
	}

	result, ok := model.(MultiSelectPrompt)
	if !ok {
		return nil, fmt.Errorf("unexpected prompt model %T", model)
	}
	selected, confirmed := result.Result()
	if !confirmed {
		return nil, nil
	}
	return selected, nil
}
