// Package messages edits a machine's message templates. The templates are
// stored in the machine's message field, separated by a dashed line.
package messages

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Separator splits templates in the stored text and in batch imports
	Separator = "--------"
	// MaxLength is the longest template in runes
	MaxLength = 500
	// PreviewLength is how many runes a preview keeps
	PreviewLength = 5
)

var (
	ErrEmpty      = errors.New("message is empty")
	ErrTooLong    = fmt.Errorf("message exceeds %d characters", MaxLength)
	ErrDuplicate  = errors.New("message already exists")
	ErrUnchanged  = errors.New("message unchanged")
	ErrOutOfRange = errors.New("no message at that position")
)

// List is an ordered set of templates
type List struct {
	items []string
}

// Parse splits stored text into a list. Blank parts are dropped.
func Parse(stored string) *List {
	return &List{items: split(stored)}
}

func split(text string) []string {
	var out []string
	for _, part := range strings.Split(text, Separator) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String joins the list back into its stored form
func (l *List) String() string {
	return strings.Join(l.items, "\n"+Separator+"\n")
}

// Items returns a copy of the templates
func (l *List) Items() []string {
	return append([]string(nil), l.items...)
}

// Len returns the number of templates
func (l *List) Len() int {
	return len(l.items)
}

// Contains reports whether text is already a template
func (l *List) Contains(text string) bool {
	return l.indexOf(strings.TrimSpace(text)) >= 0
}

func (l *List) indexOf(text string) int {
	for i, m := range l.items {
		if m == text {
			return i
		}
	}
	return -1
}

func validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return "", ErrTooLong
	}
	return text, nil
}

// Add appends one template
func (l *List) Add(text string) error {
	text, err := validate(text)
	if err != nil {
		return err
	}
	if l.indexOf(text) >= 0 {
		return ErrDuplicate
	}
	l.items = append(l.items, text)
	return nil
}

// ImportResult tallies a batch import
type ImportResult struct {
	Imported int
	Skipped  int
	Invalid  int
}

func (r ImportResult) String() string {
	s := fmt.Sprintf("imported %d, skipped %d duplicates", r.Imported, r.Skipped)
	if r.Invalid > 0 {
		s += fmt.Sprintf(", rejected %d too long", r.Invalid)
	}
	return s
}

// Import appends every part of a separator-delimited batch. Parts already
// present, or repeated within the batch, are skipped.
func (l *List) Import(batch string) ImportResult {
	var res ImportResult
	for _, part := range split(batch) {
		switch err := l.Add(part); {
		case err == nil:
			res.Imported++
		case errors.Is(err, ErrDuplicate):
			res.Skipped++
		default:
			res.Invalid++
		}
	}
	return res
}

// Edit replaces the template at i. Checks run in order: empty, too long,
// duplicate of another template, unchanged. ErrUnchanged is informational.
func (l *List) Edit(i int, text string) error {
	if i < 0 || i >= len(l.items) {
		return ErrOutOfRange
	}
	text, err := validate(text)
	if err != nil {
		return err
	}
	if j := l.indexOf(text); j >= 0 && j != i {
		return ErrDuplicate
	}
	if l.items[i] == text {
		return ErrUnchanged
	}
	l.items[i] = text
	return nil
}

// MoveUp swaps the template at i with the one above it
func (l *List) MoveUp(i int) error {
	if i <= 0 || i >= len(l.items) {
		return ErrOutOfRange
	}
	l.items[i-1], l.items[i] = l.items[i], l.items[i-1]
	return nil
}

// MoveDown swaps the template at i with the one below it
func (l *List) MoveDown(i int) error {
	if i < 0 || i >= len(l.items)-1 {
		return ErrOutOfRange
	}
	l.items[i], l.items[i+1] = l.items[i+1], l.items[i]
	return nil
}

// Remove deletes the template at i
func (l *List) Remove(i int) error {
	if i < 0 || i >= len(l.items) {
		return ErrOutOfRange
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return nil
}

// Clear removes every template
func (l *List) Clear() {
	l.items = nil
}

// Preview shortens text to its first few runes followed by "..."
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	return string([]rune(text)[:PreviewLength]) + "..."
}

// Unescape turns the backslash sequences \n \r \t \' \" \\ into the
// characters they name. Other backslashes are kept.
func Unescape(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' || i == len(text)-1 {
			b.WriteByte(c)
			continue
		}
		switch next := text[i+1]; next {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\'', '"', '\\':
			b.WriteByte(next)
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}
	return b.String()
}
