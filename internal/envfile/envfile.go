package envfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/harshul/fleet-cli/internal/api"
)

// Entry is one KEY=value line
type Entry struct {
	Key   string
	Value string
	Line  int
}

// Parse reads KEY=value lines the way the backend's env sync does: lines
// are trimmed, blanks and # comments are skipped, and the value is taken
// verbatim after the first '='.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
			Line:  lineNum,
		})
	}
	return entries, scanner.Err()
}

// ReadFile parses the env file at path
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return entries, nil
}

// WriteFile saves rendered env content, keeping any existing file as
// path.bak first.
func WriteFile(path, content string) (backup string, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		backup = path + ".bak"
		if err := os.Rename(path, backup); err != nil {
			return "", fmt.Errorf("failed to back up %s: %w", path, err)
		}
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return backup, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return backup, nil
}

// Categories in the order the backend checks them
const (
	CategoryDatabase = "database"
	CategorySecurity = "security"
	CategoryApp      = "app"
	CategoryVMOS     = "vmos"
	CategoryGeneral  = "general"
)

// InferCategory guesses a new key's category and sensitivity from its name.
// The first matching rule wins.
func InferCategory(key string) (category string, sensitive bool) {
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(key, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("DATABASE", "DB_"):
		return CategoryDatabase, true
	case has("SECRET", "PASSWORD", "TOKEN", "KEY"):
		return CategorySecurity, true
	case has("PKG", "DEBUG"):
		return CategoryApp, false
	case has("ACCESS", "VMOS"):
		return CategoryVMOS, true
	}
	return CategoryGeneral, false
}

// Mask hides the middle of long values. URLs and short values are shown
// as they are.
func Mask(value string) string {
	// Don't mask URLs - they're usually not secret
	for _, prefix := range []string{"http://", "https://", "ws://", "wss://", "postgresql://", "redis://"} {
		if strings.HasPrefix(value, prefix) {
			return value
		}
	}
	if len(value) <= 10 {
		return value
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Action is what syncing a key would do
type Action string

const (
	Create    Action = "create"
	Update    Action = "update"
	Unchanged Action = "unchanged"
	// Unknown means the server hides the value, so a change cannot be told
	Unknown Action = "unknown"
)

// Change is one key's outcome in a sync preview
type Change struct {
	Key       string
	Action    Action
	Category  string
	Sensitive bool
	Local     string
	Remote    string
	Line      int
}

// Diff previews a sync of entries into the server's settings. A key that
// appears twice is judged by its last value.
func Diff(entries []Entry, remote *api.SystemConfigList) []Change {
	last := make(map[string]Entry, len(entries))
	for _, e := range entries {
		last[e.Key] = e
	}

	changes := make([]Change, 0, len(last))
	for key, e := range last {
		c := Change{Key: key, Local: e.Value, Line: e.Line}
		cfg, ok := remote.Find(key)
		switch {
		case !ok:
			c.Action = Create
			c.Category, c.Sensitive = InferCategory(key)
		case cfg.IsSensitive && cfg.Value == api.HiddenValue:
			c.Action = Unknown
			c.Category, c.Sensitive = cfg.Category, true
			c.Remote = cfg.Value
		case cfg.Value == e.Value:
			c.Action = Unchanged
			c.Category, c.Sensitive = cfg.Category, cfg.IsSensitive
			c.Remote = cfg.Value
		default:
			c.Action = Update
			c.Category, c.Sensitive = cfg.Category, cfg.IsSensitive
			c.Remote = cfg.Value
		}
		changes = append(changes, c)
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Line < changes[j].Line
	})
	return changes
}

// Count tallies changes by action
func Count(changes []Change) map[Action]int {
	counts := make(map[Action]int)
	for _, c := range changes {
		counts[c.Action]++
	}
	return counts
}
