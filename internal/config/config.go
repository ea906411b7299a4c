package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FLEET_SERVER
const EnvPrefix = "FLEET_"

// Config holds the client settings. Values come from the config file,
// then FLEET_* environment variables, then command-line flags.
type Config struct {
	Server         string        `yaml:"server"                 env:"SERVER"`
	Username       string        `yaml:"username,omitempty"     env:"USERNAME"`
	MachineID      int           `yaml:"machine_id"             env:"MACHINE_ID"`
	PollInterval   time.Duration `yaml:"poll_interval"          env:"POLL_INTERVAL"`
	RequestTimeout time.Duration `yaml:"request_timeout"        env:"REQUEST_TIMEOUT"`
	ExecuteGap     time.Duration `yaml:"execute_gap"            env:"EXECUTE_GAP"`
	ToastDuration  time.Duration `yaml:"toast_duration"         env:"TOAST_DURATION"`
	LogFile        string        `yaml:"log_file,omitempty"     env:"LOG_FILE"`
	LogLevel       string        `yaml:"log_level,omitempty"    env:"LOG_LEVEL"`
	SessionFile    string        `yaml:"session_file,omitempty" env:"SESSION_FILE"`
	NatsURL        string        `yaml:"nats_url,omitempty"     env:"NATS_URL"`
	AuditSubject   string        `yaml:"audit_subject"          env:"AUDIT_SUBJECT"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty" env:"METRICS_ADDR"`
	PushgatewayURL string        `yaml:"pushgateway_url,omitempty" env:"PUSHGATEWAY_URL"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Server:         "http://127.0.0.1:5000",
		MachineID:      1,
		PollInterval:   5 * time.Second,
		RequestTimeout: 15 * time.Second,
		ExecuteGap:     200 * time.Millisecond,
		ToastDuration:  5 * time.Second,
		SessionFile:    filepath.Join(Dir(), "session.yaml"),
		AuditSubject:   "fleet.audit",
	}
}

// Dir returns ~/.fleet, or .fleet when the home directory is unknown
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fleet"
	}
	return filepath.Join(home, ".fleet")
}

// DefaultPath is where the config file lives unless --config says otherwise
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. The result is not validated: callers apply
// their flag overrides first and then call Validate.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// LoadFile reads path over the defaults. Environment overrides are not
// applied.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// ParseEnv applies FLEET_* variables onto target. Unset variables leave the
// field as it is.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes the config file, creating its directory
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the client cannot run with
func (c Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server %q: want http(s)://host[:port]", c.Server)
	}
	if c.MachineID <= 0 {
		return fmt.Errorf("invalid machine_id %d: must be positive", c.MachineID)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("invalid poll_interval %s: must be at least 1s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request_timeout %s", c.RequestTimeout)
	}
	if c.ExecuteGap < 0 {
		return fmt.Errorf("invalid execute_gap %s", c.ExecuteGap)
	}
	if c.PushgatewayURL != "" {
		u, err := url.Parse(c.PushgatewayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid pushgateway_url %q: want http(s)://host[:port]", c.PushgatewayURL)
		}
	}
	return nil
}

func (c *Config) expandPaths() {
	c.LogFile = expandHome(c.LogFile)
	c.SessionFile = expandHome(c.SessionFile)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Keys lists the settable keys in file order
func Keys() []string {
	return []string{
		"server", "username", "machine_id", "poll_interval", "request_timeout",
		"execute_gap", "toast_duration", "log_file", "log_level", "session_file",
		"nats_url", "audit_subject", "metrics_addr", "pushgateway_url",
	}
}

// Values returns every key with its current value as text
func (c Config) Values() map[string]string {
	return map[string]string{
		"server":          c.Server,
		"username":        c.Username,
		"machine_id":      strconv.Itoa(c.MachineID),
		"poll_interval":   c.PollInterval.String(),
		"request_timeout": c.RequestTimeout.String(),
		"execute_gap":     c.ExecuteGap.String(),
		"toast_duration":  c.ToastDuration.String(),
		"log_file":        c.LogFile,
		"log_level":       c.LogLevel,
		"session_file":    c.SessionFile,
		"nats_url":        c.NatsURL,
		"audit_subject":   c.AuditSubject,
		"metrics_addr":    c.MetricsAddr,
		"pushgateway_url": c.PushgatewayURL,
	}
}

// Set assigns one key from its text form
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "server":
		c.Server = strings.TrimRight(value, "/")
	case "username":
		c.Username = value
	case "machine_id":
		c.MachineID, err = strconv.Atoi(value)
	case "poll_interval":
		c.PollInterval, err = time.ParseDuration(value)
	case "request_timeout":
		c.RequestTimeout, err = time.ParseDuration(value)
	case "execute_gap":
		c.ExecuteGap, err = time.ParseDuration(value)
	case "toast_duration":
		c.ToastDuration, err = time.ParseDuration(value)
	case "log_file":
		c.LogFile = value
	case "log_level":
		c.LogLevel = value
	case "session_file":
		c.SessionFile = value
	case "nats_url":
		c.NatsURL = value
	case "audit_subject":
		c.AuditSubject = value
	case "metrics_addr":
		c.MetricsAddr = value
	case "pushgateway_url":
		c.PushgatewayURL = strings.TrimRight(value, "/")
	default:
		known := Keys()
		sort.Strings(known)
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(known, ", "))
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return c.Validate()
}
