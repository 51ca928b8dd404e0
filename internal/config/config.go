// Package config loads monmon configuration files: the two rule lists plus
// optional monitor tuning, alert webhooks, and LLM judge settings.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/monmon/internal/judge"
	"github.com/ppiankov/monmon/internal/notify"
	"github.com/ppiankov/monmon/internal/rules"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "monmon.yaml"

// MonitorSettings tunes the lifecycle controller. Durations are strings
// ("100ms", "5m") so YAML and TOML files read the same way.
type MonitorSettings struct {
	PollInterval      string `yaml:"poll_interval" toml:"poll_interval"`
	PermissionTimeout string `yaml:"permission_timeout" toml:"permission_timeout"`
	StopGrace         string `yaml:"stop_grace" toml:"stop_grace"`
	Window            int    `yaml:"window" toml:"window"`

	// Content selects how HTML entries are rendered before matching:
	// raw (default), text, or markdown.
	Content string `yaml:"content" toml:"content"`
}

// Durations holds parsed MonitorSettings. Zero means "use the default".
type Durations struct {
	PollInterval      time.Duration
	PermissionTimeout time.Duration
	StopGrace         time.Duration
}

// Parse converts the string durations. Empty strings parse to zero.
func (m MonitorSettings) Parse() (Durations, error) {
	var d Durations
	var err error
	if d.PollInterval, err = parseDuration("poll_interval", m.PollInterval); err != nil {
		return Durations{}, err
	}
	if d.PermissionTimeout, err = parseDuration("permission_timeout", m.PermissionTimeout); err != nil {
		return Durations{}, err
	}
	if d.StopGrace, err = parseDuration("stop_grace", m.StopGrace); err != nil {
		return Durations{}, err
	}
	return d, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid monitor.%s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid monitor.%s %q: must not be negative", field, s)
	}
	return d, nil
}

// Config is the full contents of a monmon configuration file.
type Config struct {
	rules.RuleSet `yaml:",inline"`

	Monitor MonitorSettings        `yaml:"monitor" toml:"monitor"`
	Alerts  []notify.WebhookConfig `yaml:"alerts" toml:"alerts"`
	Judge   *judge.Config          `yaml:"judge" toml:"judge"`
}

// fileConfig mirrors Config for TOML, which has no inline-struct support.
type fileConfig struct {
	TerminateIf     []string               `toml:"terminate_if"`
	AskPermissionIf []string               `toml:"ask_permission_if"`
	Monitor         MonitorSettings        `toml:"monitor"`
	Alerts          []notify.WebhookConfig `toml:"alerts"`
	Judge           *judge.Config          `toml:"judge"`
}

// Default returns an empty configuration: no rules, default tuning.
func Default() *Config {
	return &Config{}
}

// Load reads a configuration file and returns it with the SHA-256 of its raw
// bytes. An empty path means DefaultPath. A missing file yields Default()
// and the hash of empty input. Files ending in .toml are parsed as TOML,
// everything else as YAML.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, "", err
	}
	return cfg, hashBytes(data), nil
}

// LoadOrEmpty is Load for callers that must keep monitoring available: a
// file that cannot be read or parsed degrades to an empty configuration and
// the error is returned alongside for logging.
func LoadOrEmpty(path string) (*Config, string, error) {
	cfg, hash, err := Load(path)
	if err != nil {
		return Default(), hashBytes(nil), err
	}
	return cfg, hash, nil
}

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes configuration bytes in the given format.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()
	switch format {
	case FormatTOML:
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.TerminateIf = fc.TerminateIf
		cfg.AskPermissionIf = fc.AskPermissionIf
		cfg.Monitor = fc.Monitor
		cfg.Alerts = fc.Alerts
		cfg.Judge = fc.Judge
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if _, err := cfg.Monitor.Parse(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultYAML returns a commented starter file for `monmon init`.
func DefaultYAML() string {
	return `# monmon configuration
# Generated by: monmon init
#
# Rules are evaluated in order; the first match wins.
#
# terminate_if: end the session with an error when matched.
#   - any text: case-insensitive substring of one of the last 10 entries
#   - "agent seems stuck in a loop": the last three assistant actions repeat
#     the three before them verbatim
#   - "the number of actions is > N": more than N assistant entries logged
terminate_if:
  - "facebook.com"
  - "agent seems stuck in a loop"
  - "the number of actions is > 50"

# ask_permission_if: pause the session until an operator grants or denies.
# Only the most recent entry is checked.
ask_permission_if:
  - "send an email"
  - "run some bash commands"
  - "rm -rf"
  - "CAPTCHA"

# Lifecycle tuning (optional).
monitor:
  poll_interval: 100ms
  # 0s waits for a decision indefinitely.
  permission_timeout: 0s
  stop_grace: 1s
  window: 10
  # raw | text | markdown: how HTML entries are rendered before matching.
  content: raw

# Webhooks notified when permission is required or a session terminates.
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [permission_required, terminated]

# LLM judge consulted after the literal rules (optional).
# judge:
#   provider: openai
#   model: gpt-4o-mini
#   api_key_env: OPENAI_API_KEY
#   # auto redacts credentials and personal data unless base_url is local.
#   redact: auto
#   terminate_if:
#     - "the agent is trying to make a purchase"
`
}
