// Package config provides YAML-based configuration loading for waybill.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level waybill configuration, loaded from waybill.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Channel  ChannelConfig  `yaml:"channel"`
	Session  SessionConfig  `yaml:"session"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Media    MediaConfig    `yaml:"media"`
	Reminder ReminderConfig `yaml:"reminder"`
	Report   ReportConfig   `yaml:"report"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"` // "development" or "production"
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn"`
}

// ChannelConfig points at the chat-automation bridge.
type ChannelConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	Session           string `yaml:"session"`
	PollIntervalMs    int    `yaml:"poll_interval_ms"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// SessionConfig tunes the connection lifecycle.
type SessionConfig struct {
	MaxRetries         int `yaml:"max_retries"`
	RetryDelaySec      int `yaml:"retry_delay_sec"`
	InitTimeoutSec     int `yaml:"init_timeout_sec"`
	CodePollAttempts   int `yaml:"code_poll_attempts"`
	CodePollIntervalMs int `yaml:"code_poll_interval_ms"`
}

// DispatchConfig tunes batch sending.
type DispatchConfig struct {
	PacingMinSec      int     `yaml:"pacing_min_sec"`
	PacingMaxSec      int     `yaml:"pacing_max_sec"`
	MediaDelayMs      int     `yaml:"media_delay_ms"`
	CheckRegistration *bool   `yaml:"check_registration"`
	FilterOptOut      *bool   `yaml:"filter_opt_out"`
	TeardownDelaySec  int     `yaml:"teardown_delay_sec"`
	MediaRatePerSec   float64 `yaml:"media_rate_per_sec"`
}

// MediaConfig controls uploaded media handling.
type MediaConfig struct {
	Dir          string   `yaml:"dir"`
	MaxSizeMB    int      `yaml:"max_size_mb"`
	MaxFiles     int      `yaml:"max_files"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// ReminderConfig schedules payment-reminder batches.
type ReminderConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron expression; empty disables
	Source   string `yaml:"source"`   // xlsx or json payments file
	Currency string `yaml:"currency"`
}

// ReportConfig configures operator summary reports.
type ReportConfig struct {
	Slack   ReportTarget `yaml:"slack"`
	Discord ReportTarget `yaml:"discord"`
}

// ReportTarget is a bot token plus the channel to post into.
type ReportTarget struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Enabled reports whether both token and channel are set.
func (r ReportTarget) Enabled() bool {
	return r.Token != "" && r.Channel != ""
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are applied before defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return &cfg
}

// applyEnv overlays secrets and deployment knobs from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("WAYBILL_CHANNEL_API_KEY"); ok && v != "" {
		c.Channel.APIKey = v
	}
	if v, ok := lookup("WAYBILL_SLACK_TOKEN"); ok && v != "" {
		c.Report.Slack.Token = v
	}
	if v, ok := lookup("WAYBILL_DISCORD_TOKEN"); ok && v != "" {
		c.Report.Discord.Token = v
	}
	if v, ok := lookup("WAYBILL_STORE_DSN"); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "waybill.db"
	}
	if c.Channel.BaseURL == "" {
		c.Channel.BaseURL = "http://127.0.0.1:3001"
	}
	if c.Channel.Session == "" {
		c.Channel.Session = "default"
	}
	if c.Channel.PollIntervalMs == 0 {
		c.Channel.PollIntervalMs = 1000
	}
	if c.Channel.RequestTimeoutSec == 0 {
		c.Channel.RequestTimeoutSec = 30
	}
	if c.Session.MaxRetries == 0 {
		c.Session.MaxRetries = 3
	}
	if c.Session.RetryDelaySec == 0 {
		c.Session.RetryDelaySec = 5
	}
	if c.Session.InitTimeoutSec == 0 {
		c.Session.InitTimeoutSec = 240
	}
	if c.Session.CodePollAttempts == 0 {
		c.Session.CodePollAttempts = 30
	}
	if c.Session.CodePollIntervalMs == 0 {
		c.Session.CodePollIntervalMs = 1000
	}
	if c.Dispatch.PacingMinSec == 0 && c.Dispatch.PacingMaxSec == 0 {
		c.Dispatch.PacingMinSec = 12
		c.Dispatch.PacingMaxSec = 30
	}
	if c.Dispatch.MediaDelayMs == 0 {
		c.Dispatch.MediaDelayMs = 1000
	}
	if c.Dispatch.CheckRegistration == nil {
		c.Dispatch.CheckRegistration = boolPtr(true)
	}
	if c.Dispatch.FilterOptOut == nil {
		c.Dispatch.FilterOptOut = boolPtr(true)
	}
	if c.Dispatch.TeardownDelaySec == 0 {
		c.Dispatch.TeardownDelaySec = 10
	}
	if c.Dispatch.MediaRatePerSec == 0 {
		c.Dispatch.MediaRatePerSec = 1
	}
	if c.Media.Dir == "" {
		c.Media.Dir = "uploads"
	}
	if c.Media.MaxSizeMB == 0 {
		c.Media.MaxSizeMB = 5
	}
	if c.Media.MaxFiles == 0 {
		c.Media.MaxFiles = 5
	}
	if len(c.Media.AllowedTypes) == 0 {
		c.Media.AllowedTypes = []string{"jpeg", "jpg", "png", "gif"}
	}
	if c.Reminder.Currency == "" {
		c.Reminder.Currency = "NPR"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or mysql", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Session.MaxRetries < 0 {
		errs = append(errs, "session.max_retries must not be negative")
	}
	if c.Dispatch.PacingMinSec < 0 || c.Dispatch.PacingMaxSec < c.Dispatch.PacingMinSec {
		errs = append(errs, fmt.Sprintf("dispatch pacing bounds [%d, %d] are invalid",
			c.Dispatch.PacingMinSec, c.Dispatch.PacingMaxSec))
	}
	if c.Reminder.Schedule != "" && c.Reminder.Source == "" {
		errs = append(errs, "reminder.source is required when reminder.schedule is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RetryDelay returns the delay before an automatic reconnect attempt.
func (s SessionConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySec) * time.Second
}

// InitTimeout bounds a single transport initialization.
func (s SessionConfig) InitTimeout() time.Duration {
	return time.Duration(s.InitTimeoutSec) * time.Second
}

// CodePollInterval is the sleep between pending-code checks.
func (s SessionConfig) CodePollInterval() time.Duration {
	return time.Duration(s.CodePollIntervalMs) * time.Millisecond
}

// PacingBounds returns the randomized per-recipient delay range.
func (d DispatchConfig) PacingBounds() (time.Duration, time.Duration) {
	return time.Duration(d.PacingMinSec) * time.Second, time.Duration(d.PacingMaxSec) * time.Second
}

// MediaDelay is the pause between successive media sends to one recipient.
func (d DispatchConfig) MediaDelay() time.Duration {
	return time.Duration(d.MediaDelayMs) * time.Millisecond
}

// TeardownDelay is the quiescence window after a batch.
func (d DispatchConfig) TeardownDelay() time.Duration {
	return time.Duration(d.TeardownDelaySec) * time.Second
}

// MaxBytes is the per-file upload ceiling.
func (m MediaConfig) MaxBytes() int64 {
	return int64(m.MaxSizeMB) << 20
}

func boolPtr(b bool) *bool { return &b }
