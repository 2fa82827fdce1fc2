// Package config provides YAML-based configuration loading for keith.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level keith configuration, loaded from keith.yaml and
// overlaid with secrets from the environment.
type Config struct {
	Platform   string         `yaml:"platform"`    // "discord" or "slack"
	OperatorID string         `yaml:"operator_id"` // chat user allowed to trigger manual mode
	Discord    DiscordConfig  `yaml:"discord"`
	Slack      SlackConfig    `yaml:"slack"`
	OpenAI     OpenAIConfig   `yaml:"openai"`
	Triggers   TriggerConfig  `yaml:"triggers"`
	Run        RunConfig      `yaml:"run"`
	Override   OverrideConfig `yaml:"override"`
	Delivery   DeliveryConfig `yaml:"delivery"`
	Journal    JournalConfig  `yaml:"journal"`
	Status     StatusConfig   `yaml:"status"`
	Log        LogConfig      `yaml:"log"`
}

// DiscordConfig holds Discord Gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"` // xoxb-...
	AppToken string `yaml:"app_token"` // xapp-...
}

// OpenAIConfig selects the assistant backing every conversation.
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	AssistantID string `yaml:"assistant_id"` // asst_...
	BaseURL     string `yaml:"base_url"`
}

// TriggerConfig holds the words that route a message.
type TriggerConfig struct {
	AI       string `yaml:"ai"`
	Override string `yaml:"override"`
}

// RunConfig controls how a single assistant run is awaited.
type RunConfig struct {
	TimeoutSec       int `yaml:"timeout_sec"`
	PollIntervalMs   int `yaml:"poll_interval_ms"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms"`
	MessageLimit     int `yaml:"message_limit"` // 0 = platform default
	ErrorNoticeLimit int `yaml:"error_notice_limit"`
}

// OverrideConfig controls the local operator prompt.
type OverrideConfig struct {
	Enabled  *bool  `yaml:"enabled"` // nil = enabled when a terminal is attached
	Title    string `yaml:"title"`
	Question string `yaml:"question"`
}

// DeliveryConfig controls the operator delivery drain.
type DeliveryConfig struct {
	IntervalMs  int `yaml:"interval_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// JournalConfig controls the optional turn journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Driver        string `yaml:"driver"` // "sqlite" or "mysql"
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
	PruneCron     string `yaml:"prune_cron"`
}

// StatusConfig controls the optional HTTP status endpoint.
type StatusConfig struct {
	Port int `yaml:"port"` // 0 disables the endpoint
}

// LogConfig controls log output.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
	Quiet      bool   `yaml:"quiet"` // file only, keep the terminal free for the operator prompt
}

// Environment variables that override secrets and identities from the file.
const (
	EnvDiscordToken  = "DISCORD_BOT_TOKEN"
	EnvSlackBotToken = "SLACK_BOT_TOKEN"
	EnvSlackAppToken = "SLACK_APP_TOKEN"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAssistantID   = "ASSISTANT_ID"
	EnvOperatorID    = "KEITH_OPERATOR_ID"
)

// Load reads a YAML config file from path and returns a validated Config.
// An empty path skips the file and relies on defaults plus environment.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// variables take precedence over values in data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OverrideEnabled reports whether manual mode may be offered. When unset in
// the file the caller decides based on terminal availability.
func (c *Config) OverrideEnabled() bool {
	return c.Override.Enabled == nil || *c.Override.Enabled
}

func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	overlay(&c.Discord.BotToken, EnvDiscordToken)
	overlay(&c.Slack.BotToken, EnvSlackBotToken)
	overlay(&c.Slack.AppToken, EnvSlackAppToken)
	overlay(&c.OpenAI.APIKey, EnvOpenAIKey)
	overlay(&c.OpenAI.AssistantID, EnvAssistantID)
	overlay(&c.OperatorID, EnvOperatorID)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if c.Triggers.AI == "" {
		c.Triggers.AI = "keith"
	}
	if c.Triggers.Override == "" {
		c.Triggers.Override = "HalcM"
	}
	if c.Run.TimeoutSec == 0 {
		c.Run.TimeoutSec = 300
	}
	if c.Run.PollIntervalMs == 0 {
		c.Run.PollIntervalMs = 1500
	}
	if c.Run.RetryBackoffMs == 0 {
		c.Run.RetryBackoffMs = 3000
	}
	if c.Run.ErrorNoticeLimit == 0 {
		c.Run.ErrorNoticeLimit = 1950
	}
	if c.Override.Title == "" {
		c.Override.Title = "Manual Bot Input"
	}
	if c.Override.Question == "" {
		c.Override.Question = "Enter message (or 'stop' to exit):"
	}
	if c.Delivery.IntervalMs == 0 {
		c.Delivery.IntervalMs = 200
	}
	if c.Delivery.MaxAttempts == 0 {
		c.Delivery.MaxAttempts = 3
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite"
	}
	if c.Journal.DSN == "" && c.Journal.Driver == "sqlite" {
		c.Journal.DSN = "keith.db"
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = 30
	}
	if c.Journal.PruneCron == "" {
		c.Journal.PruneCron = "0 3 * * *"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, fmt.Sprintf("discord.bot_token is required (or set %s)", EnvDiscordToken))
		}
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, fmt.Sprintf("slack.bot_token is required (or set %s)", EnvSlackBotToken))
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, fmt.Sprintf("slack.app_token is required (or set %s)", EnvSlackAppToken))
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (discord, slack)", c.Platform))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Sprintf("openai.api_key is required (or set %s)", EnvOpenAIKey))
	}
	if c.OpenAI.AssistantID == "" {
		errs = append(errs, fmt.Sprintf("openai.assistant_id is required (or set %s); create one at platform.openai.com/assistants", EnvAssistantID))
	}
	if c.OperatorID == "" || c.OperatorID == "0" {
		errs = append(errs, fmt.Sprintf("operator_id is required (or set %s)", EnvOperatorID))
	}
	if strings.ContainsAny(c.Triggers.AI, " \t\n") {
		errs = append(errs, "triggers.ai must be a single word")
	}
	if strings.EqualFold(c.Triggers.AI, c.Triggers.Override) {
		errs = append(errs, "triggers.ai and triggers.override must differ")
	}
	if c.Run.TimeoutSec < 0 {
		errs = append(errs, "run.timeout_sec must be positive")
	}
	if c.Run.PollIntervalMs < 0 || c.Run.RetryBackoffMs < 0 {
		errs = append(errs, "run intervals must be positive")
	}
	if c.Run.MessageLimit < 0 {
		errs = append(errs, "run.message_limit must not be negative")
	}
	if c.Delivery.IntervalMs < 0 || c.Delivery.MaxAttempts < 0 {
		errs = append(errs, "delivery settings must be positive")
	}
	if c.Journal.Enabled {
		switch c.Journal.Driver {
		case "sqlite", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("journal.driver %q is not supported (sqlite, mysql)", c.Journal.Driver))
		}
		if c.Journal.DSN == "" {
			errs = append(errs, "journal.dsn is required when the journal is enabled")
		}
		if _, err := cron.ParseStandard(c.Journal.PruneCron); err != nil {
			errs = append(errs, fmt.Sprintf("journal.prune_cron %q is invalid: %v", c.Journal.PruneCron, err))
		}
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, "status.port must be between 0 and 65535")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
