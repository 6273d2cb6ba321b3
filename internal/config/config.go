// Package config provides YAML-based configuration loading for Concierge.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Concierge configuration, loaded from concierge.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Typing     TypingConfig     `yaml:"typing"`
	Escalation EscalationConfig `yaml:"escalation"`
	Notify     NotifyConfig     `yaml:"notify"`
	Websites   []WebsiteConfig  `yaml:"websites"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects and configures the session store backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// GeneratorConfig configures the external streaming text-generation backend.
type GeneratorConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	IdleTimeoutSec int     `yaml:"idle_timeout_sec"`
	SystemPrompt   string  `yaml:"system_prompt"`
}

// KnowledgeConfig holds defaults for the per-tenant knowledge index.
type KnowledgeConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	// DefaultWebsite is the tenant whose knowledge answers the generic
	// (unauthenticated) answer endpoint. Empty disables knowledge there.
	DefaultWebsite string `yaml:"default_website"`
}

// TypingConfig shapes synthesized chunk streams for knowledge answers.
type TypingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkDelayMS int `yaml:"chunk_delay_ms"`
}

// EscalationConfig configures human-support requests.
type EscalationConfig struct {
	InternalSecret string         `yaml:"internal_secret"`
	TriggerPhrases []string       `yaml:"trigger_phrases"`
	Reminder       ReminderConfig `yaml:"reminder"`
}

// ReminderConfig controls the stale escalation reminder job.
type ReminderConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	AfterMin int    `yaml:"after_min"`
}

// NotifyConfig selects an out-of-band operator notification platform.
type NotifyConfig struct {
	Platform string        `yaml:"platform"` // "", "slack" or "discord"
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// WebsiteConfig seeds a tenant and its knowledge settings.
type WebsiteConfig struct {
	ID           string               `yaml:"id"`
	Name         string               `yaml:"name"`
	APIKey       string               `yaml:"api_key"`
	SystemPrompt string               `yaml:"system_prompt"`
	AutoReply    *bool                `yaml:"auto_reply"`
	Knowledge    WebsiteKnowledgeSeed `yaml:"knowledge"`
}

// WebsiteKnowledgeSeed is the per-tenant knowledge switch and threshold.
type WebsiteKnowledgeSeed struct {
	Enabled   *bool    `yaml:"enabled"`
	Threshold *float64 `yaml:"threshold"`
}

// DefaultTriggerPhrases are generic escalation phrases that carry no
// visitor content of their own.
var DefaultTriggerPhrases = []string{
	"talk to a human",
	"human support",
	"customer service",
	"speak to an agent",
}

// Load reads a YAML config file from path and returns a validated Config.
// Secrets present in the environment override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
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

// applyEnv overlays secrets from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("CONCIERGE_GENERATOR_API_KEY", &c.Generator.APIKey)
	set("CONCIERGE_GENERATOR_MODEL", &c.Generator.Model)
	set("CONCIERGE_INTERNAL_SECRET", &c.Escalation.InternalSecret)
	set("CONCIERGE_SLACK_BOT_TOKEN", &c.Notify.Slack.BotToken)
	set("CONCIERGE_DISCORD_BOT_TOKEN", &c.Notify.Discord.BotToken)
	set("CONCIERGE_DATABASE_PASSWORD", &c.Database.Password)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "concierge.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "concierge"
		}
	}
	if c.Generator.BaseURL == "" {
		c.Generator.BaseURL = "https://api.openai.com/v1"
	}
	c.Generator.BaseURL = strings.TrimRight(c.Generator.BaseURL, "/")
	if c.Generator.Model == "" {
		c.Generator.Model = "gpt-4o-mini"
	}
	if c.Generator.Temperature == 0 {
		c.Generator.Temperature = 0.7
	}
	if c.Generator.MaxTokens == 0 {
		c.Generator.MaxTokens = 512
	}
	if c.Generator.IdleTimeoutSec == 0 {
		c.Generator.IdleTimeoutSec = 30
	}
	if c.Generator.SystemPrompt == "" {
		c.Generator.SystemPrompt = "You are a friendly support assistant for this website. Answer briefly and accurately."
	}
	if c.Knowledge.DefaultThreshold == 0 {
		c.Knowledge.DefaultThreshold = 0.7
	}
	if c.Typing.ChunkSize == 0 {
		c.Typing.ChunkSize = 4
	}
	if c.Typing.ChunkDelayMS == 0 {
		c.Typing.ChunkDelayMS = 30
	}
	if len(c.Escalation.TriggerPhrases) == 0 {
		c.Escalation.TriggerPhrases = append([]string(nil), DefaultTriggerPhrases...)
	}
	if c.Escalation.Reminder.Cron == "" {
		c.Escalation.Reminder.Cron = "*/5 * * * *"
	}
	if c.Escalation.Reminder.AfterMin == 0 {
		c.Escalation.Reminder.AfterMin = 10
	}
	for i := range c.Websites {
		if c.Websites[i].Name == "" {
			c.Websites[i].Name = c.Websites[i].ID
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Knowledge.DefaultThreshold < 0 || c.Knowledge.DefaultThreshold > 1 {
		errs = append(errs, "knowledge.default_threshold must be within [0,1]")
	}
	if c.Typing.ChunkSize < 0 {
		errs = append(errs, "typing.chunk_size must be positive")
	}
	if c.Typing.ChunkDelayMS < 0 {
		errs = append(errs, "typing.chunk_delay_ms must not be negative")
	}
	switch c.Notify.Platform {
	case "":
	case "slack":
		if c.Notify.Slack.BotToken == "" {
			errs = append(errs, "notify.slack.bot_token is required for platform slack")
		}
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required")
		}
	case "discord":
		if c.Notify.Discord.BotToken == "" {
			errs = append(errs, "notify.discord.bot_token is required for platform discord")
		}
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q must be slack or discord", c.Notify.Platform))
	}
	seen := make(map[string]bool)
	for i, w := range c.Websites {
		if w.ID == "" {
			errs = append(errs, fmt.Sprintf("websites[%d].id is required", i))
			continue
		}
		if seen[w.ID] {
			errs = append(errs, fmt.Sprintf("websites[%d].id %q is duplicated", i, w.ID))
		}
		seen[w.ID] = true
		if w.APIKey == "" {
			errs = append(errs, fmt.Sprintf("websites[%d].api_key is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
