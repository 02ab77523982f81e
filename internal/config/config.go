// Package config handles Luminary configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/luminary/config.yaml, /etc/luminary/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "luminary", "config.yaml"))
	}

	paths = append(paths, "/etc/luminary/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Luminary configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text (default) or json
	DefaultUser  UserConfig         `yaml:"default_user"`
	Listen       ListenConfig       `yaml:"listen"`
	LLM          LLMConfig          `yaml:"llm"`
	Embeddings   EmbeddingsConfig   `yaml:"embeddings"`
	Search       SearchConfig       `yaml:"search"`
	Shell        ShellConfig        `yaml:"shell"`
	Fetch        FetchConfig        `yaml:"fetch"`
	Notify       NotifyConfig       `yaml:"notify"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Conversation ConversationConfig `yaml:"conversation"`
}

// UserConfig seeds the profile row created for a user on first contact.
type UserConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Locale      string `yaml:"locale"`
	Timezone    string `yaml:"timezone"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai". Empty picks whichever
	// provider has credentials, preferring OpenAI.
	Provider  string         `yaml:"provider"`
	MaxTokens int            `yaml:"max_tokens"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Retry     LLMRetryConfig `yaml:"retry"`
}

// ProviderConfig holds credentials and endpoint for one LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is set.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// LLMRetryConfig bounds retries of transient provider failures.
type LLMRetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
}

// EmbeddingsConfig defines embedding generation settings. When disabled
// the semantic index is unavailable and retrieval falls back to recency.
type EmbeddingsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openai or ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// Configured reports whether embeddings are enabled with enough
// settings to reach the provider.
func (c EmbeddingsConfig) Configured() bool {
	if !c.Enabled {
		return false
	}
	if c.Provider == "ollama" {
		return true
	}
	return c.APIKey != ""
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	BraveAPIKey string `yaml:"brave_api_key"`
	// SearXNGURL points at a self-hosted SearXNG instance, tried after Brave.
	SearXNGURL string `yaml:"searxng_url"`
	// DuckDuckGo enables the keyless Instant Answer fallback.
	DuckDuckGo bool `yaml:"duckduckgo"`
}

// ShellConfig defines shell execution limits for run_bash.
type ShellConfig struct {
	// Enabled allows shell command execution.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command substrings to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// StripEnv lists extra environment variables removed before spawning.
	StripEnv []string `yaml:"strip_env"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
	// MaxOutputBytes caps stdout and stderr independently (default 8000).
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// FetchConfig configures the fetch_url tool.
type FetchConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
	MaxLength  int `yaml:"max_length"`
}

// NotifyConfig configures notification channels. Every channel is
// optional; the memory log is always available as the last resort.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Email    EmailConfig    `yaml:"email"`
}

// TelegramConfig holds bot credentials for Telegram delivery.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Configured reports whether both bot token and chat id are set.
func (c TelegramConfig) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// SlackConfig holds an incoming webhook URL.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Configured reports whether a webhook URL is set.
func (c SlackConfig) Configured() bool {
	return c.WebhookURL != ""
}

// MQTTConfig defines the broker used for notification publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. mqtts://broker.example.com:8883
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// Configured reports whether a broker and topic are set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != "" && c.Topic != ""
}

// EmailConfig defines outbound SMTP delivery for notifications.
type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Configured reports whether enough is set to send mail.
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != "" && c.From != "" && len(c.To) > 0
}

// SchedulerConfig tunes the schedule reconciliation loop.
type SchedulerConfig struct {
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
	MinIntervalMinutes   int `yaml:"min_interval_minutes"`
}

// MaintenanceConfig tunes the memory maintenance loop.
type MaintenanceConfig struct {
	IntervalHours   int `yaml:"interval_hours"`
	VolatileAgeDays int `yaml:"volatile_age_days"`
	BatchSize       int `yaml:"batch_size"`
}

// ConversationConfig bounds the stored turn log.
type ConversationConfig struct {
	MaxRows int `yaml:"max_rows"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references, then fills in defaults and environment credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration with environment credentials
// applied. Used when no config file exists.
func Default() *Config {
	cfg := &Config{
		DataDir:  "data",
		LogLevel: "info",
		Listen:   ListenConfig{Port: 8080},
		Search:   SearchConfig{DuckDuckGo: true},
		Shell: ShellConfig{
			Enabled: true,
			DeniedPatterns: []string{
				"rm -rf /",
				"mkfs",
				"dd if=",
				":(){ :|:& };:",
			},
		},
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// applyEnv fills empty credentials from the conventional environment
// variables.
func (c *Config) applyEnv() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = strings.ToLower(os.Getenv("LLM_PROVIDER"))
	}
	if c.LLM.Anthropic.APIKey == "" {
		c.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = os.Getenv("ANTHROPIC_MODEL")
	}
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = os.Getenv("OPENAI_MODEL")
	}
	if c.Search.BraveAPIKey == "" {
		c.Search.BraveAPIKey = os.Getenv("BRAVE_SEARCH_API_KEY")
	}
	if c.Notify.Telegram.BotToken == "" {
		c.Notify.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if c.Notify.Telegram.ChatID == "" {
		c.Notify.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
	if c.Notify.Slack.WebhookURL == "" {
		c.Notify.Slack.WebhookURL = os.Getenv("SLACK_WEBHOOK_URL")
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DefaultUser.ID == "" {
		c.DefaultUser.ID = "user_default"
	}
	if c.DefaultUser.DisplayName == "" {
		c.DefaultUser.DisplayName = envOr("DEFAULT_USER_NAME", "User")
	}
	if c.DefaultUser.Locale == "" {
		c.DefaultUser.Locale = envOr("DEFAULT_USER_LOCALE", "en")
	}
	if c.DefaultUser.Timezone == "" {
		c.DefaultUser.Timezone = envOr("DEFAULT_USER_TIMEZONE", "UTC")
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2000
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o"
	}
	if c.LLM.Retry.MaxRetries == 0 {
		c.LLM.Retry.MaxRetries = 3
	}
	if c.LLM.Retry.BaseDelayMs == 0 {
		c.LLM.Retry.BaseDelayMs = 1000
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "openai"
	}
	if c.Embeddings.Model == "" {
		switch c.Embeddings.Provider {
		case "ollama":
			c.Embeddings.Model = "nomic-embed-text"
		default:
			c.Embeddings.Model = "text-embedding-3-small"
		}
	}
	if c.Embeddings.APIKey == "" && c.Embeddings.Provider == "openai" {
		c.Embeddings.APIKey = c.LLM.OpenAI.APIKey
	}
	if c.Shell.DefaultTimeoutSec == 0 {
		c.Shell.DefaultTimeoutSec = 30
	}
	if c.Shell.MaxOutputBytes == 0 {
		c.Shell.MaxOutputBytes = 8000
	}
	if c.Fetch.TimeoutSec == 0 {
		c.Fetch.TimeoutSec = 15
	}
	if c.Fetch.MaxLength == 0 {
		c.Fetch.MaxLength = 8000
	}
	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = "luminary"
	}
	if c.Notify.Email.SMTPPort == 0 {
		c.Notify.Email.SMTPPort = 587
	}
	if c.Scheduler.ReconcileIntervalSec == 0 {
		c.Scheduler.ReconcileIntervalSec = 60
	}
	if c.Scheduler.MinIntervalMinutes == 0 {
		c.Scheduler.MinIntervalMinutes = 5
	}
	if c.Maintenance.IntervalHours == 0 {
		c.Maintenance.IntervalHours = 24
	}
	if c.Maintenance.VolatileAgeDays == 0 {
		c.Maintenance.VolatileAgeDays = 7
	}
	if c.Maintenance.BatchSize == 0 {
		c.Maintenance.BatchSize = 5
	}
	if c.Conversation.MaxRows == 0 {
		c.Conversation.MaxRows = 80
	}
}

// Validate checks for values that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider %q is not supported (valid: anthropic, openai)", c.LLM.Provider)
	}
	switch c.Embeddings.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("embeddings.provider %q is not supported (valid: openai, ollama)", c.Embeddings.Provider)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q is not supported (valid: text, json)", c.LogFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Maintenance.BatchSize < 2 {
		return fmt.Errorf("maintenance.batch_size must be at least 2, got %d", c.Maintenance.BatchSize)
	}
	return nil
}

// ReconcileInterval returns the scheduler reconciliation period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Scheduler.ReconcileIntervalSec) * time.Second
}

// MaintenanceInterval returns the maintenance loop period.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Maintenance.IntervalHours) * time.Hour
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "luminary.db")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
