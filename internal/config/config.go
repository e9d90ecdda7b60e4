package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Config is the root configuration for the bot.
type Config struct {
	Instagram  InstagramConfig  `json:"instagram"`
	Bot        BotConfig        `json:"bot"`
	Connection ConnectionConfig `json:"connection"`
	Polling    PollingConfig    `json:"polling"`
	RateLimit  RateLimitConfig  `json:"ratelimit"`
	Bridge     BridgeConfig     `json:"bridge"`
	History    HistoryConfig    `json:"history"`
	Responder  ResponderConfig  `json:"responder"`
	Metrics    MetricsConfig    `json:"metrics"`
	Log        LogConfig        `json:"log"`
}

type InstagramConfig struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	SessionPath string `json:"sessionPath"`
	APIBase     string `json:"apiBase,omitempty"`     // override for tests and proxies
	RealtimeURL string `json:"realtimeUrl,omitempty"` // override for the push endpoint
}

type BotConfig struct {
	Trigger          string         `json:"trigger"`
	Admins           FlexStringList `json:"admins"` // usernames, compared lowercase
	RespondToUnknown bool           `json:"respondToUnknown"`
	MarkSeen         bool           `json:"markSeen"`
}

type ConnectionConfig struct {
	MaxReconnectAttempts int `json:"maxReconnectAttempts"`
	BackoffBaseMs        int `json:"backoffBaseMs"`
	BackoffCapMs         int `json:"backoffCapMs"`
}

type PollingConfig struct {
	IntervalMs          int `json:"intervalMs"`
	Threads             int `json:"threads"` // threads inspected per tick
	ThreadDelayMs       int `json:"threadDelayMs"`
	RateLimitCooldownMs int `json:"rateLimitCooldownMs"`
}

type RateLimitConfig struct {
	MaxRequests int                     `json:"maxRequests"`
	WindowMs    int                     `json:"windowMs"`
	PerCommand  map[string]CommandLimit `json:"perCommand,omitempty"`
}

// CommandLimit overrides the default rate-limit budget for one command.
type CommandLimit struct {
	MaxRequests int `json:"maxRequests"`
	WindowMs    int `json:"windowMs"`
}

type BridgeConfig struct {
	Telegram TelegramBridgeConfig `json:"telegram"`
	Discord  DiscordBridgeConfig  `json:"discord"`
	Slack    SlackBridgeConfig    `json:"slack"`
}

type TelegramBridgeConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

type DiscordBridgeConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
}

type SlackBridgeConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	Channel  string `json:"channel"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"` // 0 disables pruning
}

type ResponderConfig struct {
	Enabled         bool   `json:"enabled"`
	RulesPath       string `json:"rulesPath"`
	CooldownSeconds int    `json:"cooldownSeconds"` // per-thread auto-reply spacing
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

type LogConfig struct {
	Level string `json:"level"` // debug | info | warn | error
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.instagram-mqtt).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".instagram-mqtt"
	}
	return filepath.Join(home, ".instagram-mqtt")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Instagram.SessionPath = ExpandPath(cfg.Instagram.SessionPath)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Responder.RulesPath = ExpandPath(cfg.Responder.RulesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if utf8.RuneCountInString(cfg.Bot.Trigger) != 1 || strings.TrimSpace(cfg.Bot.Trigger) == "" {
		errs = append(errs, "bot.trigger must be a single non-space character")
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if cfg.Connection.MaxReconnectAttempts < 1 || cfg.Connection.MaxReconnectAttempts > 10 {
		errs = append(errs, "connection.maxReconnectAttempts must be between 1 and 10")
	}
	if cfg.Connection.BackoffBaseMs < 100 {
		errs = append(errs, "connection.backoffBaseMs must be >= 100")
	}
	if cfg.Connection.BackoffCapMs < cfg.Connection.BackoffBaseMs {
		errs = append(errs, "connection.backoffCapMs must be >= connection.backoffBaseMs")
	}

	if cfg.Polling.IntervalMs < 1000 {
		errs = append(errs, "polling.intervalMs must be >= 1000")
	}
	if cfg.Polling.Threads < 1 || cfg.Polling.Threads > 20 {
		errs = append(errs, "polling.threads must be between 1 and 20")
	}
	if cfg.Polling.ThreadDelayMs < 0 {
		errs = append(errs, "polling.threadDelayMs must be >= 0")
	}
	if cfg.Polling.RateLimitCooldownMs < 1000 {
		errs = append(errs, "polling.rateLimitCooldownMs must be >= 1000")
	}

	if cfg.RateLimit.MaxRequests < 1 {
		errs = append(errs, "ratelimit.maxRequests must be >= 1")
	}
	if cfg.RateLimit.WindowMs < 1000 {
		errs = append(errs, "ratelimit.windowMs must be >= 1000")
	}
	for name, lim := range cfg.RateLimit.PerCommand {
		if lim.MaxRequests < 1 || lim.WindowMs < 1000 {
			errs = append(errs, fmt.Sprintf("ratelimit.perCommand.%s: maxRequests must be >= 1 and windowMs >= 1000", name))
		}
	}

	if cfg.Bridge.Telegram.Enabled && (cfg.Bridge.Telegram.Token == "" || cfg.Bridge.Telegram.ChatID == 0) {
		errs = append(errs, "bridge.telegram: token and chatId are required when enabled")
	}
	if cfg.Bridge.Discord.Enabled && (cfg.Bridge.Discord.Token == "" || cfg.Bridge.Discord.ChannelID == "") {
		errs = append(errs, "bridge.discord: token and channelId are required when enabled")
	}
	if cfg.Bridge.Slack.Enabled && (cfg.Bridge.Slack.BotToken == "" || cfg.Bridge.Slack.Channel == "") {
		errs = append(errs, "bridge.slack: botToken and channel are required when enabled")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.History.RetentionDays < 0 {
		errs = append(errs, "history.retentionDays must be >= 0")
	}
	if cfg.Responder.Enabled && cfg.Responder.RulesPath == "" {
		errs = append(errs, "responder.rulesPath is required when responder is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// AdminSet returns the admin handles as a lowercase lookup set.
func (c *Config) AdminSet() map[string]bool {
	set := make(map[string]bool, len(c.Bot.Admins))
	for _, a := range c.Bot.Admins {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			set[a] = true
		}
	}
	return set
}

// ParseLogLevel maps a config level string to a slog level.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
