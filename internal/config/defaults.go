package config

import "path/filepath"

func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Instagram: InstagramConfig{
			SessionPath: filepath.Join(dir, "session.json"),
		},
		Bot: BotConfig{
			Trigger:          ".",
			Admins:           FlexStringList{},
			RespondToUnknown: true,
			MarkSeen:         true,
		},
		Connection: ConnectionConfig{
			MaxReconnectAttempts: 4,
			BackoffBaseMs:        2000,
			BackoffCapMs:         60000,
		},
		Polling: PollingConfig{
			IntervalMs:          45000,
			Threads:             3,
			ThreadDelayMs:       3000,
			RateLimitCooldownMs: 120000,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 5,
			WindowMs:    60000,
		},
		Bridge: BridgeConfig{
			Telegram: TelegramBridgeConfig{Enabled: false},
			Discord:  DiscordBridgeConfig{Enabled: false},
			Slack:    SlackBridgeConfig{Enabled: false},
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        filepath.Join(dir, "history.db"),
			RetentionDays: 90,
		},
		Responder: ResponderConfig{
			Enabled:         false,
			RulesPath:       filepath.Join(dir, "responders.yaml"),
			CooldownSeconds: 60,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9815",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
