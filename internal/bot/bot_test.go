package bot

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Instagram.Username = "botuser"
	cfg.Instagram.Password = "secret"
	cfg.Instagram.SessionPath = filepath.Join(dir, "session.json")
	cfg.History.DBPath = filepath.Join(dir, "history.db")
	cfg.Responder.RulesPath = filepath.Join(dir, "rules.yaml")
	return cfg
}

func TestNew_RegistersBaselineModules(t *testing.T) {
	b, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.registry.Cleanup() })

	for _, name := range []string{"ping", "echo", "help", "uptime", "stats", "react", "status", "modules", "rlreset", "shutdown", "history", "msgstats"} {
		if _, ok := b.registry.Command(name); !ok {
			t.Errorf("command %q not registered", name)
		}
	}
	if _, ok := b.registry.Command("rules"); ok {
		t.Error("responder is disabled by default, rules must be absent")
	}
}

func TestNew_HistoryDisabledSkipsCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false

	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.registry.Command("history"); ok {
		t.Error("history command registered with history disabled")
	}
}

func TestNew_ResponderEnabledLoadsRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Responder.Enabled = true
	rules := "rules:\n  - match: [\"hello\"]\n    reply: \"hi\"\n"
	if err := os.WriteFile(cfg.Responder.RulesPath, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.registry.Cleanup() })
	if _, ok := b.registry.Command("rules"); !ok {
		t.Error("rules command missing with responder enabled")
	}
}

func TestNew_BadRulesFileIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Responder.Enabled = true
	bad := "rules:\n  - match: [\"x\"]\n    mode: regex\n    reply: \"y\"\n"
	if err := os.WriteFile(cfg.Responder.RulesPath, []byte(bad), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected construction to fail on a malformed rules file")
	}
}

func TestBuildMirror_Selection(t *testing.T) {
	logger := testLogger()

	if m := buildMirror(config.BridgeConfig{}, logger); m != nil {
		t.Fatalf("expected no mirror with everything disabled, got %s", m.Name())
	}

	slackOnly := config.BridgeConfig{
		Slack: config.SlackBridgeConfig{Enabled: true, BotToken: "xoxb-test", Channel: "#general"},
	}
	if m := buildMirror(slackOnly, logger); m == nil || m.Name() != "slack" {
		t.Fatalf("expected the single bridge itself, got %v", m)
	}

	both := slackOnly
	both.Discord = config.DiscordBridgeConfig{Enabled: true, Token: "token", ChannelID: "123"}
	if m := buildMirror(both, logger); m == nil || m.Name() != "multi" {
		t.Fatalf("expected a multi bridge, got %v", m)
	}
}

func TestPerCommandBudgets(t *testing.T) {
	if out := perCommandBudgets(nil); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
	out := perCommandBudgets(map[string]config.CommandLimit{
		"echo": {MaxRequests: 2, WindowMs: 30000},
	})
	b, ok := out["echo"]
	if !ok || b.Max != 2 || b.Window != 30*time.Second {
		t.Fatalf("unexpected budget: %+v", out)
	}
}

func TestStop_Idempotent(t *testing.T) {
	b, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.registry.Cleanup() })

	b.Stop()
	b.Stop()

	select {
	case <-b.stopCh:
	default:
		t.Fatal("stop channel should be closed")
	}
}
