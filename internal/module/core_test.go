package module

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

// fakeSender records outbound calls for assertions.
type fakeSender struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) SendText(threadID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "text:"+text)
	return true
}

func (f *fakeSender) SendReaction(threadID, itemID, emoji string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "react:"+emoji)
	return true
}

func (f *fakeSender) MarkSeen(threadID, itemID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "seen:"+itemID)
	return true
}

func (f *fakeSender) SetTyping(threadID string, active bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "typing")
	return true
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if after, ok := strings.CutPrefix(c, "text:"); ok {
			out = append(out, after)
		}
	}
	return out
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testContext(sender *fakeSender, threadID string) *domain.Context {
	msg := domain.Message{
		ID:           "i1",
		ThreadID:     threadID,
		SenderID:     7,
		SenderHandle: "alice",
		Text:         ".help",
		Type:         domain.TypeText,
		Timestamp:    time.Now(),
	}
	return domain.NewContext(msg, sender)
}

func coreFixture(t *testing.T, stats func() domain.ConnStats) (*Core, *Registry) {
	t.Helper()
	reg := NewRegistry(testLogger())
	core := NewCore(CoreConfig{Trigger: ".", Registry: reg, Stats: stats})
	if err := reg.Register(core); err != nil {
		t.Fatalf("register core: %v", err)
	}
	return core, reg
}

// --- Basic commands ---

func TestCore_Ping(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.ping(nil, testContext(sender, "t1")); err != nil {
		t.Fatalf("ping: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 || got[0] != "pong" {
		t.Fatalf("expected single pong reply, got %v", got)
	}
}

func TestCore_EchoJoinsArgs(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.echo([]string{"Hello", "There"}, testContext(sender, "t1")); err != nil {
		t.Fatalf("echo: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 || got[0] != "Hello There" {
		t.Fatalf("expected echoed text with case preserved, got %v", got)
	}
}

func TestCore_EchoWithoutArgsShowsUsage(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.echo(nil, testContext(sender, "t1")); err != nil {
		t.Fatalf("echo: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 || !strings.Contains(got[0], "Usage") {
		t.Fatalf("expected usage reply, got %v", got)
	}
}

// --- Help ---

func TestCore_HelpGroupsByModule(t *testing.T) {
	core, reg := coreFixture(t, nil)
	admin := NewAdmin(AdminConfig{Registry: reg})
	if err := reg.Register(admin); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	sender := &fakeSender{}

	if err := core.help(nil, testContext(sender, "t1")); err != nil {
		t.Fatalf("help: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 {
		t.Fatalf("expected one reply, got %v", got)
	}
	for _, want := range []string{"[core]", "[admin]", ".ping", ".shutdown", "(admin)"} {
		if !strings.Contains(got[0], want) {
			t.Errorf("help output missing %q:\n%s", want, got[0])
		}
	}
}

func TestCore_HelpForSingleCommand(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.help([]string{"ECHO"}, testContext(sender, "t1")); err != nil {
		t.Fatalf("help echo: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 || !strings.Contains(got[0], ".echo <text>") {
		t.Fatalf("expected usage detail for echo, got %v", got)
	}
	if !strings.Contains(got[0], "Module: core") {
		t.Errorf("expected owning module in detail, got %q", got[0])
	}
}

func TestCore_HelpForUnknownCommand(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.help([]string{"nope"}, testContext(sender, "t1")); err != nil {
		t.Fatalf("help nope: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 || !strings.Contains(got[0], "No such command") {
		t.Fatalf("expected unknown-command reply, got %v", got)
	}
}

// --- Stats and react ---

func TestCore_StatsSnapshot(t *testing.T) {
	stats := func() domain.ConnStats {
		return domain.ConnStats{State: "polling", Polling: true, ReconnectAttempts: 3}
	}
	core, _ := coreFixture(t, stats)
	sender := &fakeSender{}

	if err := core.connStats(nil, testContext(sender, "t1")); err != nil {
		t.Fatalf("stats: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 {
		t.Fatalf("expected one reply, got %v", got)
	}
	for _, want := range []string{"State: polling", "Polling: true", "Reconnect attempts: 3"} {
		if !strings.Contains(got[0], want) {
			t.Errorf("stats output missing %q:\n%s", want, got[0])
		}
	}
}

func TestCore_ReactSendsReactionOnly(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.react([]string{"🔥"}, testContext(sender, "t1")); err != nil {
		t.Fatalf("react: %v", err)
	}
	got := sender.all()
	if len(got) != 1 || got[0] != "react:🔥" {
		t.Fatalf("expected a single reaction and no reply, got %v", got)
	}
}

func TestCore_ReactWithoutEmojiFails(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.react(nil, testContext(sender, "t1")); err == nil {
		t.Fatal("expected an error for missing emoji")
	}
	if got := sender.all(); len(got) != 0 {
		t.Fatalf("expected no outbound calls, got %v", got)
	}
}

func TestCore_Uptime(t *testing.T) {
	core, _ := coreFixture(t, nil)
	sender := &fakeSender{}

	if err := core.uptime(nil, testContext(sender, "t1")); err != nil {
		t.Fatalf("uptime: %v", err)
	}
	got := sender.texts()
	if len(got) != 1 || !strings.HasPrefix(got[0], "Uptime: ") {
		t.Fatalf("expected uptime reply, got %v", got)
	}
}
