package dispatch

import (
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/module"
)

// fakeSender records outbound operations in call order.
type fakeSender struct {
	calls []string
}

func (f *fakeSender) SendText(threadID, text string) bool {
	f.calls = append(f.calls, "text:"+text)
	return true
}

func (f *fakeSender) SendReaction(threadID, itemID, emoji string) bool {
	f.calls = append(f.calls, "react:"+emoji)
	return true
}

func (f *fakeSender) MarkSeen(threadID, itemID string) bool {
	f.calls = append(f.calls, "seen:"+itemID)
	return true
}

func (f *fakeSender) SetTyping(threadID string, active bool) bool {
	if active {
		f.calls = append(f.calls, "typing:on")
	} else {
		f.calls = append(f.calls, "typing:off")
	}
	return true
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "text:") {
			out = append(out, strings.TrimPrefix(c, "text:"))
		}
	}
	return out
}

type testModule struct {
	name string
	cmds []domain.Command
}

func (m *testModule) Name() string               { return m.name }
func (m *testModule) Commands() []domain.Command { return m.cmds }

// rewriteModule rewrites message text before dispatch.
type rewriteModule struct {
	testModule
	from, to string
}

func (m *rewriteModule) ProcessMessage(msg domain.Message) domain.Message {
	if msg.Text == m.from {
		msg.Text = m.to
	}
	return msg
}

type fakeBridge struct {
	forwarded []domain.Message
	err       error
}

func (b *fakeBridge) Name() string { return "fake" }

func (b *fakeBridge) Forward(msg domain.Message) error {
	b.forwarded = append(b.forwarded, msg)
	return b.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher(t *testing.T, mutate func(*Config)) (*Dispatcher, *fakeSender, *int) {
	t.Helper()
	sender := &fakeSender{}
	runs := 0

	reg := module.NewRegistry(testLogger())
	err := reg.Register(&testModule{name: "core", cmds: []domain.Command{
		{Name: "ping", Handler: func(args []string, ctx *domain.Context) error {
			runs++
			ctx.Reply("pong")
			return nil
		}},
		{Name: "react", Handler: func(args []string, ctx *domain.Context) error {
			runs++
			if len(args) == 0 {
				return errors.New("usage: react <emoji>")
			}
			ctx.React(args[0])
			return nil
		}},
		{Name: "fail", Handler: func(args []string, ctx *domain.Context) error {
			runs++
			return errors.New("boom")
		}},
		{Name: "explode", Handler: func(args []string, ctx *domain.Context) error {
			runs++
			panic("kaboom")
		}},
		{Name: "status", AdminOnly: true, Handler: func(args []string, ctx *domain.Context) error {
			runs++
			ctx.Reply("up")
			return nil
		}},
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cfg := Config{
		Trigger:          ".",
		Admins:           map[string]bool{"root": true},
		RespondToUnknown: true,
		MarkSeen:         true,
		SelfID:           1,
		Registry:         reg,
		Limits:           Budget{Max: 100, Window: time.Minute},
		Sender:           sender,
		Logger:           testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), sender, &runs
}

func inbound(senderID int64, handle, text string) domain.Message {
	return domain.Message{
		ID:           "i1",
		ThreadID:     "t1",
		SenderID:     senderID,
		SenderHandle: handle,
		Text:         text,
		Type:         domain.TypeText,
		Timestamp:    time.Now(),
	}
}

// --- Parsing ---

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text    string
		trigger string
		name    string
		args    []string
		ok      bool
	}{
		{".ping", ".", "ping", nil, true},
		{".PING MiXeD", ".", "ping", []string{"MiXeD"}, true},
		{".echo  spaced   out", ".", "echo", []string{"spaced", "out"}, true},
		{".", ".", "", nil, false},
		{".   ", ".", "", nil, false},
		{"hello there", ".", "", nil, false},
		{"!ping", "!", "ping", nil, true},
		{".react 🔥", ".", "react", []string{"🔥"}, true},
	}
	for _, tc := range cases {
		name, args, ok := ParseCommand(tc.text, tc.trigger)
		if ok != tc.ok || name != tc.name {
			t.Errorf("ParseCommand(%q) = (%q, %v, %v)", tc.text, name, args, ok)
			continue
		}
		if ok && len(args) != len(tc.args) {
			t.Errorf("ParseCommand(%q) args = %v, want %v", tc.text, args, tc.args)
			continue
		}
		for i := range args {
			if args[i] != tc.args[i] {
				t.Errorf("ParseCommand(%q) args = %v, want %v", tc.text, args, tc.args)
			}
		}
	}
}

// --- Routing ---

func TestDispatch_CommandFullSequence(t *testing.T) {
	d, sender, runs := newTestDispatcher(t, nil)

	d.Dispatch(inbound(7, "alice", ".ping"))

	want := []string{"seen:i1", "typing:on", "text:pong", "typing:off"}
	if !reflect.DeepEqual(sender.calls, want) {
		t.Errorf("calls = %v, want %v", sender.calls, want)
	}
	if *runs != 1 {
		t.Errorf("handler ran %d times, want 1", *runs)
	}
}

func TestDispatch_ReactionArgsPreserved(t *testing.T) {
	d, sender, runs := newTestDispatcher(t, nil)

	d.Dispatch(inbound(7, "alice", ".react 🔥"))

	if *runs != 1 {
		t.Fatalf("handler ran %d times, want 1", *runs)
	}
	reacts := 0
	for _, c := range sender.calls {
		if c == "react:🔥" {
			reacts++
		}
	}
	if reacts != 1 {
		t.Errorf("reaction sent %d times, want 1", reacts)
	}
	if got := sender.texts(); len(got) != 0 {
		t.Errorf("unexpected replies: %v", got)
	}
}

func TestDispatch_IgnoresOwnMessages(t *testing.T) {
	d, sender, runs := newTestDispatcher(t, nil)

	d.Dispatch(inbound(1, "botacct", ".ping"))

	if len(sender.calls) != 0 || *runs != 0 {
		t.Errorf("own message triggered work: calls=%v runs=%d", sender.calls, *runs)
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, sender, _ := newTestDispatcher(t, nil)
	d.Dispatch(inbound(7, "alice", ".nope"))

	texts := sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Unknown command: .nope") {
		t.Errorf("texts = %v", texts)
	}

	// With the nag disabled the message is dropped silently.
	d2, sender2, _ := newTestDispatcher(t, func(c *Config) { c.RespondToUnknown = false })
	d2.Dispatch(inbound(7, "alice", ".nope"))
	if got := sender2.texts(); len(got) != 0 {
		t.Errorf("unexpected replies: %v", got)
	}
}

func TestDispatch_AdminGate(t *testing.T) {
	d, sender, runs := newTestDispatcher(t, nil)

	d.Dispatch(inbound(7, "alice", ".status"))
	if *runs != 0 {
		t.Fatal("non-admin must not reach the handler")
	}
	if texts := sender.texts(); len(texts) != 1 || !strings.Contains(texts[0], "admin-only") {
		t.Errorf("texts = %v", texts)
	}

	d.Dispatch(inbound(8, "root", ".status"))
	if *runs != 1 {
		t.Errorf("admin run count = %d, want 1", *runs)
	}
}

func TestDispatch_RateLimitNotifiesAndBlocks(t *testing.T) {
	d, sender, runs := newTestDispatcher(t, func(c *Config) {
		c.Limits = Budget{Max: 2, Window: time.Minute}
	})

	for i := 0; i < 3; i++ {
		d.Dispatch(inbound(7, "alice", ".ping"))
	}

	if *runs != 2 {
		t.Errorf("handler ran %d times, want 2", *runs)
	}
	texts := sender.texts()
	if len(texts) != 3 {
		t.Fatalf("texts = %v", texts)
	}
	if !strings.Contains(texts[2], "too quickly") {
		t.Errorf("third reply = %q, want throttle notice", texts[2])
	}
}

func TestDispatch_PerCommandBudget(t *testing.T) {
	d, _, runs := newTestDispatcher(t, func(c *Config) {
		c.PerCommand = map[string]Budget{"ping": {Max: 1, Window: time.Minute}}
	})

	d.Dispatch(inbound(7, "alice", ".ping"))
	d.Dispatch(inbound(7, "alice", ".ping"))
	if *runs != 1 {
		t.Errorf("handler ran %d times, want 1", *runs)
	}

	// Other senders keep their own budget.
	d.Dispatch(inbound(8, "bob", ".ping"))
	if *runs != 2 {
		t.Errorf("handler ran %d times, want 2", *runs)
	}
}

// --- Failure containment ---

func TestDispatch_HandlerErrorIsReported(t *testing.T) {
	d, sender, _ := newTestDispatcher(t, nil)

	d.Dispatch(inbound(7, "alice", ".fail"))

	texts := sender.texts()
	if len(texts) != 1 || texts[0] != "command error: boom" {
		t.Errorf("texts = %v", texts)
	}
	if last := sender.calls[len(sender.calls)-1]; last != "typing:off" {
		t.Errorf("typing indicator left on: %v", sender.calls)
	}
}

func TestDispatch_HandlerPanicIsContained(t *testing.T) {
	d, sender, _ := newTestDispatcher(t, nil)

	d.Dispatch(inbound(7, "alice", ".explode"))

	texts := sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "command error: internal error") {
		t.Errorf("texts = %v", texts)
	}
	if last := sender.calls[len(sender.calls)-1]; last != "typing:off" {
		t.Errorf("typing indicator left on: %v", sender.calls)
	}
}

// --- Bridge and hooks ---

func TestDispatch_BridgesNonCommands(t *testing.T) {
	bridge := &fakeBridge{}
	d, _, _ := newTestDispatcher(t, func(c *Config) { c.Bridge = bridge })

	d.Dispatch(inbound(7, "alice", "just chatting"))
	d.Dispatch(inbound(7, "alice", ".ping"))

	if len(bridge.forwarded) != 1 || bridge.forwarded[0].Text != "just chatting" {
		t.Errorf("forwarded = %v", bridge.forwarded)
	}
}

func TestDispatch_BridgeErrorDoesNotPropagate(t *testing.T) {
	bridge := &fakeBridge{err: errors.New("downstream down")}
	d, _, _ := newTestDispatcher(t, func(c *Config) { c.Bridge = bridge })

	d.Dispatch(inbound(7, "alice", "hello")) // must not panic
	if len(bridge.forwarded) != 1 {
		t.Errorf("forwarded %d messages, want 1", len(bridge.forwarded))
	}
}

func TestDispatch_ProcessorsRunBeforeParsing(t *testing.T) {
	d, _, runs := newTestDispatcher(t, func(c *Config) {
		c.Registry.Register(&rewriteModule{
			testModule: testModule{name: "alias"},
			from:       "pp",
			to:         ".ping",
		})
	})

	d.Dispatch(inbound(7, "alice", "pp"))
	if *runs != 1 {
		t.Errorf("handler ran %d times, want 1", *runs)
	}
}

func TestDispatch_MarkSeenDisabled(t *testing.T) {
	d, sender, _ := newTestDispatcher(t, func(c *Config) { c.MarkSeen = false })

	d.Dispatch(inbound(7, "alice", ".ping"))
	for _, c := range sender.calls {
		if strings.HasPrefix(c, "seen:") {
			t.Errorf("mark seen sent while disabled: %v", sender.calls)
		}
	}
}
