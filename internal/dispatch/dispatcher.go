package dispatch

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/metrics"
	"github.com/itxabrham07/instagram-mqtt/internal/module"
	"github.com/itxabrham07/instagram-mqtt/internal/ratelimit"
)

// Budget is a rate-limit allowance for a command.
type Budget struct {
	Max    int
	Window time.Duration
}

// Config wires a Dispatcher.
type Config struct {
	Trigger          string
	Admins           map[string]bool // lowercased handles
	RespondToUnknown bool
	MarkSeen         bool
	SelfID           int64

	Registry   *module.Registry
	Limiter    *ratelimit.Limiter
	Limits     Budget
	PerCommand map[string]Budget
	Sender     domain.Sender
	Bridge     domain.Bridge // nil disables mirroring
	Logger     *slog.Logger
}

// Dispatcher routes inbound messages: commands through the registry's
// handlers behind the admin and rate-limit gates, everything else to the
// bridge.
type Dispatcher struct {
	trigger          string
	admins           map[string]bool
	respondToUnknown bool
	markSeen         bool
	selfID           int64

	registry   *module.Registry
	limiter    *ratelimit.Limiter
	limits     Budget
	perCommand map[string]Budget
	sender     domain.Sender
	bridge     domain.Bridge
	logger     *slog.Logger
}

func New(cfg Config) *Dispatcher {
	trigger := cfg.Trigger
	if trigger == "" {
		trigger = "."
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.Limits.Max, cfg.Limits.Window)
	}
	limits := cfg.Limits
	if limits.Max <= 0 {
		limits.Max = 5
	}
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		trigger:          trigger,
		admins:           cfg.Admins,
		respondToUnknown: cfg.RespondToUnknown,
		markSeen:         cfg.MarkSeen,
		selfID:           cfg.SelfID,
		registry:         cfg.Registry,
		limiter:          limiter,
		limits:           limits,
		perCommand:       cfg.PerCommand,
		sender:           cfg.Sender,
		bridge:           cfg.Bridge,
		logger:           logger,
	}
}

// ParseCommand splits a message into a command name and arguments. The text
// is a command when it starts with the trigger and carries a non-empty first
// token; the name is lowercased, arguments keep their case.
func ParseCommand(text, trigger string) (string, []string, bool) {
	if !strings.HasPrefix(text, trigger) {
		return "", nil, false
	}
	fields := strings.Fields(text[len(trigger):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch handles one inbound message end to end.
func (d *Dispatcher) Dispatch(msg domain.Message) {
	if msg.SenderID == d.selfID {
		d.logger.Debug("ignoring own message", "thread", msg.ThreadID)
		return
	}
	metrics.MessagesTotal.Inc()

	if d.markSeen && msg.ID != "" {
		d.sender.MarkSeen(msg.ThreadID, msg.ID)
	}

	msg = d.registry.ProcessMessage(msg)

	name, args, isCommand := ParseCommand(msg.Text, d.trigger)
	if !isCommand {
		d.forward(msg)
		return
	}

	cmd, found := d.registry.Command(name)
	if !found {
		d.logger.Debug("unknown command", "command", name, "sender", msg.SenderID)
		if d.respondToUnknown {
			d.sender.SendText(msg.ThreadID, fmt.Sprintf("Unknown command: %s%s. Try %shelp.", d.trigger, name, d.trigger))
		}
		return
	}

	if cmd.AdminOnly && !d.admins[msg.SenderHandle] {
		d.logger.Warn("admin command denied", "command", name, "sender", msg.SenderHandle, "sender_id", msg.SenderID)
		d.sender.SendText(msg.ThreadID, "That command is admin-only.")
		return
	}

	budget := d.limits
	if override, ok := d.perCommand[name]; ok {
		budget = override
	}
	key := fmt.Sprintf("%d:%s", msg.SenderID, name)
	if !d.limiter.AllowLimit(key, budget.Max, budget.Window) {
		metrics.RateLimitHits.Inc()
		d.logger.Warn("rate limit hit", "command", name, "sender_id", msg.SenderID)
		d.sender.SendText(msg.ThreadID, "You're sending commands too quickly. Give it a moment.")
		return
	}

	d.logger.Info("dispatching command",
		"command", name,
		"module", cmd.Module,
		"sender", msg.SenderHandle,
		"sender_id", msg.SenderID,
		"thread", msg.ThreadID,
		"args", len(args))

	d.run(cmd, args, domain.NewContext(msg, d.sender))
}

// run executes a handler with typing feedback and panic containment.
func (d *Dispatcher) run(cmd domain.Command, args []string, ctx *domain.Context) {
	metrics.CommandsTotal.Inc()
	start := time.Now()

	ctx.SetTyping(true)
	defer ctx.SetTyping(false)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("command handler panic", "command", cmd.Name, "panic", r)
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		err = cmd.Handler(args, ctx)
	}()
	metrics.CommandLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CommandErrors.Inc()
		d.logger.Error("command failed", "command", cmd.Name, "error", err)
		ctx.Reply("command error: " + err.Error())
	}
}

func (d *Dispatcher) forward(msg domain.Message) {
	if d.bridge == nil {
		return
	}
	if err := d.bridge.Forward(msg); err != nil {
		d.logger.Error("bridge forward failed", "bridge", d.bridge.Name(), "error", err)
		return
	}
	metrics.BridgedTotal.Inc()
}
