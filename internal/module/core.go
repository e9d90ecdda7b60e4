package module

import (
	"fmt"
	"strings"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

// startTime records when the process started for the uptime command.
var startTime = time.Now()

// version is set by the build system. Default fallback.
var version = "0.4.0"

// SetVersion sets the version string reported by commands.
func SetVersion(v string) {
	version = v
}

// Version returns the version string reported by commands.
func Version() string {
	return version
}

// Core provides the baseline command set every installation carries.
type Core struct {
	trigger  string
	registry *Registry
	stats    func() domain.ConnStats
}

// CoreConfig wires the core module.
type CoreConfig struct {
	Trigger  string
	Registry *Registry
	Stats    func() domain.ConnStats
}

func NewCore(cfg CoreConfig) *Core {
	trigger := cfg.Trigger
	if trigger == "" {
		trigger = "."
	}
	return &Core{trigger: trigger, registry: cfg.Registry, stats: cfg.Stats}
}

func (c *Core) Name() string { return "core" }

func (c *Core) Commands() []domain.Command {
	return []domain.Command{
		{Name: "ping", Description: "Check the bot is alive", Usage: "ping", Handler: c.ping},
		{Name: "echo", Description: "Repeat the given text", Usage: "echo <text>", Handler: c.echo},
		{Name: "help", Description: "List commands or describe one", Usage: "help [command]", Handler: c.help},
		{Name: "uptime", Description: "Show how long the bot has been running", Usage: "uptime", Handler: c.uptime},
		{Name: "stats", Description: "Show the connection snapshot", Usage: "stats", Handler: c.connStats},
		{Name: "react", Description: "React to your message with an emoji", Usage: "react <emoji>", Handler: c.react},
	}
}

func (c *Core) ping(args []string, ctx *domain.Context) error {
	ctx.Reply("pong")
	return nil
}

func (c *Core) echo(args []string, ctx *domain.Context) error {
	if len(args) == 0 {
		ctx.Reply(fmt.Sprintf("Usage: %secho <text>", c.trigger))
		return nil
	}
	ctx.Reply(strings.Join(args, " "))
	return nil
}

func (c *Core) help(args []string, ctx *domain.Context) error {
	if len(args) > 0 {
		return c.helpFor(strings.ToLower(args[0]), ctx)
	}

	var sb strings.Builder
	sb.WriteString("Commands")
	for _, mod := range c.registry.Modules() {
		fmt.Fprintf(&sb, "\n\n[%s]\n", mod.Name())
		for _, cmd := range mod.Commands() {
			fmt.Fprintf(&sb, "%s%s — %s", c.trigger, cmd.Usage, cmd.Description)
			if cmd.AdminOnly {
				sb.WriteString(" (admin)")
			}
			sb.WriteString("\n")
		}
	}
	ctx.Reply(strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (c *Core) helpFor(name string, ctx *domain.Context) error {
	cmd, ok := c.registry.Command(name)
	if !ok {
		ctx.Reply(fmt.Sprintf("No such command: %s", name))
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s", c.trigger, cmd.Usage)
	if cmd.AdminOnly {
		sb.WriteString(" (admin)")
	}
	fmt.Fprintf(&sb, "\n%s\nModule: %s", cmd.Description, cmd.Module)
	ctx.Reply(sb.String())
	return nil
}

func (c *Core) uptime(args []string, ctx *domain.Context) error {
	ctx.Reply(fmt.Sprintf("Uptime: %s", time.Since(startTime).Round(time.Second)))
	return nil
}

func (c *Core) connStats(args []string, ctx *domain.Context) error {
	if c.stats == nil {
		ctx.Reply("Connection stats are unavailable.")
		return nil
	}
	st := c.stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", st.State)
	fmt.Fprintf(&sb, "Push: %v\n", st.Connected)
	fmt.Fprintf(&sb, "Polling: %v\n", st.Polling)
	fmt.Fprintf(&sb, "Reconnect attempts: %d", st.ReconnectAttempts)
	ctx.Reply(sb.String())
	return nil
}

func (c *Core) react(args []string, ctx *domain.Context) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %sreact <emoji>", c.trigger)
	}
	ctx.React(args[0])
	return nil
}
