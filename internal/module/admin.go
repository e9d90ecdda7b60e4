package module

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/ratelimit"
)

// Admin groups the operator-only commands.
type Admin struct {
	registry *Registry
	stats    func() domain.ConnStats
	limiter  *ratelimit.Limiter
	stop     func()
}

// AdminConfig wires the admin module.
type AdminConfig struct {
	Registry *Registry
	Stats    func() domain.ConnStats
	Limiter  *ratelimit.Limiter
	Stop     func() // initiates daemon shutdown
}

func NewAdmin(cfg AdminConfig) *Admin {
	return &Admin{registry: cfg.Registry, stats: cfg.Stats, limiter: cfg.Limiter, stop: cfg.Stop}
}

func (a *Admin) Name() string { return "admin" }

func (a *Admin) Commands() []domain.Command {
	return []domain.Command{
		{Name: "status", Description: "Show detailed bot status", Usage: "status", AdminOnly: true, Handler: a.status},
		{Name: "modules", Description: "List loaded modules", Usage: "modules", AdminOnly: true, Handler: a.modules},
		{Name: "rlreset", Description: "Clear one rate-limit key or all of them", Usage: "rlreset [key]", AdminOnly: true, Handler: a.rlreset},
		{Name: "shutdown", Description: "Stop the bot", Usage: "shutdown", AdminOnly: true, Handler: a.shutdown},
	}
}

func (a *Admin) status(args []string, ctx *domain.Context) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "instagram-mqtt v%s\n", version)
	if a.stats != nil {
		st := a.stats()
		fmt.Fprintf(&sb, "State: %s\n", st.State)
		fmt.Fprintf(&sb, "Reconnect attempts: %d\n", st.ReconnectAttempts)
		if st.Polling && !st.Watermark.IsZero() {
			fmt.Fprintf(&sb, "Watermark age: %s\n", time.Since(st.Watermark).Round(time.Second))
		}
	}
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(startTime).Round(time.Second))
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	ctx.Reply(sb.String())
	return nil
}

func (a *Admin) modules(args []string, ctx *domain.Context) error {
	mods := a.registry.Modules()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Modules (%d)", len(mods))
	for _, m := range mods {
		fmt.Fprintf(&sb, "\n• %s: %d commands", m.Name(), len(m.Commands()))
	}
	ctx.Reply(sb.String())
	return nil
}

func (a *Admin) rlreset(args []string, ctx *domain.Context) error {
	if a.limiter == nil {
		ctx.Reply("Rate limiting is not active.")
		return nil
	}
	if len(args) == 0 {
		a.limiter.ClearAll()
		ctx.Reply("All rate-limit windows cleared.")
		return nil
	}
	a.limiter.Clear(args[0])
	ctx.Reply(fmt.Sprintf("Rate-limit window cleared for %s.", args[0]))
	return nil
}

func (a *Admin) shutdown(args []string, ctx *domain.Context) error {
	ctx.Reply("Shutting down.")
	if a.stop != nil {
		a.stop()
	}
	return nil
}
