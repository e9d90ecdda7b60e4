// Package bot assembles the application: provider client, connection
// manager, command modules, bridges, and the ops endpoint.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/bridge"
	"github.com/itxabrham07/instagram-mqtt/internal/config"
	"github.com/itxabrham07/instagram-mqtt/internal/conn"
	"github.com/itxabrham07/instagram-mqtt/internal/dispatch"
	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/insta"
	"github.com/itxabrham07/instagram-mqtt/internal/metrics"
	"github.com/itxabrham07/instagram-mqtt/internal/module"
	"github.com/itxabrham07/instagram-mqtt/internal/ratelimit"
	"github.com/itxabrham07/instagram-mqtt/internal/store"
)

const (
	healthInterval  = 30 * time.Second
	statsEvery      = 10 // health ticks between stats log lines
	shutdownTimeout = 10 * time.Second
)

// Bot wires every component and runs the daemon loop.
type Bot struct {
	cfg      *config.Config
	logger   *slog.Logger
	session  *insta.Session
	client   *insta.Client
	manager  *conn.Manager
	registry *module.Registry
	limiter  *ratelimit.Limiter
	mirror   domain.Bridge

	dispatcher *dispatch.Dispatcher
	metricsSrv *metrics.Server

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds the bot from a validated config. Module construction failures
// (bad rules file, unreadable database) are returned as errors.
func New(cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bot{cfg: cfg, logger: logger, stopCh: make(chan struct{})}

	sessionPath := config.ExpandPath(cfg.Instagram.SessionPath)
	sess, err := insta.LoadSession(sessionPath)
	if err != nil {
		logger.Info("starting a fresh session", "path", sessionPath)
		sess = insta.NewSession(cfg.Instagram.Username)
	} else {
		logger.Info("session loaded", "path", sessionPath, "username", sess.Username)
	}
	b.session = sess

	b.client = insta.NewClient(insta.ClientConfig{
		Session:     sess,
		Password:    cfg.Instagram.Password,
		SessionPath: sessionPath,
		BaseURL:     cfg.Instagram.APIBase,
		Logger:      logger,
	})

	openPush := func(ctx context.Context, seqID, snapshotAtMs int64) (conn.PushSession, error) {
		rt := insta.NewRealtime(insta.RealtimeConfig{
			Session: sess,
			URL:     cfg.Instagram.RealtimeURL,
			Logger:  logger,
		})
		if err := rt.Connect(ctx, seqID, snapshotAtMs); err != nil {
			return nil, err
		}
		return rt, nil
	}

	b.manager = conn.NewManager(conn.ManagerConfig{
		API:                  b.client,
		OpenPush:             openPush,
		OnMessage:            func(msg domain.Message) { b.dispatcher.Dispatch(msg) },
		Logger:               logger,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		BackoffBase:          time.Duration(cfg.Connection.BackoffBaseMs) * time.Millisecond,
		BackoffCap:           time.Duration(cfg.Connection.BackoffCapMs) * time.Millisecond,
		PollInterval:         time.Duration(cfg.Polling.IntervalMs) * time.Millisecond,
		PollThreads:          cfg.Polling.Threads,
		ThreadDelay:          time.Duration(cfg.Polling.ThreadDelayMs) * time.Millisecond,
		RateLimitCooldown:    time.Duration(cfg.Polling.RateLimitCooldownMs) * time.Millisecond,
	})

	b.limiter = ratelimit.New(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMs)*time.Millisecond)

	if err := b.registerModules(); err != nil {
		return nil, err
	}
	b.mirror = buildMirror(cfg.Bridge, logger)

	if cfg.Metrics.Enabled {
		b.metricsSrv = metrics.NewServer(cfg.Metrics.Listen, logger)
	}

	return b, nil
}

func (b *Bot) registerModules() error {
	b.registry = module.NewRegistry(b.logger)

	core := module.NewCore(module.CoreConfig{
		Trigger:  b.cfg.Bot.Trigger,
		Registry: b.registry,
		Stats:    b.manager.Stats,
	})
	admin := module.NewAdmin(module.AdminConfig{
		Registry: b.registry,
		Stats:    b.manager.Stats,
		Limiter:  b.limiter,
		Stop:     b.Stop,
	})
	mods := []domain.Module{core, admin}

	if b.cfg.Responder.Enabled {
		responder, err := module.NewResponder(module.ResponderConfig{
			RulesPath: config.ExpandPath(b.cfg.Responder.RulesPath),
			Trigger:   b.cfg.Bot.Trigger,
			Cooldown:  time.Duration(b.cfg.Responder.CooldownSeconds) * time.Second,
			Sender:    b.manager,
			Logger:    b.logger,
		})
		if err != nil {
			return fmt.Errorf("responder module: %w", err)
		}
		mods = append(mods, responder)
	}

	if b.cfg.History.Enabled {
		st, err := store.Open(config.ExpandPath(b.cfg.History.DBPath), b.logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		mods = append(mods, module.NewHistory(module.HistoryConfig{
			Store:     st,
			Retention: time.Duration(b.cfg.History.RetentionDays) * 24 * time.Hour,
			Logger:    b.logger,
		}))
	}

	for _, mod := range mods {
		if err := b.registry.Register(mod); err != nil {
			return fmt.Errorf("register module %s: %w", mod.Name(), err)
		}
	}
	return nil
}

// buildMirror assembles the bridge fan-out from config. Bridges that fail to
// initialize are skipped so one bad token cannot take the bot down.
func buildMirror(cfg config.BridgeConfig, logger *slog.Logger) domain.Bridge {
	var bridges []domain.Bridge

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		tg, err := bridge.NewTelegram(bridge.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
			Logger: logger,
		})
		if err != nil {
			logger.Error("telegram bridge disabled", "error", err)
		} else {
			bridges = append(bridges, tg)
		}
	}
	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		dc, err := bridge.NewDiscord(bridge.DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("discord bridge disabled", "error", err)
		} else {
			bridges = append(bridges, dc)
		}
	}
	if cfg.Slack.Enabled && cfg.Slack.BotToken != "" {
		bridges = append(bridges, bridge.NewSlack(bridge.SlackConfig{
			BotToken: cfg.Slack.BotToken,
			Channel:  cfg.Slack.Channel,
			Logger:   logger,
		}))
	}

	switch len(bridges) {
	case 0:
		return nil
	case 1:
		return bridges[0]
	default:
		return bridge.NewMulti(logger, bridges...)
	}
}

// Run is the daemon body. It authenticates, connects, and blocks until ctx
// is canceled or an admin issues shutdown.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.login(ctx); err != nil {
		return err
	}

	b.dispatcher = dispatch.New(dispatch.Config{
		Trigger:          b.cfg.Bot.Trigger,
		Admins:           b.cfg.AdminSet(),
		RespondToUnknown: b.cfg.Bot.RespondToUnknown,
		MarkSeen:         b.cfg.Bot.MarkSeen,
		SelfID:           b.client.UserID(),
		Registry:         b.registry,
		Limiter:          b.limiter,
		Limits:           defaultBudget(b.cfg.RateLimit),
		PerCommand:       perCommandBudgets(b.cfg.RateLimit.PerCommand),
		Sender:           b.manager,
		Bridge:           b.mirror,
		Logger:           b.logger,
	})

	if b.metricsSrv != nil {
		go func() {
			if err := b.metricsSrv.Start(ctx); err != nil {
				b.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := b.manager.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	b.logger.Info("bot started", "username", b.client.Username(), "user_id", b.client.UserID())

	b.watch(ctx)

	return b.shutdown()
}

// Stop ends Run from inside the process, e.g. from the admin shutdown
// command. Safe to call more than once.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// watch blocks until shutdown is requested, logging a health line on the way.
func (b *Bot) watch(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			ticks++
			st := b.manager.Stats()
			if !st.Connected && !st.Polling {
				b.logger.Warn("no active message source", "state", st.State, "attempts", st.ReconnectAttempts)
			} else if ticks%statsEvery == 0 {
				b.logger.Info("health", "state", st.State, "attempts", st.ReconnectAttempts)
			}
		}
	}
}

func (b *Bot) shutdown() error {
	b.logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.manager.Disconnect()
		b.registry.Cleanup()
	}()

	select {
	case <-done:
		b.logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		b.logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func (b *Bot) login(ctx context.Context) error {
	if !b.session.LoggedIn() {
		b.logger.Info("no saved login, authenticating", "username", b.cfg.Instagram.Username)
		if err := b.client.Login(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	} else if _, _, err := b.client.CurrentUser(ctx); err != nil {
		if !insta.IsAuthExpired(err) {
			return fmt.Errorf("verify session: %w", err)
		}
		b.logger.Warn("saved session rejected, logging in again")
		if err := b.client.Login(ctx); err != nil {
			return fmt.Errorf("re-login: %w", err)
		}
	}
	if err := b.client.SaveSession(); err != nil {
		b.logger.Warn("session save failed", "error", err)
	}
	return nil
}

func defaultBudget(cfg config.RateLimitConfig) dispatch.Budget {
	return dispatch.Budget{
		Max:    cfg.MaxRequests,
		Window: time.Duration(cfg.WindowMs) * time.Millisecond,
	}
}

func perCommandBudgets(limits map[string]config.CommandLimit) map[string]dispatch.Budget {
	if len(limits) == 0 {
		return nil
	}
	out := make(map[string]dispatch.Budget, len(limits))
	for name, l := range limits {
		out[name] = dispatch.Budget{
			Max:    l.MaxRequests,
			Window: time.Duration(l.WindowMs) * time.Millisecond,
		}
	}
	return out
}
