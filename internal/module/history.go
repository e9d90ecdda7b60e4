package module

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/store"
)

const historyOpTimeout = 5 * time.Second

// History records every processed message and serves it back on demand.
type History struct {
	store  *store.Store
	logger *slog.Logger
}

// HistoryConfig wires the history module.
type HistoryConfig struct {
	Store     *store.Store
	Retention time.Duration // 0 keeps everything
	Logger    *slog.Logger
}

func NewHistory(cfg HistoryConfig) *History {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{store: cfg.Store, logger: logger}
	if cfg.Retention > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), historyOpTimeout)
		defer cancel()
		if _, err := h.store.Prune(ctx, cfg.Retention); err != nil {
			logger.Warn("history prune failed", "error", err)
		}
	}
	return h
}

func (h *History) Name() string { return "history" }

func (h *History) Commands() []domain.Command {
	return []domain.Command{
		{Name: "history", Description: "Show recent messages in this thread", Usage: "history [n]", AdminOnly: true, Handler: h.recent},
		{Name: "msgstats", Description: "Show message store counters", Usage: "msgstats", AdminOnly: true, Handler: h.msgStats},
	}
}

// ProcessMessage stores the message and passes it through unchanged.
func (h *History) ProcessMessage(msg domain.Message) domain.Message {
	if msg.ID == "" {
		return msg
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyOpTimeout)
	defer cancel()
	if err := h.store.RecordMessage(ctx, msg); err != nil {
		h.logger.Warn("history record failed", "thread", msg.ThreadID, "error", err)
	}
	return msg
}

// Cleanup closes the backing store.
func (h *History) Cleanup() error {
	return h.store.Close()
}

func (h *History) recent(args []string, ctx *domain.Context) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			ctx.Reply("Usage: history [n]")
			return nil
		}
		if n > 50 {
			n = 50
		}
		limit = n
	}

	opCtx, cancel := context.WithTimeout(context.Background(), historyOpTimeout)
	defer cancel()
	records, err := h.store.Recent(opCtx, ctx.Message.ThreadID, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(records) == 0 {
		ctx.Reply("No messages recorded for this thread yet.")
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d messages", len(records))
	for _, rec := range records {
		who := rec.SenderHandle
		if who == "" {
			who = strconv.FormatInt(rec.SenderID, 10)
		}
		fmt.Fprintf(&sb, "\n%s %s: %s", rec.SentAt.Format("01-02 15:04"), who, rec.Text)
	}
	ctx.Reply(sb.String())
	return nil
}

func (h *History) msgStats(args []string, ctx *domain.Context) error {
	opCtx, cancel := context.WithTimeout(context.Background(), historyOpTimeout)
	defer cancel()
	st, err := h.store.Stats(opCtx)
	if err != nil {
		return fmt.Errorf("load store stats: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Messages: %d\n", st.Messages)
	fmt.Fprintf(&sb, "Threads: %d\n", st.Threads)
	fmt.Fprintf(&sb, "Senders: %d", st.Senders)
	if !st.OldestAt.IsZero() {
		fmt.Fprintf(&sb, "\nOldest: %s", st.OldestAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "\nNewest: %s", st.NewestAt.Format(time.RFC3339))
	}
	ctx.Reply(sb.String())
	return nil
}
