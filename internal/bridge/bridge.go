package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

// Format renders an inbound message for a mirror channel: the sender handle
// in brackets, then the text. Senders without a resolved handle show their
// numeric id.
func Format(msg domain.Message) string {
	who := msg.SenderHandle
	if who == "" {
		who = fmt.Sprintf("%d", msg.SenderID)
	}
	return fmt.Sprintf("[%s] %s", who, msg.Text)
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// Multi fans a message out to several bridges. A failing bridge never stops
// the others; all failures are reported together.
type Multi struct {
	bridges []domain.Bridge
	logger  *slog.Logger
}

func NewMulti(logger *slog.Logger, bridges ...domain.Bridge) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{bridges: bridges, logger: logger}
}

func (m *Multi) Name() string { return "multi" }

// Bridges returns the wrapped bridges.
func (m *Multi) Bridges() []domain.Bridge { return m.bridges }

func (m *Multi) Forward(msg domain.Message) error {
	var errs []error
	for _, b := range m.bridges {
		if err := b.Forward(msg); err != nil {
			m.logger.Error("bridge forward failed", "bridge", b.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
