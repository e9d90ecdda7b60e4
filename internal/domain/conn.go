package domain

import "time"

// Sender is the outbound capability of the connection layer. Every operation
// is best-effort: failures are logged by the implementation and reported only
// through the return value, never as errors.
type Sender interface {
	SendText(threadID, text string) bool
	SendReaction(threadID, itemID, emoji string) bool
	MarkSeen(threadID, itemID string) bool
	SetTyping(threadID string, active bool) bool
}

// ConnStats is a read-only snapshot of the connection layer.
type ConnStats struct {
	State             string
	Connected         bool // realtime push channel live
	Polling           bool
	ReconnectAttempts int
	Watermark         time.Time // poll dedup cursor, zero outside polling
}
