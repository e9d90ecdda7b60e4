package domain

import "time"

// MessageType classifies a direct-message item.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeMedia      MessageType = "media"
	TypeMediaShare MessageType = "media_share"
	TypeReaction   MessageType = "reaction"
	TypeHashtag    MessageType = "hashtag"
	TypeLocation   MessageType = "location"
	TypeProfile    MessageType = "profile"
	TypeVoice      MessageType = "voice"
	TypeAnimated   MessageType = "animated"
	TypeUnknown    MessageType = "unknown"
)

// Message is the canonical inbound message, produced by the normalizer from
// either a realtime event or a polled thread item.
type Message struct {
	ID           string
	ThreadID     string
	SenderID     int64
	SenderHandle string // lowercased username, empty when unresolved
	Text         string
	Type         MessageType
	Timestamp    time.Time
	Raw          any // original provider payload, read-only downstream
}
