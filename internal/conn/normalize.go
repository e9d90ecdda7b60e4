package conn

import (
	"strings"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/insta"
)

// itemTypes maps provider item types onto the canonical message types.
var itemTypes = map[string]domain.MessageType{
	"text":           domain.TypeText,
	"link":           domain.TypeText,
	"media":          domain.TypeMedia,
	"raven_media":    domain.TypeMedia,
	"media_share":    domain.TypeMediaShare,
	"clip":           domain.TypeMediaShare,
	"felix_share":    domain.TypeMediaShare,
	"like":           domain.TypeReaction,
	"hashtag":        domain.TypeHashtag,
	"location":       domain.TypeLocation,
	"profile":        domain.TypeProfile,
	"voice_media":    domain.TypeVoice,
	"animated_media": domain.TypeAnimated,
}

// placeholders stand in for content the text field cannot carry.
var placeholders = map[domain.MessageType]string{
	domain.TypeMedia:      "[photo/video]",
	domain.TypeMediaShare: "[shared post]",
	domain.TypeReaction:   "[reaction]",
	domain.TypeHashtag:    "[hashtag]",
	domain.TypeLocation:   "[location]",
	domain.TypeProfile:    "[profile share]",
	domain.TypeVoice:      "[voice message]",
	domain.TypeAnimated:   "[gif]",
	domain.TypeUnknown:    "[unsupported message]",
}

// normalizeItem converts one provider item into the canonical message.
// users maps sender ids to lowercased handles; unresolved senders keep an
// empty handle.
func normalizeItem(threadID string, item *insta.ThreadItem, users map[int64]string) domain.Message {
	msgType, ok := itemTypes[item.ItemType]
	if !ok {
		msgType = domain.TypeUnknown
	}

	text := item.Text
	if text == "" {
		text = placeholders[msgType]
	}

	return domain.Message{
		ID:           item.ItemID,
		ThreadID:     threadID,
		SenderID:     item.UserID,
		SenderHandle: users[item.UserID],
		Text:         text,
		Type:         msgType,
		Timestamp:    time.UnixMicro(item.Timestamp),
		Raw:          item,
	}
}

// indexUsers folds thread participants into the handle cache.
func indexUsers(cache map[int64]string, threads ...insta.Thread) {
	for _, th := range threads {
		for _, u := range th.Users {
			if u.Username != "" {
				cache[u.PK] = strings.ToLower(u.Username)
			}
		}
	}
}
