package bridge

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord mirrors messages into a Discord channel over the REST API; no
// gateway session is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// DiscordConfig configures the Discord mirror.
type DiscordConfig struct {
	Token     string
	ChannelID string
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	return &Discord{session: session, channelID: cfg.ChannelID, logger: logger}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Forward(msg domain.Message) error {
	for _, chunk := range splitMessage(Format(msg), discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(d.channelID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
