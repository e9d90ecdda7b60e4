package bridge

import (
	"fmt"
	"log/slog"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/slack-go/slack"
)

const slackMaxMsgLen = 4000

// Slack mirrors messages into a Slack channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// SlackConfig configures the Slack mirror.
type SlackConfig struct {
	BotToken string
	Channel  string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		client:  slack.New(cfg.BotToken),
		channel: cfg.Channel,
		logger:  logger,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Forward(msg domain.Message) error {
	for _, chunk := range splitMessage(Format(msg), slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(
			s.channel,
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}
