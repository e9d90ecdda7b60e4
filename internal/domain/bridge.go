package domain

// Bridge mirrors non-command messages to a secondary notification channel.
type Bridge interface {
	Name() string
	Forward(msg Message) error
}
