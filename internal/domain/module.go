package domain

// Module contributes commands to the bot. Commands must be pure descriptors:
// construction does any real work, Commands only reports.
type Module interface {
	Name() string
	Commands() []Command
}

// MessageProcessor is an optional module hook that observes or transforms
// every inbound message before dispatch.
type MessageProcessor interface {
	ProcessMessage(msg Message) Message
}

// Cleaner is an optional module hook invoked once at shutdown.
type Cleaner interface {
	Cleanup() error
}
