package domain

// HandlerFunc executes a command with its whitespace-split arguments.
type HandlerFunc func(args []string, ctx *Context) error

// Command describes a single registered command.
type Command struct {
	Name        string
	Description string
	Usage       string
	AdminOnly   bool
	Handler     HandlerFunc
	Module      string // owning module, stamped at registration
}

// Context gives a handler reply capabilities bound to the triggering message.
// All operations are best-effort; the boolean reports delivery success.
type Context struct {
	Message Message
	sender  Sender
}

// NewContext binds a message to a send capability.
func NewContext(msg Message, s Sender) *Context {
	return &Context{Message: msg, sender: s}
}

// Reply sends text to the message's thread.
func (c *Context) Reply(text string) bool {
	return c.sender.SendText(c.Message.ThreadID, text)
}

// React attaches an emoji reaction to the triggering message.
func (c *Context) React(emoji string) bool {
	return c.sender.SendReaction(c.Message.ThreadID, c.Message.ID, emoji)
}

// SetTyping toggles the typing indicator in the message's thread.
func (c *Context) SetTyping(active bool) bool {
	return c.sender.SetTyping(c.Message.ThreadID, active)
}
