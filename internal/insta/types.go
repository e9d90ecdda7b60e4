package insta

// InboxResponse is the direct_v2 inbox page: the baseline for the realtime
// subscription (SeqID, SnapshotAtMs) and the poll source.
type InboxResponse struct {
	Inbox struct {
		Threads []Thread `json:"threads"`
	} `json:"inbox"`
	SeqID        int64  `json:"seq_id"`
	SnapshotAtMs int64  `json:"snapshot_at_ms"`
	Status       string `json:"status"`
}

// Thread is one conversation, ordered most-recently-active first in the inbox.
type Thread struct {
	ThreadID       string       `json:"thread_id"`
	ThreadTitle    string       `json:"thread_title"`
	Users          []ThreadUser `json:"users"`
	Items          []ThreadItem `json:"items"`
	LastActivityAt int64        `json:"last_activity_at"` // microseconds
}

// ThreadUser is a conversation participant.
type ThreadUser struct {
	PK       int64  `json:"pk"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// ThreadItem is a single message row. Timestamp is in microseconds.
type ThreadItem struct {
	ItemID    string `json:"item_id"`
	UserID    int64  `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	ItemType  string `json:"item_type"`
	Text      string `json:"text,omitempty"`
}

// ThreadResponse wraps a single-thread fetch.
type ThreadResponse struct {
	Thread Thread `json:"thread"`
	Status string `json:"status"`
}

type loginResponse struct {
	LoggedInUser struct {
		PK       int64  `json:"pk"`
		Username string `json:"username"`
	} `json:"logged_in_user"`
	Status string `json:"status"`
}

// apiStatus is the error envelope shared by failed responses.
type apiStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// EventType tags a realtime event variant.
type EventType int

const (
	EventMessage EventType = iota
	EventThreadUpdate
	EventTyping
	EventError
	EventDisconnect
	EventWarning
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventThreadUpdate:
		return "thread_update"
	case EventTyping:
		return "typing"
	case EventError:
		return "error"
	case EventDisconnect:
		return "disconnect"
	case EventWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is one realtime occurrence. The populated fields depend on Type:
// Message carries ThreadID+Item, ThreadUpdate carries ThreadID+Users,
// Typing carries ThreadID+SenderID, Error carries Err, Disconnect and
// Warning carry Reason.
type Event struct {
	Type     EventType
	ThreadID string
	Item     *ThreadItem
	Users    []ThreadUser
	SenderID int64
	Err      error
	Reason   string
}
