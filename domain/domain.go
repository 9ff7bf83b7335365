package domain

// AnonymousUser is the display name used when a sender omits one.
const AnonymousUser = "Anonymous"

// ChatMessage is one broadcast chat event. It is built by the hub and never
// mutated afterwards.
type ChatMessage struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Connection is a live client session as seen by the core. Send must not
// block: transports buffer outbound frames and report failure instead.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Lifecycle receives transport-level events for a connection.
type Lifecycle interface {
	Connect(conn Connection)
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}
