package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ChrisTaylor17/society/domain"
	"github.com/ChrisTaylor17/society/hub"
	"github.com/ChrisTaylor17/society/protocol"
)

type Registry interface {
	Register(conn domain.Connection) int
	Deregister(conn domain.Connection) int
	Contains(id string) bool
}

type Broadcaster interface {
	SubmitMessage(user, text string) (domain.ChatMessage, error)
	BroadcastPresence(count int)
}

// Lifecycle turns transport events into registry mutations and hub
// broadcasts. It is the only writer of the registry. Every mutation together
// with its presence broadcast, and every submit with its fan-out, runs under
// one lock so observers never see them interleaved.
//
// A connection is Active while it is a registry member; events from
// connections that are not members are dropped.
type Lifecycle struct {
	registry Registry
	hub      Broadcaster
	mu       sync.Mutex
}

func New(r Registry, b Broadcaster) *Lifecycle {
	return &Lifecycle{registry: r, hub: b}
}

func (l *Lifecycle) Connect(conn domain.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.registry.Contains(conn.ID()) {
		slog.Debug("duplicate connect ignored", "clientId", conn.ID())
		return
	}

	count := l.registry.Register(conn)
	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
	l.hub.BroadcastPresence(count)
}

// Disconnect handles graceful and abrupt closes alike. Repeated calls are
// no-ops.
func (l *Lifecycle) Disconnect(conn domain.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.registry.Contains(conn.ID()) {
		return
	}

	count := l.registry.Deregister(conn)
	slog.Info("client disconnected", "clientId", conn.ID(), "clients", count)
	l.hub.BroadcastPresence(count)
}

// Handle decodes one inbound frame. Malformed frames are logged and dropped;
// nothing is reported back to the sender.
func (l *Lifecycle) Handle(conn domain.Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "clientId", conn.ID(), "panic", r)
		}
	}()

	ev, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	switch e := ev.(type) {
	case protocol.Ping:
		resp, err := protocol.Encode(protocol.Pong{Timestamp: e.Timestamp})
		if err != nil {
			slog.Warn("marshal error", "clientId", conn.ID(), "error", err)
			return
		}
		if err := conn.Send(resp); err != nil {
			slog.Debug("pong not delivered", "clientId", conn.ID(), "error", err)
		}
	case protocol.SendMessage:
		l.submit(conn, e)
	default:
		slog.Warn("unexpected event", "clientId", conn.ID(), "event", ev.Name())
	}
}

func (l *Lifecycle) submit(conn domain.Connection, req protocol.SendMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.registry.Contains(conn.ID()) {
		slog.Debug("message from inactive connection dropped", "clientId", conn.ID())
		return
	}

	msg, err := l.hub.SubmitMessage(req.User, req.Text)
	if err != nil {
		if errors.Is(err, hub.ErrEmptyText) {
			slog.Debug("empty message dropped", "clientId", conn.ID())
			return
		}
		slog.Warn("broadcast error", "clientId", conn.ID(), "error", err)
		return
	}
	slog.Debug("message submitted", "clientId", conn.ID(), "messageId", msg.ID)
}
