package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisTaylor17/society/domain"
	"github.com/ChrisTaylor17/society/protocol"
)

var ErrEmptyText = errors.New("empty message text")

// Members is the read-only view of the registry the hub fans out over.
type Members interface {
	Snapshot() []domain.Connection
}

type Stats struct {
	Messages   int64 `json:"messages"`
	Deliveries int64 `json:"deliveries"`
	Failed     int64 `json:"failed"`
}

// Hub stamps chat messages and delivers every event to each member of the
// registry snapshot taken at broadcast time. It never mutates membership.
type Hub struct {
	members Members
	now     func() time.Time
	newID   func() string

	mu     sync.Mutex
	lastTS int64

	messages   atomic.Int64
	deliveries atomic.Int64
	failed     atomic.Int64
}

type Option func(*Hub)

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(h *Hub) { h.newID = gen }
}

func New(members Members, opts ...Option) *Hub {
	h := &Hub{
		members: members,
		now:     time.Now,
		newID:   newMessageID,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newMessageID returns a time-ordered UUIDv7 so ids sort with their timestamps.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SubmitMessage builds a ChatMessage and delivers it to every member,
// the sender included. Blank text is rejected with ErrEmptyText and nothing
// is sent.
func (h *Hub) SubmitMessage(user, text string) (domain.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return domain.ChatMessage{}, ErrEmptyText
	}

	user = strings.TrimSpace(user)
	if user == "" {
		user = domain.AnonymousUser
	}

	msg := domain.ChatMessage{
		ID:        h.newID(),
		User:      user,
		Text:      text,
		Timestamp: h.stamp(),
	}

	data, err := protocol.Encode(protocol.Message{ChatMessage: msg})
	if err != nil {
		return msg, err
	}

	sent := h.fanOut(data)
	h.messages.Add(1)
	slog.Debug("message broadcast", "messageId", msg.ID, "user", msg.User, "recipients", sent)
	return msg, nil
}

// BroadcastPresence pushes the online count to every member.
func (h *Hub) BroadcastPresence(count int) {
	data, err := protocol.Encode(protocol.Presence{Count: count})
	if err != nil {
		slog.Warn("marshal error", "event", protocol.EventUserCount, "error", err)
		return
	}
	h.fanOut(data)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Messages:   h.messages.Load(),
		Deliveries: h.deliveries.Load(),
		Failed:     h.failed.Load(),
	}
}

// stamp returns the current time in epoch milliseconds, never earlier than
// a previously issued stamp.
func (h *Hub) stamp() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := h.now().UnixMilli()
	if ts < h.lastTS {
		ts = h.lastTS
	}
	h.lastTS = ts
	return ts
}

// fanOut makes one delivery attempt per member and returns how many succeeded.
func (h *Hub) fanOut(data []byte) int {
	sent := 0
	for _, conn := range h.members.Snapshot() {
		h.deliveries.Add(1)
		if err := send(conn, data); err != nil {
			h.failed.Add(1)
			slog.Debug("delivery failed", "clientId", conn.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

func send(conn domain.Connection, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(data)
}
