package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChrisTaylor17/society/domain"
)

// Event names on the wire.
const (
	EventSendMessage = "sendMessage"
	EventMessage     = "message"
	EventUserCount   = "userCount"
	EventPing        = "ping"
	EventPong        = "pong"
)

var (
	ErrMalformed    = errors.New("malformed event")
	ErrUnknownEvent = errors.New("unknown event")
)

// Event is one of SendMessage, Ping, Message, Presence or Pong.
type Event interface {
	Name() string
}

// SendMessage is a client request to broadcast text.
type SendMessage struct {
	User string `json:"user,omitempty"`
	Text string `json:"text"`
}

// Ping asks the server to echo Timestamp back in a Pong.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Message carries a stamped chat message to every connection.
type Message struct {
	domain.ChatMessage
}

// Presence carries the online count. It is encoded as a bare integer.
type Presence struct {
	Count int
}

func (SendMessage) Name() string { return EventSendMessage }
func (Ping) Name() string        { return EventPing }
func (Pong) Name() string        { return EventPong }
func (Message) Name() string     { return EventMessage }
func (Presence) Name() string    { return EventUserCount }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps ev in its wire envelope.
func Encode(ev Event) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case Presence:
		payload = e.Count
	case Message:
		payload = e.ChatMessage
	default:
		payload = ev
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(envelope{Event: ev.Name(), Data: data})
}

// Decode parses a wire envelope into its typed event.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}

	switch env.Event {
	case EventSendMessage:
		return decodeData[SendMessage](env)
	case EventPing:
		return decodeData[Ping](env)
	case EventPong:
		return decodeData[Pong](env)
	case EventMessage:
		msg, err := decodeData[domain.ChatMessage](env)
		if err != nil {
			return nil, err
		}
		return Message{ChatMessage: msg}, nil
	case EventUserCount:
		count, err := decodeData[int](env)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, fmt.Errorf("%w: negative count %d", ErrMalformed, count)
		}
		return Presence{Count: count}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeData[T any](env envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, fmt.Errorf("%w: %s without data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return v, nil
}
