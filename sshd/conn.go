package sshd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ChrisTaylor17/society/domain"
	"github.com/ChrisTaylor17/society/protocol"
)

var (
	ErrSlowConsumer = errors.New("send buffer full")
	ErrClosed       = errors.New("connection closed")
)

const prompt = "> "

// Conn is one ssh shell session. Outbound frames are rendered as terminal
// lines above the prompt; typed lines are submitted as sendMessage events.
type Conn struct {
	id        string
	user      string
	ch        io.ReadWriteCloser
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lifecycle domain.Lifecycle

	// mu serializes terminal writes and guards editor.
	mu     sync.Mutex
	editor lineEditor
}

func newConn(id, user string, ch io.ReadWriteCloser, bufSize int, l domain.Lifecycle) *Conn {
	return &Conn{
		id:        id,
		user:      user,
		ch:        ch,
		send:      make(chan []byte, bufSize),
		done:      make(chan struct{}),
		lifecycle: l,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("slow consumer closed", "clientId", c.id, "transport", "ssh")
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ch.Close()
	})
	return err
}

func (c *Conn) run() {
	c.write(fmt.Sprintf("=== Explorer Chat ===\r\nConnected as: %s\r\nType a message and press Enter. Ctrl+C to quit.\r\n\r\n%s", c.user, prompt))

	c.lifecycle.Connect(c)
	go c.writePump()

	c.readLoop()
	c.lifecycle.Disconnect(c)
	c.Close()
}

func (c *Conn) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := c.ch.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("ssh read error", "clientId", c.id, "error", err)
			}
			return
		}

		for _, b := range buf[:n] {
			if quit := c.key(b); quit {
				c.write("\r\nGoodbye!\r\n")
				return
			}
		}
	}
}

// key applies one input byte and reports whether the user asked to leave.
func (c *Conn) key(b byte) bool {
	c.mu.Lock()
	var line string
	switch c.editor.feed(b) {
	case keyEcho:
		c.ch.Write([]byte{b})
	case keyErase:
		c.ch.Write([]byte("\b \b"))
	case keyQuit:
		c.mu.Unlock()
		return true
	case keySubmit:
		line = c.editor.take()
		c.ch.Write([]byte("\r\x1b[K" + prompt))
	}
	c.mu.Unlock()

	if strings.TrimSpace(line) == "" {
		return false
	}
	data, err := protocol.Encode(protocol.SendMessage{User: c.user, Text: line})
	if err != nil {
		slog.Warn("marshal error", "clientId", c.id, "error", err)
		return false
	}
	c.lifecycle.Handle(c, data)
	return false
}

func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			line, ok := render(data)
			if !ok {
				continue
			}
			c.mu.Lock()
			_, err := c.ch.Write([]byte("\r\x1b[K" + line + "\r\n" + prompt + c.editor.String()))
			c.mu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch.Write([]byte(s))
}

// render turns an outbound frame into one terminal line.
func render(data []byte) (string, bool) {
	ev, err := protocol.Decode(data)
	if err != nil {
		return "", false
	}

	switch e := ev.(type) {
	case protocol.Message:
		ts := time.UnixMilli(e.Timestamp).Format("15:04:05")
		return fmt.Sprintf("[%s] %s: %s", ts, printable(e.User), printable(e.Text)), true
	case protocol.Presence:
		return fmt.Sprintf("* %d online", e.Count), true
	}
	return "", false
}

// printable strips control characters so untrusted text cannot drive the
// remote terminal.
func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

type keyAction int

const (
	keyNone keyAction = iota
	keyEcho
	keyErase
	keySubmit
	keyQuit
)

type lineEditor struct {
	buf []byte
}

func (e *lineEditor) feed(b byte) keyAction {
	switch {
	case b == '\r' || b == '\n':
		return keySubmit
	case b == 3 || b == 4:
		return keyQuit
	case b == 127 || b == 8:
		if len(e.buf) == 0 {
			return keyNone
		}
		_, size := utf8.DecodeLastRune(e.buf)
		e.buf = e.buf[:len(e.buf)-size]
		return keyErase
	case b >= 32:
		e.buf = append(e.buf, b)
		return keyEcho
	}
	return keyNone
}

func (e *lineEditor) take() string {
	s := string(e.buf)
	e.buf = e.buf[:0]
	return s
}

func (e *lineEditor) String() string { return string(e.buf) }
