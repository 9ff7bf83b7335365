package sshd

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/ChrisTaylor17/society/domain"
)

// Server lets terminal users join the chat with a plain ssh client. Any user
// name is accepted and used as the display name.
type Server struct {
	config    *ssh.ServerConfig
	lifecycle domain.Lifecycle
	bufSize   int

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(hostKey ssh.Signer, l domain.Lifecycle, bufSize int) *Server {
	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(hostKey)

	if bufSize <= 0 {
		bufSize = 256
	}
	return &Server{config: config, lifecycle: l, bufSize: bufSize}
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections until the listener is closed. It returns nil
// after Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("ssh server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		slog.Debug("ssh handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Warn("ssh channel accept failed", "error", err)
			continue
		}
		go s.handleSession(channel, requests, sshConn.User())
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, user string) {
	started := false
	for req := range requests {
		switch req.Type {
		case "shell":
			req.Reply(!started, nil)
			if !started {
				started = true
				c := newConn(uuid.NewString(), user, channel, s.bufSize, s.lifecycle)
				go c.run()
			}
		case "pty-req", "window-change", "env":
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
	if !started {
		channel.Close()
	}
}
