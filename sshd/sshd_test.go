package sshd

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/ChrisTaylor17/society/domain"
	"github.com/ChrisTaylor17/society/hub"
	"github.com/ChrisTaylor17/society/protocol"
	"github.com/ChrisTaylor17/society/registry"
	"github.com/ChrisTaylor17/society/session"
)

func TestLoadOrGenerateHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_key")

	generated, err := LoadOrGenerateHostKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrGenerateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, generated.PublicKey().Marshal(), loaded.PublicKey().Marshal())
}

func TestLoadOrGenerateHostKey_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := LoadOrGenerateHostKey(path)
	assert.Error(t, err)
}

func TestLineEditor(t *testing.T) {
	var e lineEditor

	for _, b := range []byte("hey") {
		assert.Equal(t, keyEcho, e.feed(b))
	}
	assert.Equal(t, keyErase, e.feed(127))
	assert.Equal(t, "he", e.String())

	for _, b := range []byte("é") {
		e.feed(b)
	}
	assert.Equal(t, keyErase, e.feed(8))
	assert.Equal(t, "he", e.String())

	assert.Equal(t, keyNone, e.feed(0x1b))
	assert.Equal(t, keySubmit, e.feed('\r'))
	assert.Equal(t, "he", e.take())
	assert.Empty(t, e.String())
	assert.Equal(t, keyNone, e.feed(127))
	assert.Equal(t, keyQuit, e.feed(3))
	assert.Equal(t, keyQuit, e.feed(4))
}

func TestRender(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)

	msg, err := protocol.Encode(protocol.Message{ChatMessage: domain.ChatMessage{
		ID: "m1", User: "alice", Text: "hi\x1b[2Jthere", Timestamp: ts.UnixMilli(),
	}})
	require.NoError(t, err)
	line, ok := render(msg)
	require.True(t, ok)
	assert.Equal(t, "[15:04:05] alice: hi[2Jthere", line)

	presence, err := protocol.Encode(protocol.Presence{Count: 3})
	require.NoError(t, err)
	line, ok = render(presence)
	require.True(t, ok)
	assert.Equal(t, "* 3 online", line)

	pong, err := protocol.Encode(protocol.Pong{Timestamp: 1})
	require.NoError(t, err)
	_, ok = render(pong)
	assert.False(t, ok)
}

type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_Session(t *testing.T) {
	signer, err := LoadOrGenerateHostKey(filepath.Join(t.TempDir(), "host_key"))
	require.NoError(t, err)

	r := registry.New()
	srv := NewServer(signer, session.New(r, hub.New(r)), 16)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	client, err := ssh.Dial("tcp", ln.Addr().String(), &ssh.ClientConfig{
		User:            "alice",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	sess, err := client.NewSession()
	require.NoError(t, err)
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	out := &lockedBuffer{}
	sess.Stdout = out
	require.NoError(t, sess.Shell())

	assert.Eventually(t, func() bool {
		return r.Count() == 1 && strings.Contains(out.String(), "* 1 online")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "Connected as: alice")

	_, err = stdin.Write([]byte("hello there\r"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "alice: hello there")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = stdin.Write([]byte{3})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
