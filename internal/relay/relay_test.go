package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcbridge/internal/rcon"
)

const password = "secret"

// gameServer accepts RCON sessions and records every non-probe command.
type gameServer struct {
	ln net.Listener

	mu       sync.Mutex
	commands []string
	accepted int
	conns    []net.Conn
}

func newGameServer(t *testing.T) *gameServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &gameServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.accepted++
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *gameServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *gameServer) serve(conn net.Conn) {
	defer conn.Close()
	dec := rcon.NewDecoder(conn, 0)
	for {
		f, err := dec.Next()
		if err != nil {
			return
		}
		var reply rcon.Frame
		switch {
		case f.Type == rcon.TypeAuth && f.Body == password:
			reply = rcon.Frame{ID: f.ID, Type: rcon.TypeAuthResponse}
		case f.Type == rcon.TypeAuth:
			reply = rcon.Frame{ID: -1, Type: rcon.TypeAuthResponse}
		case f.Body == "":
			reply = rcon.Frame{ID: f.ID, Type: rcon.TypeResponseValue}
		default:
			s.mu.Lock()
			s.commands = append(s.commands, f.Body)
			s.mu.Unlock()
			reply = rcon.Frame{ID: f.ID, Type: rcon.TypeResponseValue, Body: "ok"}
		}
		if _, err := conn.Write(rcon.Encode(reply)); err != nil {
			return
		}
	}
}

// dropAll closes every server-side connection.
func (s *gameServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *gameServer) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...), s.accepted
}

type recorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *recorder) CommandSent(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestRelay_Say(t *testing.T) {
	s := newGameServer(t)
	rec := &recorder{}
	r := New(Config{Host: "127.0.0.1", Port: s.port(), Password: password}, WithRecorder(rec))
	defer r.Close()

	require.NoError(t, r.Say(context.Background(), "Alice", "hello"))
	require.NoError(t, r.Say(context.Background(), "Bob", "hi"))

	cmds, accepted := s.snapshot()
	assert.Equal(t, []string{
		`tellraw @a [{"text":"<Alice> hello","color":"white"}]`,
		`tellraw @a [{"text":"<Bob> hi","color":"white"}]`,
	}, cmds)
	assert.Equal(t, 1, accepted, "session is reused")
	assert.Equal(t, []error{nil, nil}, rec.errs)
}

func TestRelay_SayValidates(t *testing.T) {
	r := New(Config{Host: "127.0.0.1", Port: 1, Password: password})
	assert.ErrorIs(t, r.Say(context.Background(), "  ", "x"), ErrInvalidMessage)
	assert.ErrorIs(t, r.Say(context.Background(), "Alice", ""), ErrInvalidMessage)
}

func TestRelay_WrongPassword(t *testing.T) {
	s := newGameServer(t)
	r := New(Config{Host: "127.0.0.1", Port: s.port(), Password: "nope"})
	defer r.Close()

	assert.ErrorIs(t, r.Ping(context.Background()), rcon.ErrAuth)
	cmds, _ := s.snapshot()
	assert.Empty(t, cmds)
}

func TestRelay_RedialsAfterConnectionLoss(t *testing.T) {
	s := newGameServer(t)
	r := New(Config{Host: "127.0.0.1", Port: s.port(), Password: password, Timeout: time.Second})
	defer r.Close()

	require.NoError(t, r.Ping(context.Background()))
	s.dropAll()

	err := r.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, rcon.ErrIO) || errors.Is(err, rcon.ErrClosed), err)

	require.NoError(t, r.Ping(context.Background()))
	_, accepted := s.snapshot()
	assert.Equal(t, 2, accepted)
}

func TestRelay_PortResolver(t *testing.T) {
	s := newGameServer(t)
	r := New(Config{Host: "127.0.0.1", Password: password},
		WithPortResolver(func(context.Context) (int, error) { return s.port(), nil }))
	defer r.Close()
	require.NoError(t, r.Ping(context.Background()))

	boom := errors.New("container not running")
	r2 := New(Config{Host: "127.0.0.1", Password: password},
		WithPortResolver(func(context.Context) (int, error) { return 0, boom }))
	assert.ErrorIs(t, r2.Ping(context.Background()), boom)
}

func TestRelay_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	r := New(Config{Host: "127.0.0.1", Port: port, Password: password})
	assert.ErrorIs(t, r.Ping(context.Background()), rcon.ErrIO)
	assert.NoError(t, r.Close())
}

func TestRelay_MessageTooLong(t *testing.T) {
	r := New(Config{Host: "127.0.0.1", Port: 1, Password: password})
	long := make([]byte, rcon.MaxCommandLength)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, r.Say(context.Background(), "Alice", string(long)), ErrMessageTooLong)
}

func TestRelay_MaxFrameLength(t *testing.T) {
	s := newGameServer(t)

	// an empty auth frame fits in 10 bytes, the "ok" reply needs 12
	tight := New(Config{Host: "127.0.0.1", Port: s.port(), Password: password, MaxFrameLength: 11})
	defer tight.Close()
	assert.ErrorIs(t, tight.Ping(context.Background()), rcon.ErrProtocol)

	roomy := New(Config{Host: "127.0.0.1", Port: s.port(), Password: password, MaxFrameLength: 12})
	defer roomy.Close()
	assert.NoError(t, roomy.Ping(context.Background()))
}
