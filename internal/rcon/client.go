// Package rcon implements the client side of the Minecraft/Source RCON
// protocol: password authentication followed by serialized command execution.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticated
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// aLongTimeAgo is a non-zero deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Client is one RCON session over one TCP connection. Requests are serialized;
// Close may be called concurrently with an in-flight request.
type Client struct {
	addr        string
	debug       bool
	log         *zap.Logger
	maxFrameLen int

	reqMu sync.Mutex // held for a whole request/response exchange
	dec   *Decoder   // only touched under reqMu

	mu         sync.Mutex
	conn       net.Conn
	state      state
	authFailed bool
	nextID     int32
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDebug logs every frame sent and received (never payload contents of auth frames).
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

func WithMaxFrameLength(n int) Option {
	return func(c *Client) { c.maxFrameLen = n }
}

// Dial connects to host:port. Connection failures are returned wrapped in
// ErrIO and are not retried.
func Dial(ctx context.Context, host string, port int, opts ...Option) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrIO, addr, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an already established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		addr: conn.RemoteAddr().String(),
		log:  zap.NewNop(),
		conn: conn,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("rcon", c.addr))
	c.dec = NewDecoder(conn, c.maxFrameLen)
	return c
}

// Addr returns the remote address.
func (c *Client) Addr() string { return c.addr }

// Authenticated reports whether Authenticate has succeeded and the client is open.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

// Authenticate logs in with password. A rejected password returns ErrAuth and
// leaves the connection unusable; calling it again after success is a no-op.
func (c *Client) Authenticate(ctx context.Context, password string) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	switch {
	case c.state == stateClosed:
		c.mu.Unlock()
		return ErrClosed
	case c.authFailed:
		c.mu.Unlock()
		return fmt.Errorf("%w: connection already rejected credentials", ErrAuth)
	case c.state == stateAuthenticated:
		c.mu.Unlock()
		return nil
	}
	id := c.allocID()
	c.mu.Unlock()

	stop := c.watch(ctx)
	defer stop()

	if err := c.send(ctx, Encode(Frame{ID: id, Type: TypeAuth, Body: password})); err != nil {
		return err
	}
	c.trace("send", Frame{ID: id, Type: TypeAuth})

	// Servers disagree on the auth response type: Minecraft answers with a
	// single type 2 frame, others with type 0, and Source sends an empty type 0
	// frame followed by the type 2 verdict. After a type 0 frame an empty probe
	// settles it: a -1 ahead of the probe's echo is still a rejection.
	var probe int32
	for {
		f, err := c.recv(ctx)
		if err != nil {
			return err
		}
		switch {
		case f.ID == -1:
			c.mu.Lock()
			c.authFailed = true
			c.mu.Unlock()
			c.log.Warn("rcon authentication rejected")
			return ErrAuth
		case probe != 0 && f.ID == probe:
			return c.authenticated()
		case f.ID == id && f.Type == TypeResponseValue && probe == 0:
			c.mu.Lock()
			probe = c.allocID()
			c.mu.Unlock()
			if err := c.send(ctx, Encode(Frame{ID: probe, Type: TypeExecCommand})); err != nil {
				return err
			}
			c.trace("send", Frame{ID: probe, Type: TypeExecCommand})
		case f.ID == id && probe == 0:
			return c.authenticated()
		case f.ID == id:
			// verdict frame of a Source server; the probe echo follows
		default:
			return c.abort(fmt.Errorf("%w: unexpected frame id %d during auth (want %d)", ErrProtocol, f.ID, id))
		}
	}
}

func (c *Client) authenticated() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return ErrClosed
	}
	c.state = stateAuthenticated
	c.log.Debug("rcon authenticated")
	return nil
}

// Execute runs command and returns the server's full textual response,
// reassembled across as many frames as the server split it into.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if len(command) > MaxCommandLength {
		return "", fmt.Errorf("%w: command is %d bytes, limit is %d", ErrProtocol, len(command), MaxCommandLength)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return "", ErrClosed
	case stateUnauthenticated:
		c.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	resp := &response{id: c.allocID()}
	resp.probe = c.allocID()
	c.mu.Unlock()

	stop := c.watch(ctx)
	defer stop()

	// The empty probe is answered only after the command's last fragment,
	// so its echo marks the end of the response.
	req := Encode(Frame{ID: resp.id, Type: TypeExecCommand, Body: command})
	req = append(req, Encode(Frame{ID: resp.probe, Type: TypeExecCommand})...)
	if err := c.send(ctx, req); err != nil {
		return "", err
	}
	c.trace("send", Frame{ID: resp.id, Type: TypeExecCommand, Body: command})

	for {
		f, err := c.recv(ctx)
		if err != nil {
			return "", err
		}
		done, err := resp.accept(f)
		if err != nil {
			return "", c.abort(err)
		}
		if done {
			if c.debug {
				c.log.Debug("rcon response complete", zap.Int32("id", resp.id), zap.Int("fragments", resp.frags))
			}
			return resp.body.String(), nil
		}
	}
}

// Close tears down the connection. It is idempotent and unblocks any
// in-flight request, which then fails with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrIO, err)
	}
	c.log.Debug("rcon connection closed")
	return nil
}

// response reassembles the fragments of one command reply.
type response struct {
	id    int32
	probe int32
	body  strings.Builder
	frags int
}

func (r *response) accept(f Frame) (bool, error) {
	switch f.ID {
	case r.id:
		r.body.WriteString(f.Body)
		r.frags++
		return false, nil
	case r.probe:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unexpected frame id %d (want %d or probe %d)", ErrProtocol, f.ID, r.id, r.probe)
	}
}

// allocID returns the next request id, skipping 0 and the reserved -1. Requires mu.
func (c *Client) allocID() int32 {
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	return c.nextID
}

// watch aborts blocked socket I/O once ctx is done, so ctx.Err() is always
// set by the time the failed read surfaces. The returned func must run before
// the exchange lock is released.
func (c *Client) watch(ctx context.Context) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})
	return func() {
		if !stop() {
			<-fired
		}
		_ = c.conn.SetDeadline(time.Time{})
	}
}

func (c *Client) send(ctx context.Context, b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return c.transportErr(ctx, "write", err)
	}
	return nil
}

func (c *Client) recv(ctx context.Context) (Frame, error) {
	f, err := c.dec.Next()
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			return Frame{}, c.abort(err)
		}
		return Frame{}, c.transportErr(ctx, "read", err)
	}
	c.trace("recv", f)
	return f, nil
}

// transportErr classifies a socket error. A close racing the exchange wins;
// otherwise the stream position is unknown and the client shuts itself down.
func (c *Client) transportErr(ctx context.Context, op string, err error) error {
	c.mu.Lock()
	closed := c.state == stateClosed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %s interrupted", ErrClosed, op)
	}
	_ = c.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrIO, op, ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

func (c *Client) abort(err error) error {
	c.log.Warn("rcon protocol violation, closing connection", zap.Error(err))
	_ = c.Close()
	return err
}

func (c *Client) trace(dir string, f Frame) {
	if !c.debug {
		return
	}
	fields := []zap.Field{
		zap.String("dir", dir),
		zap.Int32("id", f.ID),
		zap.Int32("type", f.Type),
		zap.Int("bytes", len(f.Body)),
	}
	if f.Type != TypeAuth {
		fields = append(fields, zap.String("body", f.Body))
	}
	c.log.Debug("rcon frame", fields...)
}
