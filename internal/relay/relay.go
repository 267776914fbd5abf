// Package relay sends chat from outside integrations into the game over RCON.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/game/minecraft"
	"github.com/reedfamily/mcbridge/internal/rcon"
)

var (
	ErrInvalidMessage = errors.New("relay: username and message are required")
	ErrMessageTooLong = errors.New("relay: message too long for one command")
)

// PortResolver finds the RCON port at dial time, e.g. from a container's
// published ports.
type PortResolver func(ctx context.Context) (int, error)

// Recorder is told the outcome of every command sent.
type Recorder interface {
	CommandSent(err error)
}

type Config struct {
	Host     string
	Port     int
	Password string
	// Timeout bounds dial, authentication and each command.
	Timeout time.Duration
	Debug   bool
	// MaxFrameLength caps one response frame; 0 keeps rcon.DefaultMaxFrameLength.
	MaxFrameLength int
}

// Relay owns at most one RCON session, dialled on first use. A session that
// fails is dropped and the error returned; the next call dials afresh.
type Relay struct {
	cfg      Config
	resolve  PortResolver
	recorder Recorder
	log      *zap.Logger

	mu     sync.Mutex
	client *rcon.Client
}

type Option func(*Relay)

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

func WithPortResolver(fn PortResolver) Option {
	return func(r *Relay) { r.resolve = fn }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Relay) { r.recorder = rec }
}

func New(cfg Config, opts ...Option) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	r := &Relay{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Say shows message in game chat as if username had typed it.
func (r *Relay) Say(ctx context.Context, username, message string) error {
	username = strings.TrimSpace(username)
	if username == "" || message == "" {
		return ErrInvalidMessage
	}
	cmd, err := minecraft.TellrawCommand(username, message)
	if err != nil {
		return err
	}
	if len(cmd) > rcon.MaxCommandLength {
		return ErrMessageTooLong
	}
	_, err = r.Execute(ctx, cmd)
	return err
}

// Ping checks the server answers commands.
func (r *Relay) Ping(ctx context.Context) error {
	_, err := r.Execute(ctx, minecraft.ListCommand)
	return err
}

func (r *Relay) Execute(ctx context.Context, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	out, err := r.execute(ctx, command)
	if r.recorder != nil {
		r.recorder.CommandSent(err)
	}
	return out, err
}

func (r *Relay) execute(ctx context.Context, command string) (string, error) {
	c, err := r.session(ctx)
	if err != nil {
		return "", err
	}
	out, err := c.Execute(ctx, command)
	if err != nil && !c.Authenticated() {
		// the client closed itself; the next call starts a new session
		r.log.Warn("rcon session lost", zap.String("addr", c.Addr()), zap.Error(err))
		r.client = nil
	}
	return out, err
}

// session returns the live client, dialling and authenticating if needed. Requires mu.
func (r *Relay) session(ctx context.Context) (*rcon.Client, error) {
	if r.client != nil && r.client.Authenticated() {
		return r.client, nil
	}
	r.client = nil

	port := r.cfg.Port
	if r.resolve != nil {
		p, err := r.resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve rcon port: %w", err)
		}
		port = p
	}
	c, err := rcon.Dial(ctx, r.cfg.Host, port,
		rcon.WithLogger(r.log),
		rcon.WithDebug(r.cfg.Debug),
		rcon.WithMaxFrameLength(r.cfg.MaxFrameLength),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Authenticate(ctx, r.cfg.Password); err != nil {
		c.Close()
		return nil, err
	}
	r.log.Info("rcon session established", zap.String("addr", c.Addr()))
	r.client = c
	return c, nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
