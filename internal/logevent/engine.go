// Package logevent turns a live stream of server log lines into classified
// game events delivered to a single registered handler.
package logevent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/game"
	"github.com/reedfamily/mcbridge/internal/game/minecraft"
)

var (
	ErrAlreadyStarted = errors.New("logevent: engine already started")
	ErrTornDown       = errors.New("logevent: engine torn down")
	// ErrSourceEnded is reported when a line source stops without a teardown.
	ErrSourceEnded = errors.New("logevent: line source ended unexpectedly")
)

// SourceMode selects where lines come from.
type SourceMode string

const (
	// SourceProcess reads an attached process's standard output.
	SourceProcess SourceMode = "process"
	// SourceFile tails an append-only log file from its current end.
	SourceFile SourceMode = "file"
	// SourceDocker follows a container's log stream.
	SourceDocker SourceMode = "docker"
	// SourceWebhook accepts lines POSTed over HTTP.
	SourceWebhook SourceMode = "webhook"
)

func (m SourceMode) Valid() bool {
	switch m {
	case SourceProcess, SourceFile, SourceDocker, SourceWebhook:
		return true
	}
	return false
}

// Config is the snapshot an Engine is built from. Changing it afterwards has
// no effect on a running engine.
type Config struct {
	SourceMode  SourceMode
	FilePath    string
	WaitForFile bool

	ShowConnectionStatus bool
	ShowMeCommand        bool
	ShowDeathMessages    bool
	ShowAdvancements     bool
	DeathMessageRegex    string
	ServerName           string

	// Debug logs every received line; classification is unaffected.
	Debug bool
}

func (c Config) ClassifierOptions() minecraft.Options {
	return minecraft.Options{
		ShowConnectionStatus: c.ShowConnectionStatus,
		ShowMeCommand:        c.ShowMeCommand,
		ShowDeathMessages:    c.ShowDeathMessages,
		ShowAdvancements:     c.ShowAdvancements,
		DeathMessageRegex:    c.DeathMessageRegex,
		ServerName:           c.ServerName,
	}
}

// Handler receives exactly one call per line, including null-classified ones.
// It may call Engine.Teardown.
type Handler func(game.LogLine)

// LineSource provides sequential text lines.
type LineSource interface {
	// Run calls fn for each line, in order, on the calling goroutine, until ctx
	// is done, Close is called or the source fails. A stop caused by ctx or
	// Close returns nil.
	Run(ctx context.Context, fn func(line string)) error
	Close() error
}

// opener is implemented by sources that can fail fast before Run starts.
type opener interface {
	Open() error
}

// Engine classifies lines from one LineSource. It is single-use: once torn
// down it cannot be started again.
type Engine struct {
	cfg        Config
	src        LineSource
	classifier game.Classifier
	log        *zap.Logger

	mu       sync.Mutex
	started  bool
	tornDown bool
	cancel   context.CancelFunc
	handler  Handler
	err      error

	active    atomic.Bool
	closeSrc  sync.Once
	closeDone sync.Once
	done      chan struct{}
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClassifier replaces the Minecraft classifier built from Config.
func WithClassifier(c game.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// New builds an engine over src. An invalid death message regex is an error.
func New(cfg Config, src LineSource, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, errors.New("logevent: nil line source")
	}
	e := &Engine{
		cfg:  cfg,
		src:  src,
		log:  zap.NewNop(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		c, err := minecraft.NewClassifier(cfg.ClassifierOptions())
		if err != nil {
			return nil, fmt.Errorf("logevent: %w", err)
		}
		e.classifier = c
	}
	return e, nil
}

// Init starts consuming the source and delivering events to h.
func (e *Engine) Init(h Handler) error {
	if h == nil {
		return errors.New("logevent: nil handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.tornDown:
		return ErrTornDown
	case e.started:
		return ErrAlreadyStarted
	}

	if o, ok := e.src.(opener); ok {
		if err := o.Open(); err != nil {
			return fmt.Errorf("logevent: open source: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.started = true
	e.cancel = cancel
	e.handler = h
	e.active.Store(true)
	go e.run(ctx)

	e.log.Info("log event engine started", zap.String("source", string(e.cfg.SourceMode)))
	return nil
}

// ParseLogLine classifies one raw line without side effects.
func (e *Engine) ParseLogLine(raw string) game.LogLine {
	return e.classifier.ParseLogLine(raw)
}

// Teardown detaches from the source. It is idempotent, safe to call from
// inside the handler, and never waits for the delivery goroutine. Delivery
// checks the active flag before classifying and again just before the
// handler, so once it returns no further line is classified. Called from
// another goroutine, one line that already passed the second check may still
// reach the handler; called from the handler, nothing follows.
func (e *Engine) Teardown() {
	e.active.Store(false)

	e.mu.Lock()
	e.tornDown = true
	started := e.started
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.closeSource()
	if !started {
		e.closeDone.Do(func() { close(e.done) })
	}
}

// Done is closed once the engine has stopped, whether by Teardown or by a
// source failure.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the source failure that ended the subscription, or nil if it
// ended by Teardown or is still running.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Active reports whether events are currently being delivered.
func (e *Engine) Active() bool {
	return e.active.Load()
}

func (e *Engine) run(ctx context.Context) {
	err := e.src.Run(ctx, e.deliver)

	// A source stopping while still active is a failure, not a teardown.
	wasActive := e.active.Swap(false)
	if !wasActive {
		err = nil
	} else if err == nil {
		err = ErrSourceEnded
	}

	e.mu.Lock()
	e.tornDown = true
	e.err = err
	cancel := e.cancel
	e.mu.Unlock()

	if err != nil {
		e.log.Error("line source failed, subscription ended", zap.Error(err))
	} else {
		e.log.Info("log event engine stopped")
	}
	cancel()
	e.closeSource()
	e.closeDone.Do(func() { close(e.done) })
}

func (e *Engine) deliver(raw string) {
	if !e.active.Load() {
		return
	}
	if e.cfg.Debug {
		e.log.Debug("received log line", zap.String("line", raw))
	}
	ev := e.classifier.ParseLogLine(raw)
	if e.cfg.Debug && !ev.IsNull() {
		e.log.Debug("classified log line",
			zap.String("type", string(ev.Type)),
			zap.String("username", ev.Username),
		)
	}
	if !e.active.Load() {
		return
	}
	e.handler(ev)
}

func (e *Engine) closeSource() {
	e.closeSrc.Do(func() {
		if err := e.src.Close(); err != nil {
			e.log.Warn("close line source", zap.Error(err))
		}
	})
}
