// Package server wires the log event engine, the event feed, the RCON relay
// and the HTTP surface into one running bridge.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/api"
	"github.com/reedfamily/mcbridge/internal/auth"
	"github.com/reedfamily/mcbridge/internal/config"
	"github.com/reedfamily/mcbridge/internal/docker"
	"github.com/reedfamily/mcbridge/internal/feed"
	"github.com/reedfamily/mcbridge/internal/game"
	"github.com/reedfamily/mcbridge/internal/logevent"
	"github.com/reedfamily/mcbridge/internal/metrics"
	"github.com/reedfamily/mcbridge/internal/relay"
)

type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	router chi.Router

	engine     *logevent.Engine
	hub        *feed.Hub
	dispatcher *feed.Dispatcher
	relay      *relay.Relay
	docker     *docker.Client
	metrics    *metrics.BridgeMetrics
}

type options struct {
	stdin  io.ReadCloser
	source logevent.LineSource
}

type Option func(*options)

// WithStdin supplies the stream read in process mode.
func WithStdin(r io.ReadCloser) Option {
	return func(o *options) { o.stdin = r }
}

// WithLineSource replaces the source chosen from config.
func WithLineSource(src logevent.LineSource) Option {
	return func(o *options) { o.source = src }
}

func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.Stop()
		}
	}()

	reg := metrics.NewRegistry()
	s.metrics = metrics.NewBridgeMetrics(reg)
	s.hub = feed.NewHub(0)

	sinks, err := s.dialSinks()
	if err != nil {
		return nil, err
	}
	s.dispatcher = feed.NewDispatcher(s.hub, log.Named("feed"), s.metrics, sinks...)

	engineCfg := cfg.EngineConfig()
	src := o.source
	var hook *logevent.HookSource
	if src == nil {
		src, err = s.lineSource(engineCfg, o.stdin)
		if err != nil {
			return nil, err
		}
	}
	if h, isHook := src.(*logevent.HookSource); isHook {
		hook = h
		hook.OnFull = func() { s.metrics.HookRejected.WithLabelValues("buffer").Inc() }
	}
	s.engine, err = logevent.New(engineCfg, src, logevent.WithLogger(log.Named("engine")))
	if err != nil {
		return nil, err
	}

	if cfg.RCON.Enabled() {
		s.relay = s.newRelay()
	}

	s.router = s.routes(reg, hook)
	ok = true
	return s, nil
}

func (s *Server) dialSinks() ([]feed.Sink, error) {
	var sinks []feed.Sink
	sc := s.cfg.Sinks
	if sc.NATSURL != "" {
		n, err := feed.DialNATS(sc.NATSURL, sc.NATSSubject, s.log.Named("nats"))
		if err != nil {
			return nil, err
		}
		s.log.Info("publishing events to nats", zap.String("subject", sc.NATSSubject))
		sinks = append(sinks, n)
	}
	if sc.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := feed.DialRedis(ctx, sc.RedisAddr, sc.RedisChannel)
		if err != nil {
			for _, sk := range sinks {
				sk.Close()
			}
			return nil, err
		}
		s.log.Info("publishing events to redis", zap.String("channel", sc.RedisChannel))
		sinks = append(sinks, r)
	}
	return sinks, nil
}

func (s *Server) lineSource(cfg logevent.Config, stdin io.ReadCloser) (logevent.LineSource, error) {
	switch cfg.SourceMode {
	case logevent.SourceProcess:
		if stdin == nil {
			return nil, errors.New("process mode needs the server's output on stdin")
		}
		return logevent.NewProcessSource(stdin), nil
	case logevent.SourceFile:
		fs := logevent.NewFileSource(cfg.FilePath, cfg.WaitForFile)
		fs.Logger = s.log.Named("file")
		return fs, nil
	case logevent.SourceDocker:
		d, err := s.dockerClient()
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := d.ContainerStatus(ctx, s.cfg.Engine.ContainerID)
		if err != nil {
			return nil, fmt.Errorf("inspect container %s: %w", s.cfg.Engine.ContainerID, err)
		}
		if status != "running" {
			s.log.Warn("container is not running, waiting for log output",
				zap.String("container", s.cfg.Engine.ContainerID), zap.String("status", status))
		}
		return logevent.NewDockerSource(d, s.cfg.Engine.ContainerID), nil
	case logevent.SourceWebhook:
		return logevent.NewHookSource(s.cfg.Hook.Buffer), nil
	}
	return nil, fmt.Errorf("unknown source mode %q", cfg.SourceMode)
}

func (s *Server) dockerClient() (*docker.Client, error) {
	if s.docker != nil {
		return s.docker, nil
	}
	d, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	s.docker = d
	return d, nil
}

func (s *Server) newRelay() *relay.Relay {
	rc := s.cfg.RCON
	opts := []relay.Option{
		relay.WithLogger(s.log.Named("rcon")),
		relay.WithRecorder(s.metrics),
	}
	if rc.DiscoverPort && s.cfg.Engine.ContainerID != "" {
		id := s.cfg.Engine.ContainerID
		opts = append(opts, relay.WithPortResolver(func(ctx context.Context) (int, error) {
			d, err := s.dockerClient()
			if err != nil {
				return 0, err
			}
			return d.PublishedPort(ctx, id, rc.Port)
		}))
	}
	return relay.New(relay.Config{
		Host:     rc.Host,
		Port:     rc.Port,
		Password: rc.Password,
		Timeout:  rc.Timeout,
		Debug:    rc.Debug,

		MaxFrameLength: rc.MaxFrameLength,
	}, opts...)
}

func (s *Server) routes(reg *prometheus.Registry, hook *logevent.HookSource) chi.Router {
	authSvc := auth.NewService(s.cfg.API.TokenHash)
	if !authSvc.Enabled() {
		s.log.Warn("api.tokenHash is not set, the API is open to anyone who can reach it")
	}

	var pinger api.Pinger
	if s.relay != nil {
		pinger = s.relay
	}
	healthHandler := api.NewHealthHandler(s.engine, pinger)
	eventsHandler := api.NewEventsHandler(s.hub, s.metrics.FeedSubscribers, s.log.Named("events"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(s.log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.API.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler.Get)
	if s.cfg.Metrics.Enable {
		r.Handle(s.cfg.Metrics.Path, metrics.Handler(reg))
	}

	if hook != nil {
		r.With(
			api.RateLimit(s.cfg.Hook.Rate, s.cfg.Hook.Burst, func() {
				s.metrics.HookRejected.WithLabelValues("rate").Inc()
			}),
			api.AuthMiddleware(authSvc),
		).Post("/minecraft/hook", hook.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.AuthMiddleware(authSvc))
		r.Get("/events", eventsHandler.Live)
		if s.relay != nil {
			r.Post("/messages", api.NewMessagesHandler(s.relay, s.log.Named("messages")).Send)
		}
	})
	return r
}

// Start begins delivering events. Source failures end delivery; watch Done.
func (s *Server) Start() error {
	if err := s.engine.Init(s.handle); err != nil {
		return err
	}
	s.metrics.EngineActive.Set(1)
	go func() {
		<-s.engine.Done()
		s.metrics.EngineActive.Set(0)
	}()
	return nil
}

func (s *Server) handle(line game.LogLine) {
	s.metrics.LinesTotal.Inc()
	s.dispatcher.Dispatch(line)
}

func (s *Server) Router() chi.Router {
	return s.router
}

// Done is closed when the engine stops, by Stop or by a source failure.
func (s *Server) Done() <-chan struct{} {
	return s.engine.Done()
}

// Err reports why the engine stopped, if it failed.
func (s *Server) Err() error {
	return s.engine.Err()
}

func (s *Server) Hub() *feed.Hub {
	return s.hub
}

func (s *Server) Stop() {
	if s.engine != nil {
		s.engine.Teardown()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	if s.docker != nil {
		s.docker.Close()
	}
}

// HTTPServer builds the listener-side http.Server for the router.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
