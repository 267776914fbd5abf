package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/auth"
	"github.com/reedfamily/mcbridge/internal/config"
	"github.com/reedfamily/mcbridge/internal/logging"
	"github.com/reedfamily/mcbridge/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default mcbridge.yaml in . or ./configs)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	newToken := flag.Bool("new-token", false, "print a fresh API token and its api.tokenHash value, then exit")
	flag.Parse()

	if *newToken {
		token, hash, err := auth.NewToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("token:     %s\ntokenHash: %s\n", token, hash)
		return
	}

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging, cfg.Engine.Debug || cfg.RCON.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	srv, err := server.New(cfg, log, server.WithStdin(os.Stdin))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Stop()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start log event engine: %w", err)
	}

	httpServer := srv.HTTPServer()
	errc := make(chan error, 1)
	go func() {
		log.Info("mcbridge listening",
			zap.String("addr", cfg.Listen),
			zap.String("source", cfg.Engine.SourceMode),
			zap.Bool("rcon", cfg.RCON.Enabled()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		runErr = fmt.Errorf("http server: %w", err)
	case <-srv.Done():
		runErr = srv.Err()
		if runErr != nil {
			runErr = fmt.Errorf("log event engine stopped: %w", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}
