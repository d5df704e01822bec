// Package main provides the entry point for a single event bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/martiert/bongbot/internal/bot"
	"github.com/martiert/bongbot/internal/config"
	"github.com/martiert/bongbot/internal/httpx"
	"github.com/martiert/bongbot/internal/ledger"
	"github.com/martiert/bongbot/internal/party"
	"github.com/martiert/bongbot/internal/qr"
	"github.com/martiert/bongbot/internal/spark"
	"github.com/martiert/bongbot/internal/version"
)

func main() {
	// 1. Parse flags
	defaultConfig, err := config.DefaultBotPath()
	if err != nil {
		log.Fatalf("Failed to resolve config directory: %v", err)
	}
	configPath := flag.String("config", defaultConfig, "path to the event config file")
	cleanup := flag.Bool("cleanup", false, "remove the config file on exit")
	owner := flag.String("owner", "", "email granted administrator rights in addition to the configured ones")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 2. Load the event config and run
	var runErr error
	cfg, err := config.LoadEvent(*configPath)
	if err != nil {
		runErr = fmt.Errorf("load config: %w", err)
	} else {
		if *owner != "" {
			cfg.Administrators = append(cfg.Administrators, regexp.QuoteMeta(*owner))
		}
		runErr = run(cfg, logger)
	}

	// Provisioned instances get a throwaway config file from the admin bot
	// and are responsible for removing it themselves, also when the config
	// is unreadable or a later step failed.
	if *cleanup {
		os.Remove(*configPath)
	}
	if runErr != nil {
		log.Fatalf("bongbot failed: %v", runErr)
	}
}

func run(cfg config.Event, logger *slog.Logger) error {
	// 3. Build the platform client and collaborators
	client := spark.NewClient(cfg.Bot.Token, spark.WithLogger(logger))

	renderer, err := qr.NewGenerator(cfg.Bongs.Background)
	if err != nil {
		return fmt.Errorf("load background image: %w", err)
	}

	ctrl, err := party.New(cfg, ledger.New(), party.Deps{
		Messenger: client,
		Directory: client,
		Roster:    client,
		Renderer:  renderer,
	}, party.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build event controller: %w", err)
	}

	// 4. Wire the server: webhook receiver, chat commands, redemption page
	server := bot.NewServer(cfg.Bot, client, bot.WithLogger(logger))
	if err := ctrl.Register(server); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	limiter := httpx.NewRateLimiter(httpx.DefaultRateLimiterConfig())
	defer limiter.Stop()
	ctrl.Mount(server.Router(), limiter.Middleware)

	// 5. Register webhooks with the platform
	setupCtx, setupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = server.Setup(setupCtx)
	setupCancel()
	if err != nil {
		return fmt.Errorf("set up webhooks: %w", err)
	}

	// 6. Run until interrupted
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bongbot started",
			"version", version.String(),
			"addr", server.Addr(),
			"room", cfg.Bongs.Room)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-done:
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	// 7. Remove webhooks and stop serving
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Cleanup(shutdownCtx); err != nil {
		logger.Error("webhook cleanup failed", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("stopped")
	return runErr
}
