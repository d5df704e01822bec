// Package main provides the entry point for the admin bot, which hands out
// per-event bot instances from a fixed pool of child accounts.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/martiert/bongbot/internal/admin"
	"github.com/martiert/bongbot/internal/bot"
	"github.com/martiert/bongbot/internal/config"
	"github.com/martiert/bongbot/internal/httpx"
	"github.com/martiert/bongbot/internal/singleinstance"
	"github.com/martiert/bongbot/internal/spark"
	"github.com/martiert/bongbot/internal/version"
)

func main() {
	// 1. Parse flags
	defaultConfig, err := config.DefaultAdminPath()
	if err != nil {
		log.Fatalf("Failed to resolve config directory: %v", err)
	}
	configPath := flag.String("config", defaultConfig, "path to the admin config file")
	bongbot := flag.String("bongbot", "bongbot", "path to the bongbot binary used for child instances")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 2. Single instance check. A second admin would fight this one over
	// the child pool and the shared webhook.
	if _, err := config.EnsureConfigDir(); err != nil {
		log.Fatalf("Failed to create config directory: %v", err)
	}
	lockPath, err := config.AdminLockPath()
	if err != nil {
		log.Fatalf("Failed to resolve lock path: %v", err)
	}
	release, ok, err := singleinstance.AcquireLock(lockPath)
	if err != nil {
		log.Fatalf("Failed to acquire lock: %v", err)
	}
	if !ok {
		log.Println("Another admin instance is already running")
		os.Exit(1)
	}
	defer release()

	// 3. Load and validate the admin config
	cfg, err := config.LoadAdmin(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 4. Build the provisioning pipeline
	client := spark.NewClient(cfg.Bot.Token, spark.WithLogger(logger))

	pool := admin.NewPool(cfg)
	launcher := admin.NewLauncher(*bongbot, admin.WithLauncherLogger(logger))
	supervisor := admin.NewSupervisor(client, pool, admin.WithSupervisorLogger(logger))
	ctrl := admin.NewController(cfg, pool, launcher, supervisor, client, client,
		admin.WithControllerLogger(logger))

	// 5. Wire the server: dialogue handlers plus the child proxy
	server := bot.NewServer(cfg.Bot, client, bot.WithLogger(logger))
	server.OnMembershipCreated(ctrl.HandleMembershipCreated)
	server.OnDefaultMessage(ctrl.HandleMessage)

	limiter := httpx.NewRateLimiter(httpx.DefaultRateLimiterConfig())
	defer limiter.Stop()
	proxy := admin.NewProxy(admin.WithProxyLogger(logger))
	proxy.Mount(server.Router(), limiter.Middleware)

	// 6. Register webhooks with the platform
	setupCtx, setupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = server.Setup(setupCtx)
	setupCancel()
	if err != nil {
		log.Fatalf("Failed to set up webhooks: %v", err)
	}

	// 7. Run until interrupted
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bongbot admin started",
			"version", version.String(),
			"addr", server.Addr(),
			"children", len(cfg.Children))
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
		logger.Info("shutting down")
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	}

	// 8. Tear down running instances, remove webhooks, stop serving
	supervisor.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Cleanup(shutdownCtx); err != nil {
		logger.Error("webhook cleanup failed", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("stopped")
}
