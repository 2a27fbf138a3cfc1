package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baylabs/bay/internal/api"
	"github.com/baylabs/bay/internal/capability"
	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/driver/docker"
	"github.com/baylabs/bay/internal/idempotency"
	"github.com/baylabs/bay/internal/reaper"
	"github.com/baylabs/bay/internal/sandbox"
	"github.com/baylabs/bay/internal/session"
	"github.com/baylabs/bay/internal/store"
	"github.com/baylabs/bay/internal/workspace"
)

func main() {
	cfgPath := flag.String("config", "", "path to bay.yaml")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.APIKey == "" {
		logger.Warn("no API key configured — running in open access mode")
	}

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	drv, err := docker.New(cfg.Docker, logger)
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer drv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := drv.Ping(ctx); err != nil {
		logger.Error("docker ping failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("docker connection OK", "connect_mode", cfg.Docker.ConnectMode)

	workspaces := workspace.NewManager(st, drv, logger)
	sessions := session.NewManager(st, drv, logger)
	sandboxes := sandbox.NewManager(st, sessions, workspaces, cfg, logger)
	router := capability.NewRouter(sandboxes, logger)
	idem := idempotency.NewManager(st, cfg.Idempotency, logger)

	if cfg.Reaper.Enabled {
		rpr := reaper.New(sandboxes, idem, cfg.Reaper, logger)
		go rpr.Run(ctx)
	}

	srv := api.NewServer(cfg, sandboxes, router, idem, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // exec and readiness waits can be long
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  bay control plane ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
