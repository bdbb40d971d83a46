package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/crafthq/craft/internal/config"
	"github.com/crafthq/craft/internal/daemon"
	"github.com/crafthq/craft/internal/netutil"
	"github.com/crafthq/craft/internal/telemetry"
)

// Relay is the daemon process entrypoint, reached through the hidden
// `telemetry relay` subcommand of a detached re-exec. It reads its context
// from the environment the parent set, logs to the append-only daemon log,
// and runs the relay server until terminated.
func Relay() error {
	id := os.Getenv(daemon.EnvID)
	dir := os.Getenv(daemon.EnvWriteDir)
	if id == "" || dir == "" {
		return errors.New("telemetry relay must be spawned by craft, not run directly")
	}

	port := 0
	if v := os.Getenv(daemon.EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", daemon.EnvPort, err)
		}
		port = p
	}
	if port == 0 {
		port = netutil.DerivePort(id)
	}

	logPath := os.Getenv(daemon.EnvLogFile)
	if logPath == "" {
		logPath = filepath.Join(dir, id+".log")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags|log.Lmicroseconds)

	if ppid := os.Getenv(daemon.EnvCommandPID); ppid != "" {
		logger.Printf("spawned by craft pid %s", ppid)
	}

	cfg, err := loadRelayConfig(logger)
	if err != nil {
		return err
	}

	client := buildClient(cfg, logger)
	defer client.Close()

	srv := daemon.NewServer(daemon.ServerOptions{
		ID:            id,
		Dir:           dir,
		Port:          port,
		Client:        client,
		Logger:        logger,
		SweepInterval: time.Duration(cfg.Daemon.SweepIntervalSeconds) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Printf("relay server failed: %v", err)
		return err
	}
	logger.Printf("relay server exited cleanly")
	return nil
}

// loadRelayConfig loads the config inside the daemon process. A broken
// config degrades to defaults: the daemon must come up and drain even when
// the config file is unusable.
func loadRelayConfig(logger *log.Logger) (config.Config, error) {
	path, err := config.DefaultPath()
	if err != nil {
		logger.Printf("config path unavailable, using defaults: %v", err)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Printf("config unusable, using defaults: %v", err)
		return config.Default(), nil
	}
	return cfg, nil
}

// buildClient resolves the collector credential and picks the transport.
// Without one the disabled client is used, which discards drained events
// the same way a disabled writer discards them at the source.
func buildClient(cfg config.Config, logger *log.Logger) telemetry.Client {
	key, err := telemetry.ResolveAPIKey(cfg.Telemetry)
	if err != nil {
		logger.Printf("no collector credential, discarding drained events: %v", err)
		return telemetry.DisabledClient{}
	}
	return telemetry.NewHTTPClient(
		cfg.Collector.URL,
		key,
		time.Duration(cfg.Collector.TimeoutSeconds)*time.Second,
	)
}
