// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/web"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// sessionSweepInterval is how often expired sessions are purged.
const sessionSweepInterval = 1 * time.Hour

// newServeCmd creates the serve subcommand with all flags configured.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gatehouse web server",
		Long: `Start the web server: landing page, login, logout, sign-up, and the
session-gated restricted page. Sessions and credentials live in PostgreSQL
so they survive process restarts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("listen-addr", config.DefaultListenAddr, "web server listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")

	return cmd
}

// runServe wires the dependencies and serves until interrupted.
func runServe(ctx context.Context, cfg *config.Config) error {
	logging.SetDefault("gatehouse", version, cfg.LogFormat)

	slog.Info("starting gatehouse",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"log_format", cfg.LogFormat,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	slog.Info("database connected")

	minter, err := auth.NewTokenMinter(cfg.SessionSecret)
	if err != nil {
		return err
	}

	users := authpg.NewUserRepository(pool)
	sessions := authpg.NewSessionRepository(pool)

	svc, err := auth.NewService(users, sessions, auth.NewArgon2idHasher(), minter)
	if err != nil {
		return err
	}

	gate, err := auth.NewGate(svc, "/")
	if err != nil {
		return err
	}

	// Observability server (optional)
	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrCh, obsErr := obsServer.Start()
		if obsErr != nil {
			return obsErr
		}
		metrics = obsServer.Metrics()
		go func() {
			if serveErr := <-obsErrCh; serveErr != nil {
				slog.Error("observability server failed", "error", serveErr)
				cancel()
			}
		}()
	}

	webServer, err := web.NewServer(cfg.ListenAddr, svc, gate, metrics, slog.Default())
	if err != nil {
		return err
	}
	webErrCh, err := webServer.Start()
	if err != nil {
		return err
	}
	go func() {
		if serveErr := <-webErrCh; serveErr != nil {
			slog.Error("web server failed", "error", serveErr)
			cancel()
		}
	}()

	// Purge expired sessions in the background.
	go sweepSessions(ctx, sessions)

	// Wait for shutdown signal or server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		errutil.LogError(slog.Default(), "stop web server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(slog.Default(), "stop observability server", err)
		}
	}

	slog.Info("gatehouse stopped")
	return nil
}

// sweepSessions periodically deletes expired sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions auth.SessionRepository) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := sessions.DeleteExpired(ctx)
			if err != nil {
				errutil.LogError(slog.Default(), "sweep expired sessions", err)
				continue
			}
			if count > 0 {
				slog.Info("expired sessions purged", "count", count)
			}
		}
	}
}
