package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rickgao/ledgermux/internal/config"
	"github.com/rickgao/ledgermux/internal/factory"
	"github.com/rickgao/ledgermux/internal/server"
	"github.com/rickgao/ledgermux/internal/version"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the ledger and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	logger.Info("starting ledgermux",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"ledger", cfg.Ledger.URL,
		"global", cfg.Subscription.Global,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the admin server early so health reflects the connect phase.
	go func() {
		logger.Info("starting admin server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
			stop()
		}
	}()

	if err := a.connect(ctx); err != nil {
		shutdown(srv, a, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	created := a.createConfigured(ctx)
	logger.Info("ledgermux running",
		"proxies", created,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdown(srv, a, logger)
	logger.Info("ledgermux stopped")
	return nil
}

// handler mounts the admin API and the metrics endpoint.
func (a *app) handler() http.Handler {
	r := chi.NewRouter()
	server.New(a.factory, a.logger, a.cfg.Connection.RequestTimeout).Register(r)
	r.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return r
}

func shutdown(srv *http.Server, a *app, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("admin server shutdown", "error", err)
	}
	if err := a.factory.Disconnect(ctx); err != nil && !errors.Is(err, factory.ErrNotConnected) {
		logger.Warn("disconnect", "error", err)
	}
}
