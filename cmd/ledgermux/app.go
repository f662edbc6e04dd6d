package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/ledgermux/internal/api"
	"github.com/rickgao/ledgermux/internal/auth"
	"github.com/rickgao/ledgermux/internal/config"
	"github.com/rickgao/ledgermux/internal/connection"
	"github.com/rickgao/ledgermux/internal/factory"
	"github.com/rickgao/ledgermux/internal/metrics"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	factory  *factory.Factory
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	creds, err := auth.LoadCredentials(cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("load admin credentials: %w", err)
	}
	creds.Account = cfg.Admin.Account

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client := api.NewClient(
		cfg.Ledger.URL,
		creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Ledger.Timeout),
		api.WithRetries(cfg.Ledger.MaxRetries, time.Second),
	)

	adminCfg := adminConfig(cfg, creds)
	f := factory.New(
		factory.Config{
			Credentials:    creds,
			Global:         cfg.Subscription.Global,
			ResyncInterval: cfg.Subscription.ResyncInterval,
			// Existence check plus subscription sync.
			CreateTimeout: cfg.Ledger.Timeout + cfg.Connection.RequestTimeout,
		},
		func() factory.AdminConn {
			return connection.NewAdmin(adminCfg, client, logger, m)
		},
		client,
		factory.WithLogger(logger),
		factory.WithMetrics(m),
	)

	return &app{cfg: cfg, logger: logger, registry: reg, factory: f}, nil
}

func adminConfig(cfg *config.Config, creds *auth.Credentials) connection.AdminConfig {
	c := cfg.Connection
	return connection.AdminConfig{
		Credentials:       creds,
		Prefix:            cfg.Ledger.Prefix,
		WSURL:             cfg.Ledger.WSURL,
		RequestTimeout:    c.RequestTimeout,
		ReconnectBaseWait: c.ReconnectBaseDelay,
		ReconnectMaxWait:  c.ReconnectMaxDelay,
		QueueCapacity:     c.QueueCapacity,
		Client: connection.ClientConfig{
			PingInterval: c.PingInterval,
			PingTimeout:  c.PingTimeout,
			WriteTimeout: c.WriteTimeout,
			BufferSize:   c.BufferSize,
		},
	}
}

// connect retries the factory connection with exponential backoff until it
// succeeds or ctx ends.
func (a *app) connect(ctx context.Context) error {
	wait := a.cfg.Connection.ReconnectBaseDelay
	for attempt := 1; ; attempt++ {
		err := a.factory.Connect(ctx)
		if err == nil {
			return nil
		}
		a.logger.Warn("connect failed, retrying", "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, a.cfg.Connection.ReconnectMaxDelay)
	}
}

// createConfigured creates proxies for the usernames listed in the config.
// Failures are logged; a degraded proxy still counts as created.
func (a *app) createConfigured(ctx context.Context) int {
	created := 0
	for _, name := range a.cfg.Proxies {
		p, err := a.factory.Create(ctx, factory.CreateRequest{Username: name})
		if p != nil {
			created++
		}
		if err != nil {
			a.logger.Error("create configured proxy", "username", name, "error", err)
		}
	}
	return created
}
