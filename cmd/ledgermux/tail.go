package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/ledgermux/internal/config"
	"github.com/rickgao/ledgermux/internal/events"
)

func newTailCommand(configPath *string) *cobra.Command {
	var eventType string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Subscribe to every account and print events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), *configPath, eventType, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&eventType, "event", "e", events.Wildcard, "event type to print")
	return cmd
}

func runTail(parent context.Context, configPath, eventType string, out io.Writer) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Subscription.Global = true

	// Events go to out; logs go to stderr.
	logger := newLogger(cfg.Log, os.Stderr)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &eventWriter{enc: json.NewEncoder(out)}
	a.factory.On(eventType, w.write)

	if err := a.connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	logger.Info("tailing ledger events", "ledger", cfg.Ledger.URL, "event", eventType)

	<-ctx.Done()
	return a.factory.Disconnect(context.Background())
}

type eventLine struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Args     []any  `json:"args"`
}

// eventWriter serializes concurrent listener calls onto one encoder.
type eventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *eventWriter) write(_ context.Context, ev events.Event) error {
	line := eventLine{Type: ev.Type, Username: ev.Username, Args: ev.Args}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(line)
}
