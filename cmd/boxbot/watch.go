package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tradeforge/boxbot/pkg/engine"
	"github.com/tradeforge/boxbot/pkg/eventbus"
)

func watchCmd() *cobra.Command {
	var events []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream engine events from the Redis bus",
		Long: `watch subscribes to the Redis channels a running live session publishes
engine events on and prints each event to stdout as a JSON line. Useful for
tailing a session from another terminal or piping into a journal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus := eventbus.NewBus(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ChannelPrefix, "boxbot-watch", logger)
			defer bus.Close()
			if err := bus.HealthCheck(ctx); err != nil {
				return fmt.Errorf("connecting to Redis: %w", err)
			}

			printer := &envelopePrinter{out: os.Stdout}

			var wg sync.WaitGroup
			for _, eventType := range watchEventTypes(events) {
				wg.Add(1)
				go func(et string) {
					defer wg.Done()
					if err := bus.Subscribe(ctx, et, printer.handle); err != nil {
						logger.Warn("Subscription ended", "event_type", et, "error", err)
					}
				}(eventType)
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&events, "events", nil, "Event types to watch (default: all)")
	return cmd
}

// watchEventTypes expands an empty selection to every engine event type.
func watchEventTypes(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	return []string{
		string(engine.EventBoxFormed),
		string(engine.EventBoxInvalidated),
		string(engine.EventBreakoutRejected),
		string(engine.EventPositionOpened),
		string(engine.EventPositionClosed),
		string(engine.EventOrderFailed),
	}
}

// envelopePrinter writes received envelopes as JSON lines. Subscriptions run
// on separate goroutines, so writes are serialised.
type envelopePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *envelopePrinter) handle(_ context.Context, env *eventbus.Envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintln(p.out, string(line))
	return err
}
