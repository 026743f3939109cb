package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradeforge/boxbot/pkg/api"
	"github.com/tradeforge/boxbot/pkg/config"
	"github.com/tradeforge/boxbot/pkg/engine"
	"github.com/tradeforge/boxbot/pkg/eventbus"
	"github.com/tradeforge/boxbot/pkg/feed"
	"github.com/tradeforge/boxbot/pkg/risk"
	"github.com/tradeforge/boxbot/pkg/series"
	"github.com/tradeforge/boxbot/pkg/stats"
	"github.com/tradeforge/boxbot/pkg/types"
)

func liveCmd() *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run a live session against a WebSocket bar stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Feed.WSURL == "" {
				return fmt.Errorf("live mode requires feed.ws_url")
			}
			return runLive(cmd.Context(), cfg, logger, persist)
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "Save the session and its positions to Postgres on shutdown")
	return cmd
}

// liveSession owns the engine loop and the snapshot served by the API.
type liveSession struct {
	mu        sync.Mutex
	engine    *engine.Engine
	policy    *risk.SessionPolicy
	collector *stats.Collector
	bus       *eventbus.Bus
	logger    *slog.Logger

	firstBar time.Time
	lastBar  time.Time
}

func runLive(ctx context.Context, cfg *config.Config, logger *slog.Logger, persist bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := risk.NewSessionPolicy(
		cfg.Session.MaxDailyTrades,
		cfg.Session.MaxConsecutiveLosses,
		cfg.Session.TradingStartHour,
		cfg.Session.TradingEndHour,
		cfg.Session.Weekdays(),
		logger,
	)
	collector := stats.NewCollector(cfg.Account.Equity, cfg.Account.PointValue, version, logger)
	eng := engine.NewFromConfig(cfg, policy, engine.AcceptAll{}, logger)

	sess := &liveSession{
		engine:    eng,
		policy:    policy,
		collector: collector,
		logger:    logger,
	}

	// Event bus is best-effort: a dead Redis downgrades to local-only logging.
	bus := eventbus.NewBus(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ChannelPrefix, "boxbot", logger)
	if err := bus.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable, events will not be published", "error", err)
		bus.Close()
	} else {
		sess.bus = bus
		defer bus.Close()
	}

	if cfg.Feed.RESTURL != "" {
		if err := sess.backfill(ctx, cfg); err != nil {
			logger.Warn("Backfill failed, starting cold", "error", err)
		}
	}

	wsFeed := feed.NewWSFeed(cfg.Feed.WSURL, cfg.Feed.Symbol, cfg.Feed.BarInterval, logger)
	if err := wsFeed.Start(ctx); err != nil {
		return fmt.Errorf("starting bar feed: %w", err)
	}
	defer wsFeed.Close()

	srv := startAPI(cfg, collector, sess, logger)
	defer srv.Shutdown(context.Background()) //nolint:errcheck

	logger.Info("Live session started",
		"symbol", cfg.Feed.Symbol,
		"interval", cfg.Feed.BarInterval,
		"listen_addr", cfg.Service.ListenAddr,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return sess.shutdown(cfg, logger, persist)

		case err := <-wsFeed.Errors():
			logger.Warn("Feed error", "error", err)

		case bar, ok := <-wsFeed.Bars():
			if !ok {
				logger.Info("Bar feed closed")
				return sess.shutdown(cfg, logger, persist)
			}
			sess.step(ctx, bar)
		}
	}
}

// backfill warms the series with recent history so the trend and volatility
// indicators have data before the first live bar.
func (s *liveSession) backfill(ctx context.Context, cfg *config.Config) error {
	client := feed.NewRESTClient(cfg.Feed.RESTURL, &feed.RESTConfig{Logger: s.logger})

	// Enough history for the slowest indicator plus the detection window.
	need := cfg.Strategy.TrendPeriod + cfg.Strategy.ConsolidationPeriods + cfg.Strategy.ATRPeriod
	end := time.Now().UTC()
	start := end.Add(-time.Duration(need*2) * cfg.Feed.Interval())

	bars, err := client.GetBars(ctx, cfg.Feed.Symbol, cfg.Feed.BarInterval, start, end)
	if err != nil {
		return err
	}

	loaded := 0
	for _, bar := range bars {
		if _, err := s.engine.Step(bar); err != nil {
			if errors.Is(err, series.ErrOutOfOrder) || errors.Is(err, series.ErrMalformed) {
				continue
			}
			return err
		}
		loaded++
	}
	s.logger.Info("Backfill complete", "bars", loaded)
	return nil
}

// step advances the engine by one bar and fans out the resulting events.
func (s *liveSession) step(ctx context.Context, bar types.Bar) {
	s.mu.Lock()
	events, err := s.engine.Step(bar)
	if s.firstBar.IsZero() {
		s.firstBar = bar.Timestamp
	}
	s.lastBar = bar.Timestamp
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Bar rejected", "timestamp", bar.Timestamp, "error", err)
	}

	for _, ev := range events {
		switch ev.Type {
		case engine.EventPositionOpened:
			s.policy.RecordOpen(ev.Time)
		case engine.EventPositionClosed:
			s.collector.RecordClose(ev.Position)
			s.policy.RecordOutcome(ev.Position)
		case engine.EventBreakoutRejected:
			s.collector.RecordRejection(ev.Reason)
		}

		if s.bus != nil {
			if err := s.bus.Publish(ctx, ev); err != nil {
				s.logger.Warn("Event publish failed", "event_type", ev.Type, "error", err)
			}
		}
	}
}

// snapshot builds the point-in-time state served by the API.
func (s *liveSession) snapshot() api.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return api.EngineState{
		Box:          s.engine.Box(),
		OpenPosition: s.engine.OpenPosition(),
		BarCount:     s.engine.BarCount(),
	}
}

// shutdown flattens any open position at the last seen close and optionally
// persists the session.
func (s *liveSession) shutdown(cfg *config.Config, logger *slog.Logger, persist bool) error {
	s.mu.Lock()
	if pos := s.engine.OpenPosition(); pos != nil && !s.lastBar.IsZero() {
		// No fresh price at shutdown; the entry is the best known mark.
		if ev := s.engine.CloseManual(pos.EntryPrice, s.lastBar); ev != nil {
			s.collector.RecordClose(ev.Position)
		}
	}
	first, last := s.firstBar, s.lastBar
	s.mu.Unlock()

	summary := s.collector.Snapshot()
	logger.Info("Session summary",
		"trades", summary.TotalTrades,
		"win_rate", summary.WinRate,
		"net_profit", summary.NetProfit,
	)

	if !persist || first.IsZero() {
		return nil
	}
	return persistRun(context.Background(), cfg, logger, "live", first, last, summary, s.collector.Positions())
}

func startAPI(cfg *config.Config, collector *stats.Collector, sess *liveSession, logger *slog.Logger) *http.Server {
	apiServer := api.NewServer(collector, sess.snapshot, logger)
	apiServer.FeedConnected = true

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         cfg.Service.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", "error", err)
		}
	}()
	return srv
}
